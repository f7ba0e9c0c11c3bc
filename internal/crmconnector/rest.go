// Package crmconnector implements connector.CRMConnector against a
// generic REST CRM API (HubSpot-shaped endpoints), using an
// authenticated-request pattern built on internal/pkg/httpretry.
package crmconnector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/pkg/httpretry"
)

// REST is a connector.CRMConnector backed by an authenticated JSON API.
type REST struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// New creates a REST-backed CRMConnector. The retry policy uses a
// 60s base delay, up to 3 attempts, with jitter.
func New(baseURL, apiKey string) *REST {
	return &REST{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: httpretry.NewRetryClientWithBackoff(&http.Client{Timeout: 30 * time.Second}, 3, 60*time.Second, 180*time.Second),
	}
}

// SetHTTPClient overrides the transport, used by tests.
func (r *REST) SetHTTPClient(c httpretry.HTTPDoer) { r.httpClient = c }

func (r *REST) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "crm", Op: path, Err: err}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "crm", Op: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &connector.ConnectorError{Kind: connector.KindTransient, Provider: "crm", Op: path, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &connector.ConnectorError{Kind: connector.KindAuthExpired, Provider: "crm", Op: path}
	case resp.StatusCode == http.StatusNotFound:
		return &connector.ConnectorError{Kind: connector.KindNotFound, Provider: "crm", Op: path}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &connector.ConnectorError{Kind: connector.KindRateLimited, Provider: "crm", Op: path}
	case resp.StatusCode >= 500:
		return &connector.ConnectorError{Kind: connector.KindTransient, Provider: "crm", Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "crm", Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "crm", Op: path, Err: err}
		}
	}
	return nil
}

type contactResp struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	CompanyID   string            `json:"company_id"`
	ExternalIDs map[string]string `json:"external_ids"`
}

// FindContactByEmail looks up a CRM contact by email address.
func (r *REST) FindContactByEmail(ctx context.Context, email string) (*connector.CRMContact, error) {
	var out contactResp
	if err := r.do(ctx, http.MethodGet, "/contacts?email="+url.QueryEscape(email), nil, &out); err != nil {
		return nil, err
	}
	return &connector.CRMContact{ID: out.ID, Email: out.Email, Name: out.Name, CompanyID: out.CompanyID, ExternalIDs: out.ExternalIDs}, nil
}

type companyResp struct {
	ID       string   `json:"id"`
	Domain   string   `json:"domain"`
	Name     string   `json:"name"`
	ICPScore *float64 `json:"icp_score"`
}

// FindCompanyByDomain looks up a CRM company/account by domain.
func (r *REST) FindCompanyByDomain(ctx context.Context, domain string) (*connector.CRMCompany, error) {
	var out companyResp
	if err := r.do(ctx, http.MethodGet, "/companies?domain="+url.QueryEscape(domain), nil, &out); err != nil {
		return nil, err
	}
	return &connector.CRMCompany{ID: out.ID, Domain: out.Domain, Name: out.Name, ICPScore: out.ICPScore}, nil
}

// Associations returns deal and task ids linked to a contact.
func (r *REST) Associations(ctx context.Context, contactID string) (*connector.CRMAssociations, error) {
	var out struct {
		DealIDs []string `json:"deal_ids"`
		TaskIDs []string `json:"task_ids"`
	}
	if err := r.do(ctx, http.MethodGet, "/contacts/"+contactID+"/associations", nil, &out); err != nil {
		return nil, err
	}
	return &connector.CRMAssociations{DealIDs: out.DealIDs, TaskIDs: out.TaskIDs}, nil
}

// CreateTask creates a CRM follow-up task due at the given time.
func (r *REST) CreateTask(ctx context.Context, contactID, title string, dueAt time.Time) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]interface{}{"contact_id": contactID, "title": title, "due_at": dueAt.UTC().Format(time.RFC3339)}
	if err := r.do(ctx, http.MethodPost, "/tasks", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdateTask changes a task's status.
func (r *REST) UpdateTask(ctx context.Context, taskID, status string) error {
	return r.do(ctx, http.MethodPatch, "/tasks/"+taskID, map[string]string{"status": status}, nil)
}

// DeleteTask removes a task (used by the executor's rollback path).
func (r *REST) DeleteTask(ctx context.Context, taskID string) error {
	return r.do(ctx, http.MethodDelete, "/tasks/"+taskID, nil, nil)
}

// UpdateDeal patches arbitrary deal fields.
func (r *REST) UpdateDeal(ctx context.Context, dealID string, fields map[string]interface{}) error {
	return r.do(ctx, http.MethodPatch, "/deals/"+dealID, fields, nil)
}
