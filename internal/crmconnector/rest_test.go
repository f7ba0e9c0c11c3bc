package crmconnector

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/connector"
)

type fakeDoer struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) { return f.fn(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestFindContactByEmail_Success(t *testing.T) {
	r := New("https://crm.example.com", "key-1")
	r.SetHTTPClient(&fakeDoer{fn: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer key-1", req.Header.Get("Authorization"))
		assert.Contains(t, req.URL.String(), "/contacts?email=ann%40acme.com")
		return jsonResponse(200, `{"id":"c-1","email":"ann@acme.com","name":"Ann","company_id":"co-1"}`), nil
	}})

	contact, err := r.FindContactByEmail(context.Background(), "ann@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "c-1", contact.ID)
	assert.Equal(t, "co-1", contact.CompanyID)
}

func TestFindContactByEmail_NotFound(t *testing.T) {
	r := New("https://crm.example.com", "key-1")
	r.SetHTTPClient(&fakeDoer{fn: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(404, ``), nil
	}})

	_, err := r.FindContactByEmail(context.Background(), "missing@acme.com")
	var cerr *connector.ConnectorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, connector.KindNotFound, cerr.Kind)
}

func TestDo_AuthExpiredOnUnauthorized(t *testing.T) {
	r := New("https://crm.example.com", "stale-key")
	r.SetHTTPClient(&fakeDoer{fn: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(401, ``), nil
	}})

	_, err := r.FindCompanyByDomain(context.Background(), "acme.com")
	var cerr *connector.ConnectorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, connector.KindAuthExpired, cerr.Kind)
}

func TestDo_RateLimited(t *testing.T) {
	r := New("https://crm.example.com", "key-1")
	r.SetHTTPClient(&fakeDoer{fn: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(429, ``), nil
	}})

	_, err := r.Associations(context.Background(), "c-1")
	var cerr *connector.ConnectorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, connector.KindRateLimited, cerr.Kind)
}

func TestDo_TransientOn5xx(t *testing.T) {
	r := New("https://crm.example.com", "key-1")
	r.SetHTTPClient(&fakeDoer{fn: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(503, ``), nil
	}})

	_, err := r.CreateTask(context.Background(), "c-1", "Follow up", time.Now())
	var cerr *connector.ConnectorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, connector.KindTransient, cerr.Kind)
}

func TestUpdateTask_SendsPatchWithStatus(t *testing.T) {
	r := New("https://crm.example.com", "key-1")
	var gotMethod, gotPath string
	var gotBody string
	r.SetHTTPClient(&fakeDoer{fn: func(req *http.Request) (*http.Response, error) {
		gotMethod = req.Method
		gotPath = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		return jsonResponse(200, `{}`), nil
	}})

	err := r.UpdateTask(context.Background(), "task-1", "completed")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/tasks/task-1", gotPath)
	assert.Contains(t, gotBody, `"completed"`)
}
