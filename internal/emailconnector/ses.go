// Package emailconnector implements connector.EmailConnector. Sending
// goes through AWS SES v2. SES has no native concept of a draft or a searchable
// thread, so both are modeled in a DynamoDB single-table index, grounded
// on internal/kanban/client.go's PK/SK item layout.
package emailconnector

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"

	"github.com/ignite/caseyos/internal/connector"
)

// threadItem is the DynamoDB item shape for a stored thread/message,
// PK="THREAD#<contact-email>", SK="MSG#<sent-at>#<id>".
type threadItem struct {
	PK        string            `dynamodbav:"PK"`
	SK        string            `dynamodbav:"SK"`
	ThreadID  string            `dynamodbav:"thread_id"`
	Subject   string            `dynamodbav:"subject"`
	From      string            `dynamodbav:"from"`
	To        []string          `dynamodbav:"to"`
	Body      string            `dynamodbav:"body"`
	Headers   map[string]string `dynamodbav:"headers"`
	SentAtRFC string            `dynamodbav:"sent_at"`
}

// draftItem is a pending (not-yet-sent) draft, PK="DRAFT#<id>", SK="DRAFT".
type draftItem struct {
	PK      string            `dynamodbav:"PK"`
	SK      string            `dynamodbav:"SK"`
	To      string            `dynamodbav:"to"`
	Subject string            `dynamodbav:"subject"`
	Body    string            `dynamodbav:"body"`
	Headers map[string]string `dynamodbav:"headers"`
}

// SES is a connector.EmailConnector backed by AWS SESv2 for delivery and
// DynamoDB for draft staging and thread lookup.
type SES struct {
	ses        *sesv2.Client
	ddb        *dynamodb.Client
	tableName  string
	fromAddr   string
	configSet  string
}

// New creates an SES-backed EmailConnector. sesClient and ddbClient are
// pre-configured by the caller (see cmd/server's AWS config wiring).
func New(sesClient *sesv2.Client, ddbClient *dynamodb.Client, tableName, fromAddr, configSet string) *SES {
	return &SES{ses: sesClient, ddb: ddbClient, tableName: tableName, fromAddr: fromAddr, configSet: configSet}
}

// SearchThreads looks up prior messages to/from the given "from:<email>"
// style query against the DynamoDB thread index. Only the "from:" query
// form used by the draft orchestrator is supported;
// anything else returns an empty result rather than erroring, matching
// the orchestrator's "empty OK" failure policy.
func (s *SES) SearchThreads(ctx context.Context, query string, limit int) ([]connector.EmailThread, error) {
	email, ok := parseFromQuery(query)
	if !ok {
		return nil, nil
	}
	out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: "THREAD#" + email},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindTransient, Provider: "ses", Op: "search_threads", Err: err}
	}

	byThread := map[string]*connector.EmailThread{}
	var order []string
	for _, item := range out.Items {
		var it threadItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			continue
		}
		t, ok := byThread[it.ThreadID]
		if !ok {
			t = &connector.EmailThread{ID: it.ThreadID, Subject: it.Subject, Headers: it.Headers}
			byThread[it.ThreadID] = t
			order = append(order, it.ThreadID)
		}
		sentAt, _ := time.Parse(time.RFC3339Nano, it.SentAtRFC)
		t.Messages = append(t.Messages, connector.EmailMessage{
			From: it.From, To: it.To, Body: it.Body, SentAt: sentAt,
		})
	}

	threads := make([]connector.EmailThread, 0, len(order))
	for _, id := range order {
		threads = append(threads, *byThread[id])
	}
	return threads, nil
}

// GetThread fetches a single thread by id.
func (s *SES) GetThread(ctx context.Context, id string) (*connector.EmailThread, error) {
	out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("thread_id-index"),
		KeyConditionExpression: aws.String("thread_id = :tid"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":tid": &ddbtypes.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindTransient, Provider: "ses", Op: "get_thread", Err: err}
	}
	if len(out.Items) == 0 {
		return nil, &connector.ConnectorError{Kind: connector.KindNotFound, Provider: "ses", Op: "get_thread"}
	}

	thread := &connector.EmailThread{ID: id}
	for _, item := range out.Items {
		var it threadItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			continue
		}
		thread.Subject = it.Subject
		thread.Headers = it.Headers
		sentAt, _ := time.Parse(time.RFC3339Nano, it.SentAtRFC)
		thread.Messages = append(thread.Messages, connector.EmailMessage{From: it.From, To: it.To, Body: it.Body, SentAt: sentAt})
	}
	return thread, nil
}

// CreateDraft stages a draft in DynamoDB and returns its external id. SES
// has no draft concept; staging locally lets the executor dry-run render
// the artifact without sending.
func (s *SES) CreateDraft(ctx context.Context, to, subject, body string, threadHeaders map[string]string) (string, error) {
	id := uuid.New().String()
	item := draftItem{PK: "DRAFT#" + id, SK: "DRAFT", To: to, Subject: subject, Body: body, Headers: threadHeaders}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return "", &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "ses", Op: "create_draft", Err: err}
	}
	if _, err := s.ddb.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av}); err != nil {
		return "", &connector.ConnectorError{Kind: connector.KindTransient, Provider: "ses", Op: "create_draft", Err: err}
	}
	return id, nil
}

// Send delivers a previously staged draft via SES and records it in the
// thread index.
func (s *SES) Send(ctx context.Context, externalDraftID string) (*connector.SendResult, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: "DRAFT#" + externalDraftID},
			"SK": &ddbtypes.AttributeValueMemberS{Value: "DRAFT"},
		},
	})
	if err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindTransient, Provider: "ses", Op: "send", Err: err}
	}
	if out.Item == nil {
		return nil, &connector.ConnectorError{Kind: connector.KindNotFound, Provider: "ses", Op: "send"}
	}
	var draft draftItem
	if err := attributevalue.UnmarshalMap(out.Item, &draft); err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "ses", Op: "send", Err: err}
	}

	sendOut, err := s.ses.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromAddr),
		Destination:      &sestypes.Destination{ToAddresses: []string{draft.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(draft.Subject)},
				Body:    &sestypes.Body{Text: &sestypes.Content{Data: aws.String(draft.Body)}},
			},
		},
		ConfigurationSetName: configSetOrNil(s.configSet),
	})
	if err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindTransient, Provider: "ses", Op: "send", Err: err}
	}

	messageID := aws.ToString(sendOut.MessageId)
	threadID := messageID

	thread := threadItem{
		PK: "THREAD#" + draft.To, SK: fmt.Sprintf("MSG#%s#%s", time.Now().UTC().Format(time.RFC3339Nano), messageID),
		ThreadID: threadID, Subject: draft.Subject, From: s.fromAddr, To: []string{draft.To}, Body: draft.Body,
		Headers: draft.Headers, SentAtRFC: time.Now().UTC().Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(thread)
	if err == nil {
		_, _ = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av})
	}

	_, _ = s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: "DRAFT#" + externalDraftID},
			"SK": &ddbtypes.AttributeValueMemberS{Value: "DRAFT"},
		},
	})

	return &connector.SendResult{MessageID: messageID, ThreadID: threadID}, nil
}

// DeleteDraft removes a staged draft without sending it.
func (s *SES) DeleteDraft(ctx context.Context, externalDraftID string) error {
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: "DRAFT#" + externalDraftID},
			"SK": &ddbtypes.AttributeValueMemberS{Value: "DRAFT"},
		},
	})
	if err != nil {
		return &connector.ConnectorError{Kind: connector.KindTransient, Provider: "ses", Op: "delete_draft", Err: err}
	}
	return nil
}

func configSetOrNil(name string) *string {
	if name == "" {
		return nil
	}
	return aws.String(name)
}

func parseFromQuery(query string) (string, bool) {
	const prefix = "from:"
	if len(query) <= len(prefix) || query[:len(prefix)] != prefix {
		return "", false
	}
	return query[len(prefix):], true
}
