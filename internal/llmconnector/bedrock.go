// Package llmconnector implements connector.LLMConnector against AWS
// Bedrock's Claude models using InvokeModel with the Claude Messages
// request body.
package llmconnector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/pkg/logger"
)

const defaultModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// bedrockMessage is one turn in the Claude Messages API request.
type bedrockMessage struct {
	Role    string                 `json:"role"`
	Content []bedrockContentBlock  `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Bedrock is an LLMConnector backed by AWS Bedrock's InvokeModel API.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// New creates a Bedrock-backed LLMConnector. client is a pre-configured
// bedrockruntime.Client (region and credentials resolved by the caller via
// aws-sdk-go-v2/config, as production main() does for every AWS service).
func New(client *bedrockruntime.Client, modelID string) *Bedrock {
	if modelID == "" {
		modelID = defaultModelID
	}
	return &Bedrock{client: client, modelID: modelID}
}

// Generate implements connector.LLMConnector. Transient Bedrock errors are
// surfaced as connector.ConnectorError{Kind: KindTransient} so the draft
// orchestrator's step 9 retry policy applies.
func (b *Bedrock) Generate(ctx context.Context, prompt string, opts connector.GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           opts.System,
		Temperature:      opts.Temperature,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: prompt}}},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "bedrock", Op: "generate", Err: err}
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		logger.Warn("bedrock invoke failed", "model", b.modelID, "error", err.Error())
		return "", &connector.ConnectorError{Kind: connector.KindTransient, Provider: "bedrock", Op: "generate", Err: err}
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "bedrock", Op: "generate", Err: err}
	}

	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

// Summarize asks the model for a bounded-length summary of text.
func (b *Bedrock) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	if maxWords <= 0 {
		maxWords = 60
	}
	prompt := fmt.Sprintf("Summarize the following in at most %d words. Respond with only the summary.\n\n%s", maxWords, text)
	return b.Generate(ctx, prompt, connector.GenerateOptions{MaxTokens: 256, Temperature: 0.2})
}
