package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mtlprog/deepflow/internal/domain"
)

// ErrMalformedResponse is returned when the model's reply is not the expected JSON.
var ErrMalformedResponse = errors.New("malformed classifier response")

const systemPrompt = `You triage incoming work messages for a person protecting their focus.
Rate urgency from 0 (noise) to 10 (critical failure, legal or health emergency).
Map urgency to category exactly: 10-9 critical, 8-6 urgent, 5-4 standard, 3-2 low, 1-0 discard.
The user is currently in %s state: FLOW is deep focus, SHALLOW is light work, IDLE is available.
Reply with one JSON object and nothing else:
{"urgency_score": int, "category": string, "summary": string (max 200 chars),
 "suggested_action": string (max 300 chars), "estimated_time_minutes": int,
 "context_tags": [string]}`

// OpenAI classifies messages with an OpenAI-compatible chat completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// OpenAIOption configures an OpenAI classifier.
type OpenAIOption func(*OpenAI)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAI) { o.client = c }
}

// NewOpenAI creates a classifier calling baseURL/chat/completions with model.
func NewOpenAI(apiKey, baseURL, model string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// rawClassification is the model's reply as it arrives on the wire.
type rawClassification struct {
	UrgencyScore         *int     `json:"urgency_score"`
	Category             string   `json:"category"`
	Summary              string   `json:"summary"`
	SuggestedAction      string   `json:"suggested_action"`
	EstimatedTimeMinutes int      `json:"estimated_time_minutes"`
	ContextTags          []string `json:"context_tags"`
}

// Classify sends req to the model and parses its reply.
func (o *OpenAI) Classify(ctx context.Context, req Request) (domain.Classification, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, req.State)},
			{Role: "user", Content: fmt.Sprintf("From: %s (via %s)\n\nMessage:\n%s", req.Sender, req.Source, req.Content)},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("encode classifier request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.Classification{}, fmt.Errorf("build classifier request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Classification{}, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Classification{}, fmt.Errorf("classifier returned %d: %s",
			resp.StatusCode, domain.Truncate(string(respBody), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return domain.Classification{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(chat.Choices) == 0 {
		return domain.Classification{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	return ParseReply(chat.Choices[0].Message.Content)
}

// ParseReply decodes the model's JSON reply, tolerating a markdown code fence.
func ParseReply(content string) (domain.Classification, error) {
	content = stripFence(content)

	var raw rawClassification
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return domain.Classification{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.UrgencyScore == nil {
		return domain.Classification{}, fmt.Errorf("%w: missing urgency_score", ErrMalformedResponse)
	}

	return domain.Classification{
		Urgency:          *raw.UrgencyScore,
		Category:         domain.Category(strings.ToLower(strings.TrimSpace(raw.Category))),
		Summary:          raw.Summary,
		SuggestedAction:  raw.SuggestedAction,
		EstimatedMinutes: raw.EstimatedTimeMinutes,
		ContextTags:      raw.ContextTags,
	}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
