package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cfd-trader/internal/domain"
)

// DefaultEndpoint is the OpenAI chat-completions URL.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

const (
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 20 * time.Second
	maxExplanationChars = 400
)

const systemPrompt = "You are a trading assistant. Given the indicators, rate short-term bias.\n" +
	"Output STRICT JSON with fields: label (bullish|bearish|neutral), " +
	"score (0..1 where 1 is strong confidence in the label), explanation (<=2 sentences)."

// OpenAIClient implements Oracle against the chat-completions API with a
// strict-JSON response contract.
type OpenAIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

var _ Oracle = (*OpenAIClient)(nil)

// OpenAIOption configures OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithEndpoint overrides the completions URL.
func WithEndpoint(u string) OpenAIOption {
	return func(c *OpenAIClient) { c.endpoint = u }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.client = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAIClient) { c.client.Timeout = d }
}

// WithModel sets the model name.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) { c.model = model }
}

// NewOpenAIClient creates an oracle backed by the OpenAI API.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type sentimentPayload struct {
	Label       string   `json:"label"`
	Score       *float64 `json:"score"`
	Explanation string   `json:"explanation"`
}

// Score asks the model to rate the indicators and normalizes the answer:
// unknown labels become neutral, the score clamps to [0,1], and the
// explanation truncates. Every failure path returns an error so the gate
// treats the answer as unavailable.
func (c *OpenAIClient) Score(ctx context.Context, req Request) (*domain.SentimentResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("sentiment: no API key configured")
	}

	facts, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment: marshal facts: %w", err)
	}
	userMsg := "Indicators:\n" + string(facts) + "\n" +
		"Consider typical meanings: price vs SMA20 and RSI(14) thresholds around 30/70. " +
		"Return ONLY JSON."

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMsg},
		},
		Temperature:    0.2,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("sentiment: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sentiment: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sentiment: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sentiment: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment: status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("sentiment: decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("sentiment: response has no choices")
	}

	var payload sentimentPayload
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("sentiment: model returned non-JSON content: %w", err)
	}

	return normalize(payload), nil
}

func normalize(p sentimentPayload) *domain.SentimentResult {
	label := strings.ToLower(p.Label)
	switch label {
	case domain.SentimentBullish, domain.SentimentBearish, domain.SentimentNeutral:
	default:
		label = domain.SentimentNeutral
	}

	score := 0.0
	if p.Score != nil {
		score = *p.Score
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	expl := p.Explanation
	if len(expl) > maxExplanationChars {
		expl = expl[:maxExplanationChars]
	}

	return &domain.SentimentResult{Label: label, Score: score, Explanation: expl}
}
