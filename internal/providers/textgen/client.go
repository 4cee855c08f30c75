package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cardsmith/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Options controls how the text-generation client is configured.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Client calls the text-generation collaborator. It is used both for prompt
// synthesis and for moderation-safe prompt rewrites.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// Message is one conversational turn sent to the service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call. When JSONSchema is set the
// service is asked to return schema-shaped JSON; the response may still
// arrive as a JSON-encoded string needing a second decode pass.
type Request struct {
	Messages     []Message       `json:"messages"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Model        string          `json:"model"`
	JSONSchema   json.RawMessage `json:"json_schema,omitempty"`
}

type completionResponse struct {
	Content string `json:"content"`
	Error   struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a text-generation client with sane defaults.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "text-gen-medium"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		client:  client,
	}
}

// Complete submits the request and returns the raw text content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: textgen: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("%w: textgen status %d", domain.ErrTransport, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: decode textgen response: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error.Message != "" {
			return "", fmt.Errorf("%w: textgen status %d: %s", domain.ErrTransport, resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("%w: textgen status %d", domain.ErrTransport, resp.StatusCode)
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", errors.New("textgen: empty completion")
	}
	return out.Content, nil
}

// DecodeJSON defensively parses a completion into out. It strips markdown
// code fences, trims to the outermost JSON fragment, and retries once when
// the payload arrives as a JSON-encoded string.
func DecodeJSON(raw string, out any) error {
	text := trimCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return errors.New("textgen: empty payload")
	}
	if strings.HasPrefix(text, `"`) {
		var wrapped string
		if err := json.Unmarshal([]byte(text), &wrapped); err == nil {
			text = strings.TrimSpace(wrapped)
		}
	}
	cleaned := extractJSONFragment(text)
	if cleaned == "" {
		return errors.New("textgen: empty payload")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("textgen: payload is not JSON (%s): %w", snippet(cleaned), err)
	}
	return nil
}

func extractJSONFragment(text string) string {
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func snippet(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
