package imagegen

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

const (
	defaultTimeout = 120 * time.Second
	toolName       = "generate_card_image"

	// moderationSignal is the substring the service embeds in error
	// envelopes when the content-safety filter rejects a request.
	moderationSignal = "moderation_blocked"
)

// Options controls how the content-generation client is configured.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client calls the content-generation collaborator, one request per
// (card, section) pair.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// GenerateRequest describes one image-generation invocation.
type GenerateRequest struct {
	Prompts      []string `json:"prompts"`
	ModelVersion string   `json:"model_version"`
	AspectRatio  string   `json:"aspect_ratio"`
	Quality      string   `json:"quality"`
	InputImages  []string `json:"input_images,omitempty"`
}

type toolEnvelope struct {
	ToolName  string          `json:"tool_name"`
	Arguments GenerateRequest `json:"arguments"`
}

type generateResponse struct {
	Status  string `json:"status"`
	Results []struct {
		URL string `json:"url"`
	} `json:"results"`
	Error struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a content-generation client with sane defaults.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  strings.TrimSpace(opts.APIKey),
		client:  client,
	}
}

// Generate submits the prompts and returns one asset URL per prompt.
// A moderation rejection is reported as domain.ErrModerationBlocked so the
// caller can run the rewrite-and-retry loop.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]string, error) {
	if len(req.Prompts) == 0 {
		return nil, errors.New("imagegen: at least one prompt is required")
	}
	body, err := json.Marshal(toolEnvelope{ToolName: toolName, Arguments: req})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: imagegen: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode imagegen response: %v", domain.ErrTransport, err)
	}

	if moderated(out) {
		return nil, fmt.Errorf("%w: %s", domain.ErrModerationBlocked, out.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest || out.Status == "error" {
		if out.Error.Message != "" {
			return nil, fmt.Errorf("imagegen error: %s (%s)", out.Error.Message, out.Error.Code)
		}
		return nil, fmt.Errorf("%w: imagegen status %d", domain.ErrTransport, resp.StatusCode)
	}

	urls := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		if strings.TrimSpace(r.URL) == "" {
			return nil, errors.New("imagegen: result missing asset url")
		}
		urls = append(urls, r.URL)
	}
	if len(urls) != len(req.Prompts) {
		return nil, fmt.Errorf("imagegen: got %d assets for %d prompts", len(urls), len(req.Prompts))
	}
	return urls, nil
}

// moderated inspects the error envelope for the content-safety signal. The
// service is not consistent about where it places the marker, so both the
// code field and the message text are checked.
func moderated(resp generateResponse) bool {
	if strings.EqualFold(strings.TrimSpace(resp.Error.Code), moderationSignal) {
		return true
	}
	return strings.Contains(strings.ToLower(resp.Error.Message), moderationSignal)
}
