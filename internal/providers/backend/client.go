package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardsmith/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Options controls how the backend client is configured.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to the job-tracking and card-storage backend. The engine only
// sees this boundary; the backend's storage technology is its own business.
type Client struct {
	baseURL string
	client  *http.Client
}

// StatusResponse mirrors GET /v1/job-status/{id}.
type StatusResponse struct {
	Status   domain.JobStatus `json:"status"`
	CardData []domain.Card    `json:"card_data,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// StoreCardRequest mirrors POST /v1/cards/store.
type StoreCardRequest struct {
	Prompt           string                 `json:"prompt"`
	FrontCover       string                 `json:"frontCover"`
	BackCover        string                 `json:"backCover"`
	LeftPage         string                 `json:"leftPage,omitempty"`
	RightPage        string                 `json:"rightPage,omitempty"`
	GeneratedPrompts *domain.SectionPrompts `json:"generatedPrompts,omitempty"`
}

type storeCardResponse struct {
	ShareURL string `json:"share_url"`
}

type createJobRequest struct {
	ID        string            `json:"id"`
	Payload   domain.JobPayload `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}

type storeResultRequest struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	CardData []domain.Card    `json:"card_data,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type uploadAssetRequest struct {
	Key  string `json:"key"`
	MIME string `json:"mime"`
	Data string `json:"data"`
}

type uploadAssetResponse struct {
	URL string `json:"url"`
}

// NewClient constructs a backend client with sane defaults.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
	}
}

// CreateJob registers a freshly submitted job.
func (c *Client) CreateJob(ctx context.Context, job *domain.Job) error {
	req := createJobRequest{ID: job.ID, Payload: job.Payload, CreatedAt: job.CreatedAt}
	return c.post(ctx, "/v1/jobs", req, nil)
}

// Status polls the job status endpoint.
func (c *Client) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/job-status/%s", c.baseURL, url.PathEscape(jobID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: job status: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: job status %d", domain.ErrTransport, resp.StatusCode)
	}
	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode job status: %v", domain.ErrTransport, err)
	}
	return &out, nil
}

// StoreResult writes a terminal job outcome.
func (c *Client) StoreResult(ctx context.Context, jobID string, status domain.JobStatus, cards []domain.Card, errMsg string) error {
	req := storeResultRequest{JobID: jobID, Status: status, CardData: cards, Error: errMsg}
	return c.post(ctx, "/v1/store-job-result", req, nil)
}

// StoreCard submits a completed card and returns its canonical share URL.
func (c *Client) StoreCard(ctx context.Context, req StoreCardRequest) (string, error) {
	var out storeCardResponse
	if err := c.post(ctx, "/v1/cards/store", req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ShareURL) == "" {
		return "", fmt.Errorf("cards/store returned empty share_url")
	}
	return out.ShareURL, nil
}

// UploadAsset stores raw asset bytes and returns the served URL. Used by the
// finalization pipeline for the stamped back cover.
func (c *Client) UploadAsset(ctx context.Context, key, mime string, data []byte) (string, error) {
	req := uploadAssetRequest{Key: key, MIME: mime, Data: base64.StdEncoding.EncodeToString(data)}
	var out uploadAssetResponse
	if err := c.post(ctx, "/v1/assets", req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", fmt.Errorf("assets upload returned empty url")
	}
	return out.URL, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrTransport, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s status %d", domain.ErrTransport, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrTransport, path, err)
	}
	return nil
}
