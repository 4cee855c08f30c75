package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"cardsmith/internal/domain"
)

type statusUpdate struct {
	jobID  string
	status domain.JobStatus
	errMsg *string
	result []domain.Card
}

type stubJobs struct {
	jobs      map[string]*domain.Job
	updates   []statusUpdate
	createErr error
}

func newStubJobs() *stubJobs {
	return &stubJobs{jobs: make(map[string]*domain.Job)}
}

func (s *stubJobs) Create(_ context.Context, job *domain.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *stubJobs) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, errMsg *string, result []domain.Card) error {
	s.updates = append(s.updates, statusUpdate{jobID: jobID, status: status, errMsg: errMsg, result: result})
	if job, ok := s.jobs[jobID]; ok {
		job.Status = status
		job.Result = result
		if errMsg != nil {
			job.Error = *errMsg
		}
	}
	return nil
}

func (s *stubJobs) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

type stubCards struct {
	inserted  map[string]*domain.Card
	insertErr error
}

func newStubCards() *stubCards {
	return &stubCards{inserted: make(map[string]*domain.Card)}
}

func (s *stubCards) Insert(_ context.Context, slug string, card *domain.Card) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	copied := *card
	s.inserted[slug] = &copied
	return nil
}

func (s *stubCards) GetBySlug(_ context.Context, slug string) (*domain.Card, error) {
	card, ok := s.inserted[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *card
	return &copied, nil
}

type stubAssets struct {
	keys     []string
	data     [][]byte
	writeErr error
}

func (s *stubAssets) Write(_ context.Context, key string, data []byte) (string, error) {
	if s.writeErr != nil {
		return "", s.writeErr
	}
	s.keys = append(s.keys, key)
	s.data = append(s.data, data)
	return key, nil
}

func newTestApp() (*App, *stubJobs, *stubCards, *stubAssets) {
	jobs := newStubJobs()
	cards := newStubCards()
	assets := &stubAssets{}
	app := &App{
		Jobs:         jobs,
		Cards:        cards,
		Assets:       assets,
		Logger:       zerolog.Nop(),
		ShareBaseURL: "https://cards.example.com/s",
		AssetBaseURL: "http://localhost:8080/assets",
	}
	return app, jobs, cards, assets
}

func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/jobs", app.CreateJob)
	r.Get("/v1/job-status/{id}", app.JobStatus)
	r.Post("/v1/store-job-result", app.StoreJobResult)
	r.Post("/v1/cards/store", app.StoreCard)
	r.Get("/v1/cards/{slug}", app.GetCard)
	r.Post("/v1/assets", app.UploadAsset)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobAndStatusRoundTrip(t *testing.T) {
	app, _, _, _ := newTestApp()
	router := testRouter(app)

	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rec := doJSON(t, router, http.MethodPost, "/v1/jobs", map[string]any{
		"id":         "job-1",
		"payload":    domain.JobPayload{Theme: "space cats", Mode: domain.CardModeFull, CardCount: 2},
		"created_at": created,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/job-status/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	app, _, _, _ := newTestApp()
	rec := doJSON(t, testRouter(app), http.MethodGet, "/v1/job-status/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStoreJobResultRejectsNonTerminalStatus(t *testing.T) {
	app, _, _, _ := newTestApp()
	rec := doJSON(t, testRouter(app), http.MethodPost, "/v1/store-job-result", map[string]any{
		"job_id": "job-1",
		"status": "processing",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStoreJobResultTerminalStatesAreImmutable(t *testing.T) {
	app, jobs, _, _ := newTestApp()
	router := testRouter(app)
	jobs.jobs["job-1"] = &domain.Job{ID: "job-1", Status: domain.JobStatusProcessing}

	cards := []domain.Card{{ID: "job-1-0", FrontCoverURL: "https://cdn.test/f.png"}}
	rec := doJSON(t, router, http.MethodPost, "/v1/store-job-result", map[string]any{
		"job_id":    "job-1",
		"status":    "completed",
		"card_data": cards,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first write status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(jobs.updates) != 1 || jobs.updates[0].status != domain.JobStatusCompleted {
		t.Fatalf("updates = %+v", jobs.updates)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/store-job-result", map[string]any{
		"job_id": "job-1",
		"status": "failed",
		"error":  "late failure",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second write status = %d, want 409", rec.Code)
	}
	if len(jobs.updates) != 1 {
		t.Fatalf("terminal job must not be rewritten, updates = %+v", jobs.updates)
	}
}

func TestStoreCardMintsShareURL(t *testing.T) {
	app, _, cards, _ := newTestApp()
	rec := doJSON(t, testRouter(app), http.MethodPost, "/v1/cards/store", storeCardRequest{
		Prompt:     "Birthday Space Cats",
		FrontCover: "https://cdn.test/f.png",
		BackCover:  "https://cdn.test/b.png",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got storeCardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(got.ShareURL, "https://cards.example.com/s/") {
		t.Fatalf("share_url = %q", got.ShareURL)
	}
	slug := strings.TrimPrefix(got.ShareURL, "https://cards.example.com/s/")
	if len(slug) != slugLength {
		t.Fatalf("slug %q length = %d, want %d", slug, len(slug), slugLength)
	}
	stored, ok := cards.inserted[slug]
	if !ok {
		t.Fatalf("card not stored under slug %q", slug)
	}
	if stored.ShareURL != got.ShareURL {
		t.Fatalf("stored share_url %q != response %q", stored.ShareURL, got.ShareURL)
	}
}

func TestStoreCardRequiresCovers(t *testing.T) {
	app, _, _, _ := newTestApp()
	rec := doJSON(t, testRouter(app), http.MethodPost, "/v1/cards/store", storeCardRequest{
		Prompt:     "Birthday",
		FrontCover: "https://cdn.test/f.png",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetCardBySlug(t *testing.T) {
	app, _, cards, _ := newTestApp()
	cards.inserted["abc123defg"] = &domain.Card{ID: "c1", Prompt: "Birthday", ShareURL: "https://cards.example.com/s/abc123defg"}

	rec := doJSON(t, testRouter(app), http.MethodGet, "/v1/cards/abc123defg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got domain.Card
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "c1" {
		t.Fatalf("card = %+v", got)
	}

	rec = doJSON(t, testRouter(app), http.MethodGet, "/v1/cards/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing slug status = %d, want 404", rec.Code)
	}
}

func TestUploadAsset(t *testing.T) {
	app, _, _, assets := newTestApp()
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	rec := doJSON(t, testRouter(app), http.MethodPost, "/v1/assets", uploadAssetRequest{
		Key:  "cards/job-1-0/back-cover.png",
		MIME: "image/png",
		Data: base64.StdEncoding.EncodeToString(payload),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got uploadAssetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := fmt.Sprintf("http://localhost:8080/assets/%s", "cards/job-1-0/back-cover.png")
	if got.URL != want {
		t.Fatalf("url = %q, want %q", got.URL, want)
	}
	if len(assets.data) != 1 || !bytes.Equal(assets.data[0], payload) {
		t.Fatalf("stored data mismatch")
	}
}

func TestUploadAssetRejectsBadBase64(t *testing.T) {
	app, _, _, _ := newTestApp()
	rec := doJSON(t, testRouter(app), http.MethodPost, "/v1/assets", uploadAssetRequest{
		Key:  "cards/x.png",
		MIME: "image/png",
		Data: "not base64!!",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJobStorageFailure(t *testing.T) {
	app, jobs, _, _ := newTestApp()
	jobs.createErr = errors.New("db down")
	rec := doJSON(t, testRouter(app), http.MethodPost, "/v1/jobs", map[string]any{"id": "job-1"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
