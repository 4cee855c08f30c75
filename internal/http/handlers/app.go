package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"cardsmith/internal/domain"
)

// JobStore is the persistence boundary for job lifecycle records.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string, result []domain.Card) error
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
}

// CardStore is the persistence boundary for shared cards.
type CardStore interface {
	Insert(ctx context.Context, slug string, card *domain.Card) error
	GetBySlug(ctx context.Context, slug string) (*domain.Card, error)
}

// AssetWriter persists raw asset bytes and returns the canonical key.
type AssetWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// App bundles the handler dependencies.
type App struct {
	Jobs   JobStore
	Cards  CardStore
	Assets AssetWriter
	Logger zerolog.Logger

	// ShareBaseURL prefixes minted share slugs, e.g. https://cards.example.com/s
	ShareBaseURL string
	// AssetBaseURL prefixes stored asset keys, e.g. http://localhost:8080/assets
	AssetBaseURL string
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}
