package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cardsmith/internal/domain"
)

const slugLength = 10

type storeCardRequest struct {
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

// StoreCard persists a finished card under a freshly minted slug and answers
// with the canonical share URL. The engine obtains this URL before stamping
// anything, so minting must happen here and nowhere else.
func (a *App) StoreCard(w http.ResponseWriter, r *http.Request) {
	var req storeCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.FrontCover) == "" || strings.TrimSpace(req.BackCover) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "frontCover and backCover required")
		return
	}

	slug := newSlug()
	card := &domain.Card{
		ID:               uuid.NewString(),
		Prompt:           req.Prompt,
		FrontCoverURL:    req.FrontCover,
		BackCoverURL:     req.BackCover,
		LeftInteriorURL:  req.LeftPage,
		RightInteriorURL: req.RightPage,
		GeneratedPrompts: req.GeneratedPrompts,
		ShareURL:         fmt.Sprintf("%s/%s", strings.TrimRight(a.ShareBaseURL, "/"), slug),
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.Cards.Insert(r.Context(), slug, card); err != nil {
		a.Logger.Error().Err(err).Str("slug", slug).Msg("store card failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store card")
		return
	}
	a.json(w, http.StatusCreated, storeCardResponse{ShareURL: card.ShareURL})
}

// GetCard serves a shared card by slug for the public share page.
func (a *App) GetCard(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "slug required")
		return
	}
	card, err := a.Cards.GetBySlug(r.Context(), slug)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "card not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("slug", slug).Msg("load card failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load card")
		return
	}
	a.json(w, http.StatusOK, card)
}

// newSlug mints a short, URL-safe identifier for the share link.
func newSlug() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:slugLength]
}
