package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"cardsmith/internal/domain"
	"cardsmith/internal/finalize"
	"cardsmith/internal/infra"
	"cardsmith/internal/middleware"
	"cardsmith/internal/orchestrator"
	"cardsmith/internal/prompts"
	"cardsmith/internal/providers/backend"
	"cardsmith/internal/providers/imagegen"
	"cardsmith/internal/providers/textgen"
	"cardsmith/internal/store"
)

// Estimated wall-clock duration per mode, used only for the display-side
// progress heuristic.
const (
	estimateFrontBack = 90 * time.Second
	estimateFull      = 150 * time.Second
)

type server struct {
	engine *orchestrator.Engine
	state  *store.Store
	logger infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "engine")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateStore, err := store.NewStore(cfg.StatePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize state store")
	}

	text := textgen.NewClient(textgen.Options{
		BaseURL: cfg.TextBaseURL,
		APIKey:  cfg.TextAPIKey,
		Model:   cfg.TextModel,
	})
	images := imagegen.NewClient(imagegen.Options{
		BaseURL: cfg.GenBaseURL,
		APIKey:  cfg.GenAPIKey,
	})
	backendClient := backend.NewClient(backend.Options{BaseURL: cfg.BackendBaseURL})

	pipeline := finalize.NewPipeline(finalize.Options{
		Store:  backendClient,
		Logger: logger,
	})

	engine := orchestrator.NewEngine(orchestrator.Options{
		Synthesizer:  prompts.NewSynthesizer(text, cfg.TextModel),
		Generator:    images,
		Rewriter:     prompts.NewRewriter(text, cfg.TextModel),
		Backend:      backendClient,
		Finalizer:    pipeline,
		State:        stateStore,
		Logger:       logger,
		Model:        domain.ModelConfig{ModelVersion: cfg.GenModel, AspectRatio: "3:4", Quality: "standard"},
		MaxRetries:   cfg.MaxSectionRetries,
		PollInterval: cfg.PollInterval,
		BaseContext:  ctx,
		OnJobTerminal: func(jobID string, status domain.JobStatus, cards []domain.Card, errMsg string, recovered bool) {
			evt := logger.Info()
			if status == domain.JobStatusFailed {
				evt = logger.Error().Str("error", errMsg)
			}
			evt.Str("job_id", jobID).
				Str("status", string(status)).
				Int("cards", len(cards)).
				Bool("recovered", recovered).
				Msg("job finished")
		},
	})

	if err := engine.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("recovery scan failed")
	}

	srv := &server{engine: engine, state: stateStore, logger: logger}
	httpServer := infra.NewHTTPServer(cfg, srv.router())
	go func() {
		logger.Info().Msgf("engine listening on :%s", cfg.Port)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("engine stopped")
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(s.logger),
	)
	r.Get("/v1/healthz", s.health)
	r.Post("/v1/generate", s.generate)
	r.Get("/v1/generate/{id}", s.progress)
	r.Get("/v1/current-cards", s.currentCards)
	return r
}

type generateRequest struct {
	Theme       string   `json:"theme"`
	Tone        string   `json:"tone"`
	Recipient   string   `json:"recipient"`
	Occasion    string   `json:"occasion"`
	Style       string   `json:"style"`
	Mode        string   `json:"mode"`
	CardCount   int      `json:"card_count"`
	InputImages []string `json:"input_images"`
}

type progressResponse struct {
	JobID             string        `json:"job_id"`
	Status            string        `json:"status"`
	Progress          int           `json:"progress"`
	EstimatedProgress int           `json:"estimated_progress"`
	ElapsedSeconds    int           `json:"elapsed_seconds"`
	Cards             []domain.Card `json:"cards,omitempty"`
	Error             string        `json:"error,omitempty"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Theme) == "" {
		writeError(w, http.StatusBadRequest, "theme required")
		return
	}
	mode := domain.CardMode(req.Mode)
	if mode != domain.CardModeFrontBack {
		mode = domain.CardModeFull
	}

	job, err := s.engine.Submit(r.Context(), orchestrator.SubmitRequest{
		Brief: prompts.Brief{
			Theme:     req.Theme,
			Tone:      req.Tone,
			Recipient: req.Recipient,
			Occasion:  req.Occasion,
			Style:     req.Style,
			Mode:      mode,
		},
		CardCount:   req.CardCount,
		InputImages: req.InputImages,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("submit failed")
		if errors.Is(err, domain.ErrSchemaViolation) {
			writeError(w, http.StatusBadGateway, "prompt synthesis produced an unusable response")
			return
		}
		writeError(w, http.StatusBadGateway, "something went wrong, please try again")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *server) progress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, ok := s.engine.Job(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	elapsed, _ := s.engine.Elapsed(jobID)

	estimate := estimateFull
	if job.Payload.Mode == domain.CardModeFrontBack {
		estimate = estimateFrontBack
	}
	writeJSON(w, http.StatusOK, progressResponse{
		JobID:             job.ID,
		Status:            string(job.Status),
		Progress:          s.engine.Progress(jobID),
		EstimatedProgress: orchestrator.EstimateProgress(elapsed, estimate),
		ElapsedSeconds:    int(elapsed.Seconds()),
		Cards:             job.Result,
		Error:             job.Error,
	})
}

func (s *server) currentCards(w http.ResponseWriter, _ *http.Request) {
	cards, err := s.state.LoadCurrentCards()
	if err != nil {
		s.logger.Error().Err(err).Msg("load current cards failed")
		writeError(w, http.StatusInternalServerError, "failed to load cards")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
