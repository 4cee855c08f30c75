package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cardsmith/internal/domain"
	"cardsmith/internal/prompts"
	"cardsmith/internal/providers/backend"
	"cardsmith/internal/store"
)

// Synthesizer turns a brief into per-variant section prompts.
type Synthesizer interface {
	Synthesize(ctx context.Context, brief prompts.Brief, n int) ([]domain.SectionPrompts, error)
}

// Backend is the job-tracking and card-storage collaborator boundary.
type Backend interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	Status(ctx context.Context, jobID string) (*backend.StatusResponse, error)
	StoreResult(ctx context.Context, jobID string, status domain.JobStatus, cards []domain.Card, errMsg string) error
}

// Finalizer binds a completed card to its shareable identity. It never
// fails the job: on any finalization trouble it returns the card unchanged.
type Finalizer interface {
	Finalize(ctx context.Context, card domain.Card) domain.Card
}

// StateStore is the engine's durable local store used for recovery.
type StateStore interface {
	SaveJob(job *domain.Job) error
	LoadJob(id string) (*domain.Job, error)
	DeleteJob(id string) error
	PendingIDs() ([]string, error)
	AddPending(id string) error
	RemovePending(id string) error
	SaveSection(jobID string, key domain.SectionKey, url string) error
	LoadSections(jobID string) ([]store.SectionRecord, error)
	SaveCurrentCards(cards []domain.Card) error
}

// Options wires an Engine.
type Options struct {
	Synthesizer  Synthesizer
	Generator    Generator
	Rewriter     PromptRewriter
	Backend      Backend
	Finalizer    Finalizer
	State        StateStore
	Logger       zerolog.Logger
	Model        domain.ModelConfig
	MaxRetries   int
	PollInterval time.Duration

	// BaseContext bounds all background work. Defaults to context.Background().
	BaseContext context.Context

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	// OnSectionComplete fires after each section resolves, with the overall
	// job progress percentage for that stage.
	OnSectionComplete func(jobID string, key domain.SectionKey, url string, progress int)

	// OnJobTerminal fires exactly once per job when it reaches a terminal
	// status. recovered marks jobs that finished while the engine was away.
	OnJobTerminal func(jobID string, status domain.JobStatus, cards []domain.Card, errMsg string, recovered bool)
}

// Engine owns the job lifecycle: submission, section fan-out, completion
// aggregation, polling, recovery and finalization hand-off. All shared state
// lives behind per-run locks so concurrently resolving sections may land in
// any order.
type Engine struct {
	synth        Synthesizer
	gen          Generator
	rewriter     PromptRewriter
	backend      Backend
	finalizer    Finalizer
	state        StateStore
	logger       zerolog.Logger
	model        domain.ModelConfig
	maxRetries   int
	pollInterval time.Duration
	baseCtx      context.Context
	now          func() time.Time

	onSection  func(jobID string, key domain.SectionKey, url string, progress int)
	onTerminal func(jobID string, status domain.JobStatus, cards []domain.Card, errMsg string, recovered bool)

	mu   sync.Mutex
	runs map[string]*jobRun
	wg   sync.WaitGroup
}

type jobRun struct {
	mu        sync.Mutex
	job       *domain.Job
	tracker   *Tracker
	total     int
	completed int
	progress  int
	cards     []domain.Card // indexed by card variant
	assembled []bool
	errs      []error
	terminal  bool
	recovered bool
}

// NewEngine constructs an engine from Options.
func NewEngine(opts Options) *Engine {
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	onSection := opts.OnSectionComplete
	if onSection == nil {
		onSection = func(string, domain.SectionKey, string, int) {}
	}
	onTerminal := opts.OnJobTerminal
	if onTerminal == nil {
		onTerminal = func(string, domain.JobStatus, []domain.Card, string, bool) {}
	}
	return &Engine{
		synth:        opts.Synthesizer,
		gen:          opts.Generator,
		rewriter:     opts.Rewriter,
		backend:      opts.Backend,
		finalizer:    opts.Finalizer,
		state:        opts.State,
		logger:       opts.Logger,
		model:        opts.Model,
		maxRetries:   opts.MaxRetries,
		pollInterval: pollInterval,
		baseCtx:      baseCtx,
		now:          now,
		onSection:    onSection,
		onTerminal:   onTerminal,
		runs:         make(map[string]*jobRun),
	}
}

// SubmitRequest is one user-initiated card generation request.
type SubmitRequest struct {
	Brief       prompts.Brief
	CardCount   int
	InputImages []string
}

// Submit synthesizes per-section prompts, persists the job, registers it
// with the backend and fans out section generation in the background.
// Prompt synthesis failures (including schema violations) surface here;
// everything after the returned job is asynchronous.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	cardCount := req.CardCount
	if cardCount <= 0 {
		cardCount = 1
	}
	if req.Brief.Mode == "" {
		req.Brief.Mode = domain.CardModeFull
	}

	promptSets, err := e.synth.Synthesize(ctx, req.Brief, cardCount)
	if err != nil {
		return nil, fmt.Errorf("synthesize prompts: %w", err)
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusProcessing,
		CreatedAt: e.now(),
		Payload: domain.JobPayload{
			Theme:       req.Brief.Theme,
			Tone:        req.Brief.Tone,
			Recipient:   req.Brief.Recipient,
			Occasion:    req.Brief.Occasion,
			Mode:        req.Brief.Mode,
			CardCount:   cardCount,
			Model:       e.model,
			Prompts:     promptSets,
			InputImages: req.InputImages,
		},
	}

	// Durable writes are best-effort: losing one degrades recovery only.
	if err := e.state.SaveJob(job); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("persist job snapshot failed")
	}
	if err := e.state.AddPending(job.ID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("persist pending set failed")
	}
	if err := e.backend.CreateJob(ctx, job); err != nil {
		_ = e.state.DeleteJob(job.ID)
		_ = e.state.RemovePending(job.ID)
		return nil, fmt.Errorf("register job: %w", err)
	}

	run := e.newRun(job)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runJob(e.baseCtx, run)
	}()
	return job, nil
}

// Wait blocks until all background job runs have finished. Test helper and
// shutdown hook.
func (e *Engine) Wait() { e.wg.Wait() }

// Job returns a snapshot of a tracked job.
func (e *Engine) Job(jobID string) (*domain.Job, bool) {
	e.mu.Lock()
	run, ok := e.runs[jobID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	snapshot := *run.job
	return &snapshot, true
}

// Progress returns the job's overall progress percentage.
func (e *Engine) Progress(jobID string) int {
	e.mu.Lock()
	run, ok := e.runs[jobID]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress
}

// Elapsed reports wall-clock time since the job was created, surviving
// engine restarts via the persisted createdAt.
func (e *Engine) Elapsed(jobID string) (time.Duration, bool) {
	e.mu.Lock()
	run, ok := e.runs[jobID]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return e.now().Sub(run.job.CreatedAt), true
}

func (e *Engine) newRun(job *domain.Job) *jobRun {
	tracker := NewTracker()
	tracker.Begin(job.ID, effectiveTheme(job.Payload), job.Payload.Mode, job.Payload.Prompts, job.CreatedAt)
	run := &jobRun{
		job:       job,
		tracker:   tracker,
		total:     job.Payload.CardCount * len(domain.RequiredSections(job.Payload.Mode)),
		progress:  progressSynthesized,
		cards:     make([]domain.Card, job.Payload.CardCount),
		assembled: make([]bool, job.Payload.CardCount),
	}
	e.mu.Lock()
	e.runs[job.ID] = run
	e.mu.Unlock()
	return run
}

// runJob fans out every outstanding section task and converges the run on a
// terminal status. Sections already recorded in the tracker (recovery) are
// never reissued.
func (e *Engine) runJob(ctx context.Context, run *jobRun) {
	job := run.job
	required := domain.RequiredSections(job.Payload.Mode)

	var wg sync.WaitGroup
	for card := 0; card < job.Payload.CardCount; card++ {
		card := card
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runVariant(ctx, run, card, required)
		}()
	}
	wg.Wait()
	e.finishRun(ctx, run)
}

// runVariant drives all sections of one card variant. A failure here aborts
// only this variant; sibling variants keep going.
func (e *Engine) runVariant(ctx context.Context, run *jobRun, card int, required []domain.Section) {
	job := run.job
	if card >= len(job.Payload.Prompts) {
		run.addErr(fmt.Errorf("%w: no prompts for card %d", domain.ErrSchemaViolation, card))
		return
	}
	promptSet := job.Payload.Prompts[card]

	g, gctx := errgroup.WithContext(ctx)
	for _, section := range required {
		key := domain.SectionKey{Card: card, Section: section}
		if run.tracker.Has(key) {
			continue
		}
		task := NewSectionTask(card, section, promptSet.For(section), job.Payload.InputImages, job.Payload.Model, e.maxRetries, e.gen, e.rewriter, e.logger)
		g.Go(func() error {
			url, err := task.Run(gctx)
			if err != nil {
				return err
			}
			e.recordSection(run, key, url)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		run.addErr(err)
		e.logger.Error().Err(err).Str("job_id", job.ID).Int("card", card).Msg("card variant aborted")
		return
	}

	e.assembleCard(ctx, run, card)
}

func (e *Engine) recordSection(run *jobRun, key domain.SectionKey, url string) {
	run.tracker.Record(key, url)
	if err := e.state.SaveSection(run.job.ID, key, url); err != nil {
		e.logger.Warn().Err(err).Str("job_id", run.job.ID).Msg("persist section record failed")
	}

	run.mu.Lock()
	run.completed++
	run.progress = SectionProgress(run.completed, run.total)
	progress := run.progress
	jobID := run.job.ID
	run.mu.Unlock()

	e.logger.Debug().
		Str("job_id", jobID).
		Int("card", key.Card).
		Stringer("section", key.Section).
		Int("progress", progress).
		Msg("section resolved")
	e.onSection(jobID, key, url, progress)
}

// assembleCard hands a complete variant to the finalization pipeline. The
// tracker decides completeness; assembling twice is harmless because the
// assembled flag is checked under the run lock.
func (e *Engine) assembleCard(ctx context.Context, run *jobRun, card int) {
	assembled := run.tracker.TryAssemble(card)
	if assembled == nil {
		return
	}

	run.mu.Lock()
	if run.assembled[card] {
		run.mu.Unlock()
		return
	}
	run.assembled[card] = true
	run.progress = progressFinalizing
	run.mu.Unlock()

	finalized := e.finalizer.Finalize(ctx, *assembled)

	run.mu.Lock()
	run.cards[card] = finalized
	snapshot := completedCards(run)
	run.mu.Unlock()

	if err := e.state.SaveCurrentCards(snapshot); err != nil {
		e.logger.Warn().Err(err).Str("job_id", run.job.ID).Msg("persist current cards failed")
	}
}

func (e *Engine) finishRun(ctx context.Context, run *jobRun) {
	run.mu.Lock()
	cards := completedCards(run)
	errMsg := joinErrors(run.errs)
	run.mu.Unlock()

	if len(cards) > 0 {
		e.markCompleted(ctx, run, cards)
		return
	}
	if errMsg == "" {
		errMsg = "no card variants completed"
	}
	e.markFailed(ctx, run, errMsg)
}

// markCompleted writes the terminal result to the backend, removes the job
// from the durable pending set and surfaces the terminal callback.
func (e *Engine) markCompleted(ctx context.Context, run *jobRun, cards []domain.Card) {
	if !run.setTerminal(domain.JobStatusCompleted, cards, "") {
		return
	}
	jobID := run.job.ID
	if err := e.backend.StoreResult(ctx, jobID, domain.JobStatusCompleted, cards, ""); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("store job result failed")
	}
	e.forgetDurable(jobID)
	e.logger.Info().Str("job_id", jobID).Int("cards", len(cards)).Msg("job completed")
	e.onTerminal(jobID, domain.JobStatusCompleted, cards, "", run.recovered)
}

func (e *Engine) markFailed(ctx context.Context, run *jobRun, errMsg string) {
	if !run.setTerminal(domain.JobStatusFailed, nil, errMsg) {
		return
	}
	jobID := run.job.ID
	if err := e.backend.StoreResult(ctx, jobID, domain.JobStatusFailed, nil, errMsg); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("store job failure failed")
	}
	e.forgetDurable(jobID)
	e.logger.Error().Str("job_id", jobID).Str("error", errMsg).Msg("job failed")
	e.onTerminal(jobID, domain.JobStatusFailed, nil, errMsg, run.recovered)
}

// forgetDurable removes a terminal job from the durable store. The run
// itself stays in memory for display continuity.
func (e *Engine) forgetDurable(jobID string) {
	if err := e.state.DeleteJob(jobID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("delete job snapshot failed")
	}
	if err := e.state.RemovePending(jobID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("remove pending entry failed")
	}
}

// setTerminal transitions the run to a terminal status exactly once.
func (r *jobRun) setTerminal(status domain.JobStatus, cards []domain.Card, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return false
	}
	r.terminal = true
	r.job.Status = status
	r.job.Result = cards
	r.job.Error = errMsg
	if status == domain.JobStatusCompleted {
		r.progress = progressDone
	}
	return true
}

func (r *jobRun) addErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *jobRun) isTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

// completedCards returns assembled cards in variant order. Caller holds the
// run lock.
func completedCards(run *jobRun) []domain.Card {
	var cards []domain.Card
	for i, ok := range run.assembled {
		if ok {
			cards = append(cards, run.cards[i])
		}
	}
	return cards
}

func joinErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

func effectiveTheme(p domain.JobPayload) string {
	return prompts.Brief{Theme: p.Theme, Tone: p.Tone, Recipient: p.Recipient, Occasion: p.Occasion, Mode: p.Mode}.EffectiveTheme()
}
