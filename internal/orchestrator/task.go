package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"cardsmith/internal/domain"
	"cardsmith/internal/providers/imagegen"
)

// TaskState is the per-task state machine. A task moves Pending → Retrying
// zero or more times, then lands on exactly one of Done or Failed.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRetrying
	TaskDone
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRetrying:
		return "retrying"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Generator is the slice of the content-generation client a task needs.
type Generator interface {
	Generate(ctx context.Context, req imagegen.GenerateRequest) ([]string, error)
}

// PromptRewriter produces a policy-compliant replacement for a moderated prompt.
type PromptRewriter interface {
	Rewrite(ctx context.Context, prompt string, section domain.Section) (string, error)
}

// SectionTask executes one image-generation request for one (card, section)
// pair and owns the moderation-retry loop. Each key is issued exactly once
// per run.
type SectionTask struct {
	Card        int
	Section     domain.Section
	Prompt      string
	InputImages []string
	Model       domain.ModelConfig
	MaxRetries  int

	gen      Generator
	rewriter PromptRewriter
	logger   zerolog.Logger

	state      TaskState
	retryCount int
}

// NewSectionTask builds a runnable task for one (card, section) pair.
func NewSectionTask(card int, section domain.Section, prompt string, inputImages []string, model domain.ModelConfig, maxRetries int, gen Generator, rewriter PromptRewriter, logger zerolog.Logger) *SectionTask {
	return &SectionTask{
		Card:        card,
		Section:     section,
		Prompt:      prompt,
		InputImages: inputImages,
		Model:       model,
		MaxRetries:  maxRetries,
		gen:         gen,
		rewriter:    rewriter,
		logger:      logger,
		state:       TaskPending,
	}
}

// State returns the task's current lifecycle state.
func (t *SectionTask) State() TaskState { return t.state }

// RetryCount returns how many moderation retries have been consumed.
func (t *SectionTask) RetryCount() int { return t.retryCount }

// Run submits the current prompt until it succeeds, the moderation budget is
// exhausted, or a non-retryable error occurs. Total attempts are bounded by
// MaxRetries+1. The prompt is mutated in place by rewrites so the final text
// used is observable afterwards.
func (t *SectionTask) Run(ctx context.Context) (string, error) {
	for {
		urls, err := t.gen.Generate(ctx, imagegen.GenerateRequest{
			Prompts:      []string{t.Prompt},
			ModelVersion: t.Model.ModelVersion,
			AspectRatio:  t.Model.AspectRatio,
			Quality:      t.Model.Quality,
			InputImages:  t.InputImages,
		})
		if err == nil {
			t.state = TaskDone
			return urls[0], nil
		}
		if !errors.Is(err, domain.ErrModerationBlocked) {
			t.state = TaskFailed
			return "", fmt.Errorf("card %d %s: %w", t.Card, t.Section, err)
		}

		if t.retryCount >= t.MaxRetries {
			t.state = TaskFailed
			return "", &domain.ModerationExhaustedError{
				Card:     t.Card,
				Section:  t.Section,
				Attempts: t.retryCount + 1,
			}
		}

		rewritten, rerr := t.rewriter.Rewrite(ctx, t.Prompt, t.Section)
		if rerr != nil {
			// Rewrite failures still consume a retry; the original prompt
			// gets one more chance as-is.
			t.logger.Warn().Err(rerr).
				Int("card", t.Card).
				Stringer("section", t.Section).
				Msg("prompt rewrite failed, retrying unchanged")
		} else {
			t.Prompt = rewritten
		}
		t.retryCount++
		t.state = TaskRetrying
		t.logger.Info().
			Int("card", t.Card).
			Stringer("section", t.Section).
			Int("retry", t.retryCount).
			Msg("moderation blocked, retrying with rewritten prompt")
	}
}
