package orchestrator

import (
	"context"
	"errors"
	"math"
	"time"

	"cardsmith/internal/domain"
	"cardsmith/internal/providers/backend"
)

const (
	maxRetryDelay = 10 * time.Second
	backoffFactor = 1.5
	maxBackoffExp = 5
)

// retryDelay returns the wait before transport-error poll attempt number
// attempt (1-based): base × 1.5^(attempt-1), exponent capped at 5, delay
// capped at 10s. A successful poll resets the schedule.
func retryDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > maxBackoffExp {
		exp = maxBackoffExp
	}
	delay := time.Duration(float64(base) * math.Pow(backoffFactor, float64(exp)))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// PollJob watches the backend status record for jobID until it turns
// terminal or ctx is cancelled. Healthy polls run at the fixed interval;
// transport errors back off and never terminate the loop. A definitive
// not-found answer stops polling because the record will not reappear.
func (e *Engine) PollJob(ctx context.Context, jobID string) {
	interval := e.pollInterval
	transportAttempts := 0
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		st, err := e.backend.Status(ctx, jobID)
		switch {
		case err == nil:
			transportAttempts = 0
			if done := e.handleRemoteStatus(ctx, jobID, st); done {
				return
			}
			timer.Reset(interval)
		case errors.Is(err, domain.ErrNotFound):
			e.logger.Warn().Str("job_id", jobID).Msg("job record missing, stopping poll")
			return
		default:
			transportAttempts++
			delay := retryDelay(transportAttempts, interval)
			e.logger.Warn().Err(err).
				Str("job_id", jobID).
				Int("attempt", transportAttempts).
				Dur("next_poll_in", delay).
				Msg("status poll failed, backing off")
			timer.Reset(delay)
		}
	}
}

// handleRemoteStatus folds one backend status answer into the local run.
// It returns true when polling should stop. Remote terminal transitions race
// the local executor; setTerminal arbitrates so exactly one side wins and
// the terminal callback fires once.
func (e *Engine) handleRemoteStatus(ctx context.Context, jobID string, st *backend.StatusResponse) bool {
	if !st.Status.Terminal() {
		return false
	}

	e.mu.Lock()
	run, ok := e.runs[jobID]
	e.mu.Unlock()
	if !ok || run.isTerminal() {
		return true
	}

	if st.Status == domain.JobStatusFailed {
		errMsg := st.Error
		if errMsg == "" {
			errMsg = "job failed"
		}
		if run.setTerminal(domain.JobStatusFailed, nil, errMsg) {
			e.forgetDurable(jobID)
			e.logger.Error().Str("job_id", jobID).Str("error", errMsg).Msg("job failed while away")
			e.onTerminal(jobID, domain.JobStatusFailed, nil, errMsg, run.recovered)
		}
		return true
	}

	// Completed while the engine was away: the stored cards are already
	// authoritative, but any card missing its share identity still goes
	// through finalization.
	cards := make([]domain.Card, 0, len(st.CardData))
	for _, card := range st.CardData {
		if card.ShareURL == "" {
			card = e.finalizer.Finalize(ctx, card)
		}
		cards = append(cards, card)
	}
	if run.setTerminal(domain.JobStatusCompleted, cards, "") {
		if err := e.state.SaveCurrentCards(cards); err != nil {
			e.logger.Warn().Err(err).Str("job_id", jobID).Msg("persist current cards failed")
		}
		e.forgetDurable(jobID)
		e.logger.Info().Str("job_id", jobID).Int("cards", len(cards)).Msg("job completed while away")
		e.onTerminal(jobID, domain.JobStatusCompleted, cards, "", run.recovered)
	}
	return true
}
