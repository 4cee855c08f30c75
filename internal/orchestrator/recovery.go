package orchestrator

import (
	"context"
	"errors"

	"cardsmith/internal/domain"
)

// Recover restores every job left in the durable pending set by a previous
// run of the engine. For each pending id it reconciles the persisted
// snapshot against the backend's answer:
//
//   - terminal on the backend: fold the remote outcome in immediately
//     ("completed while away" still runs finalization for cards missing a
//     share identity);
//   - still processing, or backend unreachable: rebuild the run from the
//     snapshot, seed the tracker with durably recorded sections so finished
//     work is never reissued, and resume generation plus status polling.
//
// Elapsed time is anchored to the persisted creation timestamp, so progress
// estimates reflect wall-clock age rather than restarting at zero.
func (e *Engine) Recover(ctx context.Context) error {
	ids, err := e.state.PendingIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.recoverJob(ctx, id)
	}
	return nil
}

func (e *Engine) recoverJob(ctx context.Context, jobID string) {
	job, err := e.state.LoadJob(jobID)
	if errors.Is(err, domain.ErrNotFound) {
		// Pending entry without a snapshot is an orphan from a torn write.
		e.logger.Warn().Str("job_id", jobID).Msg("pending job has no snapshot, dropping")
		_ = e.state.RemovePending(jobID)
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("load job snapshot failed")
		return
	}

	run := e.newRun(job)
	run.recovered = true
	e.seedTracker(run)

	st, err := e.backend.Status(ctx, jobID)
	switch {
	case err == nil && st.Status.Terminal():
		e.logger.Info().Str("job_id", jobID).Str("status", string(st.Status)).Msg("job reached terminal status while away")
		e.handleRemoteStatus(ctx, jobID, st)
		return
	case errors.Is(err, domain.ErrNotFound):
		// The backend lost the record; re-register so status polling and
		// the terminal write have somewhere to land.
		if cerr := e.backend.CreateJob(ctx, job); cerr != nil {
			e.logger.Warn().Err(cerr).Str("job_id", jobID).Msg("re-register recovered job failed")
		}
	case err != nil:
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("status check during recovery failed, resuming anyway")
	}

	e.logger.Info().
		Str("job_id", jobID).
		Int("sections_restored", run.tracker.Len()).
		Dur("elapsed", e.now().Sub(job.CreatedAt)).
		Msg("resuming job")

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.runJob(e.baseCtx, run)
	}()
	go func() {
		defer e.wg.Done()
		e.PollJob(e.baseCtx, jobID)
	}()
}

// seedTracker replays durably recorded section completions into the run so
// runJob skips them. Progress is recomputed from the restored count.
func (e *Engine) seedTracker(run *jobRun) {
	records, err := e.state.LoadSections(run.job.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", run.job.ID).Msg("load section records failed")
		return
	}
	for _, rec := range records {
		run.tracker.Record(domain.SectionKey{Card: rec.Card, Section: rec.Section}, rec.URL)
	}
	run.mu.Lock()
	run.completed = run.tracker.Len()
	run.progress = SectionProgress(run.completed, run.total)
	run.mu.Unlock()
}
