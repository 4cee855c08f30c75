package orchestrator

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardsmith/internal/domain"
	"cardsmith/internal/store"
)

func seedPendingJob(t *testing.T, st *store.Store, id string, createdAt time.Time) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:        id,
		Status:    domain.JobStatusProcessing,
		CreatedAt: createdAt,
		Payload: domain.JobPayload{
			Theme:     "space cats",
			Occasion:  "birthday",
			Mode:      domain.CardModeFull,
			CardCount: 1,
			Prompts:   []domain.SectionPrompts{promptSet("a")},
		},
	}
	require.NoError(t, st.SaveJob(job))
	require.NoError(t, st.AddPending(id))
	return job
}

func TestRecoverResumesOnlyMissingSections(t *testing.T) {
	st := newTestStore(t)
	createdAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	job := seedPendingJob(t, st, "job-r1", createdAt)

	// Front and back cover finished before the previous run died.
	require.NoError(t, st.SaveSection(job.ID, domain.SectionKey{Card: 0, Section: domain.SectionFrontCover}, "https://cdn.test/front.png"))
	require.NoError(t, st.SaveSection(job.ID, domain.SectionKey{Card: 0, Section: domain.SectionBackCover}, "https://cdn.test/back.png"))

	gen := &stubGen{}
	be := &stubBackend{}
	capture := &terminalCapture{}
	now := createdAt.Add(10 * time.Minute)

	eng := NewEngine(Options{
		Synthesizer:   &stubSynth{},
		Generator:     gen,
		Rewriter:      &stubRewriter{},
		Backend:       be,
		Finalizer:     stubFinalizer{},
		State:         st,
		Logger:        zerolog.Nop(),
		PollInterval:  time.Millisecond,
		Now:           func() time.Time { return now },
		OnJobTerminal: capture.callback(),
	})

	require.NoError(t, eng.Recover(context.Background()))

	elapsed, ok := eng.Elapsed(job.ID)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, elapsed, "elapsed time survives the restart via the persisted creation timestamp")

	eng.Wait()

	requested := gen.promptsCalled()
	sort.Strings(requested)
	assert.Equal(t, []string{"a-left", "a-right"}, requested, "recorded sections are never reissued")

	got := capture.snapshot()
	require.Equal(t, 1, got.fired)
	assert.Equal(t, domain.JobStatusCompleted, got.status)
	assert.True(t, got.recovered)
	require.Len(t, got.cards, 1)
	assert.Equal(t, "https://cdn.test/front.png", got.cards[0].FrontCoverURL)
	assert.Equal(t, "https://cdn.test/back.png", got.cards[0].BackCoverURL)
	assert.NotEmpty(t, got.cards[0].LeftInteriorURL)
	assert.NotEmpty(t, got.cards[0].RightInteriorURL)

	ids, err := st.PendingIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecoverFoldsInJobCompletedWhileAway(t *testing.T) {
	st := newTestStore(t)
	job := seedPendingJob(t, st, "job-r2", time.Now().Add(-time.Hour))

	gen := &stubGen{}
	be := &stubBackend{}
	require.NoError(t, be.StoreResult(context.Background(), job.ID, domain.JobStatusCompleted, []domain.Card{{ID: job.ID + "-0", FrontCoverURL: "https://cdn.test/f.png"}}, ""))
	capture := &terminalCapture{}

	eng := NewEngine(Options{
		Synthesizer:   &stubSynth{},
		Generator:     gen,
		Rewriter:      &stubRewriter{},
		Backend:       be,
		Finalizer:     stubFinalizer{},
		State:         st,
		Logger:        zerolog.Nop(),
		OnJobTerminal: capture.callback(),
	})

	require.NoError(t, eng.Recover(context.Background()))
	eng.Wait()

	got := capture.snapshot()
	require.Equal(t, 1, got.fired)
	assert.Equal(t, domain.JobStatusCompleted, got.status)
	assert.True(t, got.recovered)
	require.Len(t, got.cards, 1)
	assert.Equal(t, "https://cards.test/s/"+job.ID+"-0", got.cards[0].ShareURL,
		"a stored card without a share identity still goes through finalization")
	assert.Empty(t, gen.calls, "nothing is regenerated for a job that finished while away")

	ids, err := st.PendingIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecoverFoldsInJobFailedWhileAway(t *testing.T) {
	st := newTestStore(t)
	job := seedPendingJob(t, st, "job-r3", time.Now().Add(-time.Hour))

	be := &stubBackend{}
	require.NoError(t, be.StoreResult(context.Background(), job.ID, domain.JobStatusFailed, nil, "generation failed"))
	capture := &terminalCapture{}

	eng := NewEngine(Options{
		Synthesizer:   &stubSynth{},
		Generator:     &stubGen{},
		Rewriter:      &stubRewriter{},
		Backend:       be,
		Finalizer:     stubFinalizer{},
		State:         st,
		Logger:        zerolog.Nop(),
		OnJobTerminal: capture.callback(),
	})

	require.NoError(t, eng.Recover(context.Background()))
	eng.Wait()

	got := capture.snapshot()
	require.Equal(t, 1, got.fired)
	assert.Equal(t, domain.JobStatusFailed, got.status)
	assert.Equal(t, "generation failed", got.errMsg)

	ids, err := st.PendingIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecoverDropsOrphanedPendingEntry(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddPending("job-orphan"))

	eng := NewEngine(Options{
		Synthesizer: &stubSynth{},
		Generator:   &stubGen{},
		Rewriter:    &stubRewriter{},
		Backend:     &stubBackend{},
		Finalizer:   stubFinalizer{},
		State:       st,
		Logger:      zerolog.Nop(),
	})

	require.NoError(t, eng.Recover(context.Background()))
	eng.Wait()

	ids, err := st.PendingIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
