package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"cardsmith/internal/domain"
)

// Tracker is the completion map: it records which (card, section) pairs have
// resolved assets and decides when a card variant is complete. Entries only
// grow during a job's active phase; Begin clears them for a new run.
// Concurrently resolving tasks may land in any order.
type Tracker struct {
	mu        sync.Mutex
	jobID     string
	theme     string
	mode      domain.CardMode
	prompts   []domain.SectionPrompts
	createdAt time.Time
	urls      map[domain.SectionKey]string
}

// NewTracker returns an empty tracker. Begin must be called before use.
func NewTracker() *Tracker {
	return &Tracker{urls: make(map[domain.SectionKey]string)}
}

// Begin resets the tracker for a new generation run.
func (t *Tracker) Begin(jobID, theme string, mode domain.CardMode, prompts []domain.SectionPrompts, createdAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobID = jobID
	t.theme = theme
	t.mode = mode
	t.prompts = append([]domain.SectionPrompts(nil), prompts...)
	t.createdAt = createdAt
	t.urls = make(map[domain.SectionKey]string)
}

// Record stores the resolved asset URL for a key. Each key is issued once;
// if a duplicate ever lands, the last writer wins.
func (t *Tracker) Record(key domain.SectionKey, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.urls[key] = url
}

// Has reports whether a key already has a resolved asset.
func (t *Tracker) Has(key domain.SectionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.urls[key]
	return ok
}

// Len returns the number of resolved sections across all cards.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.urls)
}

// TryAssemble returns the assembled Card for cardIndex iff the map holds an
// entry for every section the mode requires, and nil otherwise. It is a pure
// read: calling it again with an unchanged map yields a structurally
// identical Card and no side effects.
func (t *Tracker) TryAssemble(cardIndex int) *domain.Card {
	t.mu.Lock()
	defer t.mu.Unlock()

	required := domain.RequiredSections(t.mode)
	for _, section := range required {
		if _, ok := t.urls[domain.SectionKey{Card: cardIndex, Section: section}]; !ok {
			return nil
		}
	}

	card := &domain.Card{
		ID:        fmt.Sprintf("%s-%d", t.jobID, cardIndex),
		Prompt:    t.theme,
		CreatedAt: t.createdAt,
	}
	for _, section := range required {
		url := t.urls[domain.SectionKey{Card: cardIndex, Section: section}]
		switch section {
		case domain.SectionFrontCover:
			card.FrontCoverURL = url
		case domain.SectionBackCover:
			card.BackCoverURL = url
		case domain.SectionLeftInterior:
			card.LeftInteriorURL = url
		case domain.SectionRightInterior:
			card.RightInteriorURL = url
		}
	}
	if cardIndex >= 0 && cardIndex < len(t.prompts) {
		used := t.prompts[cardIndex]
		card.GeneratedPrompts = &used
	}
	return card
}
