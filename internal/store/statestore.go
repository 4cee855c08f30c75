package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cardsmith/internal/domain"
)

// maxPersistedRef bounds any single persisted asset reference. Anything
// larger is an inline payload in disguise and is dropped, not stored.
const maxPersistedRef = 2048

// Store is the engine's durable local key-value store: one JSON entry per
// job id, a pending-set list, and the currently displayed card set. Writes
// are best-effort; losing one only degrades recovery, it never corrupts
// in-flight state.
type Store struct {
	mu       sync.Mutex
	basePath string
}

// NewStore initializes a Store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("store: base path is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, "jobs"), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure base path: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// SaveJob persists a job snapshot under its id. The payload is scrubbed to
// honor the size-bounded persistence contract: prompts, ids and short
// opaque references only, never inline image data.
func (s *Store) SaveJob(job *domain.Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return errors.New("store: job id is required")
	}
	scrubbed := *job
	scrubbed.Payload.InputImages = scrubRefs(job.Payload.InputImages)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.jobPath(job.ID), &scrubbed)
}

// LoadJob reads a persisted job snapshot. Returns domain.ErrNotFound when
// no entry exists for the id.
func (s *Store) LoadJob(id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var job domain.Job
	if err := s.readJSON(s.jobPath(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes the persisted snapshot and section records for a
// terminal job.
func (s *Store) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.jobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete job: %w", err)
	}
	if err := os.Remove(s.sectionsPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete sections: %w", err)
	}
	return nil
}

// SectionRecord is one durably recorded section completion.
type SectionRecord struct {
	Card    int            `json:"card"`
	Section domain.Section `json:"section"`
	URL     string         `json:"url"`
}

// SaveSection durably records a resolved section asset so a restart never
// reissues finished work. Inline payloads are dropped per the size contract;
// the section is then simply regenerated after a restart.
func (s *Store) SaveSection(jobID string, key domain.SectionKey, url string) error {
	url = strings.TrimSpace(url)
	if url == "" || strings.HasPrefix(strings.ToLower(url), "data:") || len(url) > maxPersistedRef {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readSections(jobID)
	if err != nil {
		return err
	}
	for i, rec := range records {
		if rec.Card == key.Card && rec.Section == key.Section {
			records[i].URL = url
			return s.writeJSON(s.sectionsPath(jobID), records)
		}
	}
	records = append(records, SectionRecord{Card: key.Card, Section: key.Section, URL: url})
	return s.writeJSON(s.sectionsPath(jobID), records)
}

// LoadSections returns the recorded section completions for a job, or nil
// when none were saved.
func (s *Store) LoadSections(jobID string) ([]SectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSections(jobID)
}

// PendingIDs lists the job ids awaiting a terminal status, sorted for
// deterministic recovery order.
func (s *Store) PendingIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPending()
}

// AddPending records a job id in the pending set.
func (s *Store) AddPending(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.readPending()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	sort.Strings(ids)
	return s.writeJSON(s.pendingPath(), ids)
}

// RemovePending drops a job id from the pending set.
func (s *Store) RemovePending(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.readPending()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return s.writeJSON(s.pendingPath(), kept)
}

// SaveCurrentCards persists the card set currently shown to the user. This
// is UI continuity only, never a correctness input.
func (s *Store) SaveCurrentCards(cards []domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(filepath.Join(s.basePath, "current_cards.json"), cards)
}

// LoadCurrentCards restores the last displayed card set, or nil when none
// was saved.
func (s *Store) LoadCurrentCards() ([]domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cards []domain.Card
	err := s.readJSON(filepath.Join(s.basePath, "current_cards.json"), &cards)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Store) jobPath(id string) string {
	return filepath.Join(s.basePath, "jobs", sanitizeID(id)+".json")
}

func (s *Store) sectionsPath(id string) string {
	return filepath.Join(s.basePath, "jobs", sanitizeID(id)+".sections.json")
}

func (s *Store) pendingPath() string {
	return filepath.Join(s.basePath, "pending.json")
}

func (s *Store) readSections(jobID string) ([]SectionRecord, error) {
	var records []SectionRecord
	err := s.readJSON(s.sectionsPath(jobID), &records)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) readPending() ([]string, error) {
	var ids []string
	err := s.readJSON(s.pendingPath(), &ids)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// scrubRefs drops inline payloads from a reference list.
func scrubRefs(refs []string) []string {
	var kept []string
	for _, ref := range refs {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" || strings.HasPrefix(strings.ToLower(trimmed), "data:") {
			continue
		}
		if len(trimmed) > maxPersistedRef {
			continue
		}
		kept = append(kept, trimmed)
	}
	return kept
}

// sanitizeID keeps job-id derived filenames inside the store root.
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "\\", "_")
	id = strings.ReplaceAll(id, "..", "_")
	return id
}
