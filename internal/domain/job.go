package domain

import "time"

// JobStatus enumerates job lifecycle states. A job moves from processing to
// exactly one terminal state and is immutable afterwards.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ModelConfig carries the generation service selection for a job.
type ModelConfig struct {
	ModelVersion string `json:"model_version"`
	AspectRatio  string `json:"aspect_ratio"`
	Quality      string `json:"quality"`
}

// JobPayload is the full input snapshot needed to resume work after a
// restart. It is bounded by the persistence contract: prompts, ids and
// opaque asset references only, never raw image bytes or data URLs.
type JobPayload struct {
	Theme       string           `json:"theme"`
	Tone        string           `json:"tone"`
	Recipient   string           `json:"recipient"`
	Occasion    string           `json:"occasion,omitempty"`
	Mode        CardMode         `json:"mode"`
	CardCount   int              `json:"card_count"`
	Model       ModelConfig      `json:"model"`
	Prompts     []SectionPrompts `json:"prompts,omitempty"`
	InputImages []string         `json:"input_images,omitempty"`
}

// Job represents one user-initiated card generation request.
type Job struct {
	ID        string     `json:"id"`
	Status    JobStatus  `json:"status"`
	Payload   JobPayload `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
	Result    []Card     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}
