package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSchemaViolation marks a prompt synthesis response that is missing
	// required section keys. Fatal for that card variant, never retried.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrModerationBlocked marks a generation request rejected by the
	// upstream content-safety filter. Retried with a rewritten prompt.
	ErrModerationBlocked = errors.New("moderation blocked")
	// ErrTransport marks a network or HTTP failure on a collaborator call.
	ErrTransport = errors.New("transport error")
	// ErrFinalization marks a share-storage or code-stamping failure.
	// Never fatal: the card is still delivered un-stamped.
	ErrFinalization = errors.New("finalization error")
)

// ModerationExhaustedError reports a section task that stayed blocked after
// the rewrite budget ran out.
type ModerationExhaustedError struct {
	Card     int
	Section  Section
	Attempts int
}

func (e *ModerationExhaustedError) Error() string {
	return fmt.Sprintf("moderation exhausted for card %d %s after %d attempts", e.Card, e.Section, e.Attempts)
}
