package domain

import (
	"fmt"
	"strings"
	"time"
)

// Section identifies one of the up to four artwork panels composing a card.
type Section int

const (
	SectionFrontCover Section = iota
	SectionBackCover
	SectionLeftInterior
	SectionRightInterior
)

var sectionNames = [...]string{"front_cover", "back_cover", "left_interior", "right_interior"}

func (s Section) String() string {
	if s < SectionFrontCover || s > SectionRightInterior {
		return fmt.Sprintf("section(%d)", int(s))
	}
	return sectionNames[s]
}

// ParseSection maps a wire name back to a Section.
func ParseSection(name string) (Section, error) {
	for i, n := range sectionNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return Section(i), nil
		}
	}
	return 0, fmt.Errorf("unknown section %q", name)
}

// CardMode selects which sections a card variant requires.
type CardMode string

const (
	// CardModeFrontBack produces only the two covers.
	CardModeFrontBack CardMode = "front_back"
	// CardModeFull produces covers plus both interior pages.
	CardModeFull CardMode = "full"
)

// RequiredSections returns the section set a card of the given mode must
// resolve before it can be assembled.
func RequiredSections(mode CardMode) []Section {
	if mode == CardModeFrontBack {
		return []Section{SectionFrontCover, SectionBackCover}
	}
	return []Section{SectionFrontCover, SectionBackCover, SectionLeftInterior, SectionRightInterior}
}

// SectionKey is the composite key into the completion map. Using a struct
// instead of an encoded string keeps lookups exhaustive and typo-proof.
type SectionKey struct {
	Card    int
	Section Section
}

func (k SectionKey) String() string {
	return fmt.Sprintf("card=%d section=%s", k.Card, k.Section)
}

// SectionPrompts holds one natural-language instruction per required
// section of a single card variant. Interior prompts are present only in
// full mode.
type SectionPrompts struct {
	FrontCover    string `json:"frontCover"`
	BackCover     string `json:"backCover"`
	LeftInterior  string `json:"leftInterior,omitempty"`
	RightInterior string `json:"rightInterior,omitempty"`
}

// For returns the prompt for a section.
func (p SectionPrompts) For(s Section) string {
	switch s {
	case SectionFrontCover:
		return p.FrontCover
	case SectionBackCover:
		return p.BackCover
	case SectionLeftInterior:
		return p.LeftInterior
	case SectionRightInterior:
		return p.RightInterior
	}
	return ""
}

// Complete reports whether every section required by mode has a prompt.
func (p SectionPrompts) Complete(mode CardMode) bool {
	for _, s := range RequiredSections(mode) {
		if strings.TrimSpace(p.For(s)) == "" {
			return false
		}
	}
	return true
}

// Card is the assembled artifact. Section URLs are immutable once the card
// is built from a complete section set; the single exception is the
// back-cover replacement performed by the finalization pipeline.
type Card struct {
	ID               string          `json:"id"`
	Prompt           string          `json:"prompt"`
	FrontCoverURL    string          `json:"front_cover_url"`
	BackCoverURL     string          `json:"back_cover_url"`
	LeftInteriorURL  string          `json:"left_interior_url,omitempty"`
	RightInteriorURL string          `json:"right_interior_url,omitempty"`
	GeneratedPrompts *SectionPrompts `json:"generated_prompts,omitempty"`
	ShareURL         string          `json:"share_url,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SectionURL returns the asset URL recorded for a section.
func (c *Card) SectionURL(s Section) string {
	switch s {
	case SectionFrontCover:
		return c.FrontCoverURL
	case SectionBackCover:
		return c.BackCoverURL
	case SectionLeftInterior:
		return c.LeftInteriorURL
	case SectionRightInterior:
		return c.RightInteriorURL
	}
	return ""
}
