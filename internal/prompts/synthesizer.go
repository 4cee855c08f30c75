package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cardsmith/internal/domain"
	"cardsmith/internal/providers/textgen"
)

// Completer is the slice of the text-generation client the synthesizer needs.
type Completer interface {
	Complete(ctx context.Context, req textgen.Request) (string, error)
}

// Brief is the user-supplied description of the card to generate.
type Brief struct {
	Theme     string
	Tone      string
	Recipient string
	Occasion  string
	Style     string
	Mode      domain.CardMode
}

// EffectiveTheme is the display form of the brief used as the card prompt.
func (b Brief) EffectiveTheme() string {
	c := cases.Title(language.Und)
	theme := strings.TrimSpace(b.Theme)
	if theme == "" {
		theme = "Greeting Card"
	}
	if occasion := strings.TrimSpace(b.Occasion); occasion != "" {
		return fmt.Sprintf("%s %s", c.String(occasion), c.String(theme))
	}
	return c.String(theme)
}

const frontBackSchema = `{
	"type": "object",
	"required": ["frontCover", "backCover"],
	"properties": {
		"frontCover": {"type": "string", "minLength": 1},
		"backCover": {"type": "string", "minLength": 1},
		"leftInterior": {"type": "string"},
		"rightInterior": {"type": "string"}
	}
}`

const fullSchema = `{
	"type": "object",
	"required": ["frontCover", "backCover", "leftInterior", "rightInterior"],
	"properties": {
		"frontCover": {"type": "string", "minLength": 1},
		"backCover": {"type": "string", "minLength": 1},
		"leftInterior": {"type": "string", "minLength": 1},
		"rightInterior": {"type": "string", "minLength": 1}
	}
}`

// SchemaFor returns the JSON schema the service response must honor for the
// given card mode.
func SchemaFor(mode domain.CardMode) string {
	if mode == domain.CardModeFrontBack {
		return frontBackSchema
	}
	return fullSchema
}

// Synthesizer turns a brief into per-section generation instructions, one
// independent structured set per card variant.
type Synthesizer struct {
	completer Completer
	model     string
}

// NewSynthesizer wires a synthesizer over a text-generation completer.
func NewSynthesizer(completer Completer, model string) *Synthesizer {
	return &Synthesizer{completer: completer, model: model}
}

// Synthesize produces n independent SectionPrompts. Variant requests run
// concurrently with no ordering guarantee between them; a variant whose
// response is missing required keys fails hard with ErrSchemaViolation.
func (s *Synthesizer) Synthesize(ctx context.Context, brief Brief, n int) ([]domain.SectionPrompts, error) {
	if n <= 0 {
		n = 1
	}
	results := make([]domain.SectionPrompts, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			set, err := s.synthesizeVariant(gctx, brief, i)
			if err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}
			results[i] = *set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Synthesizer) synthesizeVariant(ctx context.Context, brief Brief, variant int) (*domain.SectionPrompts, error) {
	schema := SchemaFor(brief.Mode)
	raw, err := s.completer.Complete(ctx, textgen.Request{
		Model:        s.model,
		SystemPrompt: synthesisSystemPrompt,
		JSONSchema:   json.RawMessage(schema),
		Messages: []textgen.Message{{
			Role:    "user",
			Content: buildSynthesisPrompt(brief, variant),
		}},
	})
	if err != nil {
		return nil, err
	}
	set, err := ParseSectionPrompts(raw, brief.Mode)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ParseSectionPrompts defensively decodes and validates one variant's
// response. Partial prompt sets are rejected: downstream section generation
// requires exactly one prompt per required section.
func ParseSectionPrompts(raw string, mode domain.CardMode) (*domain.SectionPrompts, error) {
	var doc json.RawMessage
	if err := textgen.DecodeJSON(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	if err := validateSchema(doc, mode); err != nil {
		return nil, err
	}
	var set domain.SectionPrompts
	if err := json.Unmarshal(doc, &set); err != nil {
		return nil, fmt.Errorf("%w: decode prompts: %v", domain.ErrSchemaViolation, err)
	}
	if !set.Complete(mode) {
		return nil, fmt.Errorf("%w: blank prompt for a required section", domain.ErrSchemaViolation)
	}
	return &set, nil
}

const synthesisSystemPrompt = "You are an art director writing image-generation instructions " +
	"for an illustrated greeting card. Respond strictly with JSON matching the provided schema: " +
	"one vivid, self-contained visual instruction per section. Never include text layout " +
	"directions for sections other than the front cover."

func buildSynthesisPrompt(brief Brief, variant int) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Write per-section illustration prompts for a greeting card. theme=%q tone=%q recipient=%q",
		brief.Theme, brief.Tone, brief.Recipient)
	if brief.Occasion != "" {
		fmt.Fprintf(sb, " occasion=%q", brief.Occasion)
	}
	if brief.Style != "" {
		fmt.Fprintf(sb, " style=%q", brief.Style)
	}
	if brief.Mode == domain.CardModeFrontBack {
		sb.WriteString(" Sections: frontCover, backCover.")
	} else {
		sb.WriteString(" Sections: frontCover, backCover, leftInterior, rightInterior.")
	}
	// The variant index keeps concurrent requests from collapsing into the
	// same composition.
	fmt.Fprintf(sb, " Make this variant %d distinct from other variants.", variant+1)
	return sb.String()
}
