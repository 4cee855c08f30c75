package prompts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cardsmith/internal/domain"
	"cardsmith/internal/providers/textgen"
)

// Rewriter produces a policy-compliant replacement for a prompt the
// content-safety filter rejected, preserving the artistic intent.
type Rewriter struct {
	completer Completer
	model     string
}

// NewRewriter wires a rewriter over a text-generation completer.
func NewRewriter(completer Completer, model string) *Rewriter {
	return &Rewriter{completer: completer, model: model}
}

const rewriteSystemPrompt = "An image-generation prompt was rejected by a content-safety filter. " +
	"Rewrite it so it passes moderation while keeping the same artistic intent, subject and mood. " +
	"Remove or soften anything that could be read as violent, explicit, hateful or trademarked. " +
	"Respond with the rewritten prompt only, no commentary."

// Rewrite returns a rewritten prompt for the given section.
func (r *Rewriter) Rewrite(ctx context.Context, prompt string, section domain.Section) (string, error) {
	raw, err := r.completer.Complete(ctx, textgen.Request{
		Model:        r.model,
		SystemPrompt: rewriteSystemPrompt,
		Messages: []textgen.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Section: %s. Rejected prompt: %s", section, prompt),
		}},
	})
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(raw)
	rewritten = strings.Trim(rewritten, `"`)
	if rewritten == "" {
		return "", errors.New("rewrite produced an empty prompt")
	}
	return rewritten, nil
}
