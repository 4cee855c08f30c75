package prompts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardsmith/internal/domain"
	"cardsmith/internal/providers/textgen"
)

type stubCompleter struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
}

func (s *stubCompleter) Complete(ctx context.Context, req textgen.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func TestSynthesizeFullMode(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"frontCover":"a dog in a party hat","backCover":"confetti pattern","leftInterior":"streamers","rightInterior":"balloons"}`,
	}}
	s := NewSynthesizer(stub, "text-gen-medium")

	sets, err := s.Synthesize(context.Background(), Brief{Theme: "birthday dog", Mode: domain.CardModeFull}, 2)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, 2, stub.calls, "one independent call per variant")
	for _, set := range sets {
		assert.True(t, set.Complete(domain.CardModeFull))
	}
}

func TestSynthesizeMissingKeyIsSchemaViolation(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"frontCover":"a dog","backCover":"confetti","leftInterior":"streamers"}`,
	}}
	s := NewSynthesizer(stub, "text-gen-medium")

	_, err := s.Synthesize(context.Background(), Brief{Theme: "birthday", Mode: domain.CardModeFull}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaViolation)
}

func TestParseSectionPrompts(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		mode    domain.CardMode
		wantErr bool
	}{
		{
			name: "front back only needs two keys",
			raw:  `{"frontCover":"a","backCover":"b"}`,
			mode: domain.CardModeFrontBack,
		},
		{
			name: "fenced response",
			raw:  "```json\n{\"frontCover\":\"a\",\"backCover\":\"b\"}\n```",
			mode: domain.CardModeFrontBack,
		},
		{
			name:    "interior keys required in full mode",
			raw:     `{"frontCover":"a","backCover":"b"}`,
			mode:    domain.CardModeFull,
			wantErr: true,
		},
		{
			name:    "empty required value rejected",
			raw:     `{"frontCover":"","backCover":"b"}`,
			mode:    domain.CardModeFrontBack,
			wantErr: true,
		},
		{
			name:    "non-json rejected",
			raw:     "sorry, I cannot help with that",
			mode:    domain.CardModeFrontBack,
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set, err := ParseSectionPrompts(tc.raw, tc.mode)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrSchemaViolation)
				return
			}
			require.NoError(t, err)
			assert.True(t, set.Complete(tc.mode))
		})
	}
}

func TestRewritePreservesOnlyText(t *testing.T) {
	stub := &stubCompleter{responses: []string{"\"a cheerful dog with a paper crown\"\n"}}
	r := NewRewriter(stub, "text-gen-medium")

	out, err := r.Rewrite(context.Background(), "a dog with a realistic sword", domain.SectionFrontCover)
	require.NoError(t, err)
	assert.Equal(t, "a cheerful dog with a paper crown", out)
}

func TestRewritePropagatesCompleterError(t *testing.T) {
	stub := &stubCompleter{err: errors.New("boom")}
	r := NewRewriter(stub, "text-gen-medium")

	_, err := r.Rewrite(context.Background(), "x", domain.SectionBackCover)
	require.Error(t, err)
}

func TestEffectiveTheme(t *testing.T) {
	b := Brief{Theme: "space cats", Occasion: "birthday"}
	assert.Equal(t, "Birthday Space Cats", b.EffectiveTheme())
}
