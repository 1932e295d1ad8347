package answer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"localrag/internal/domain"
)

func TestTemplateSynthesizer_NoContexts(t *testing.T) {
	s := NewTemplateSynthesizer(0)
	assert.Equal(t, NoAnswer, s.Synthesize("anything", nil))
	assert.Equal(t, NoAnswer, s.Synthesize("anything", []domain.Context{}))
}

func TestTemplateSynthesizer_TruncatesToThree(t *testing.T) {
	s := NewTemplateSynthesizer(0)
	contexts := []domain.Context{
		{Text: "first", Source: "a", Score: 0.9},
		{Text: "second", Source: "b", Score: 0.8},
		{Text: "third", Source: "c", Score: 0.7},
		{Text: "fourth", Source: "d", Score: 0.6},
	}
	got := s.Synthesize("q", contexts)

	assert.True(t, strings.HasPrefix(got, intro))
	assert.True(t, strings.HasSuffix(got, disclaimer))
	assert.Contains(t, got, "1. first\n\n")
	assert.Contains(t, got, "2. second\n\n")
	assert.Contains(t, got, "3. third\n\n")
	assert.NotContains(t, got, "fourth")
}

func TestTemplateSynthesizer_Deterministic(t *testing.T) {
	s := NewTemplateSynthesizer(2)
	contexts := []domain.Context{{Text: "only"}, {Text: "two"}, {Text: "three"}}
	want := intro + "1. only\n\n2. two\n\n" + disclaimer
	assert.Equal(t, want, s.Synthesize("q", contexts))
	assert.Equal(t, want, s.Synthesize("other", contexts))
}
