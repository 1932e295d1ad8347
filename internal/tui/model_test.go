package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/domain"
	"localrag/internal/service"
)

type stubService struct {
	resp    service.Response
	err     error
	queries []string
	topK    int
	resets  int
	stats   domain.IndexStats
}

func (s *stubService) Answer(_ context.Context, query string, topK int) (service.Response, error) {
	s.queries = append(s.queries, query)
	s.topK = topK
	return s.resp, s.err
}

func (s *stubService) Reset(context.Context) error {
	s.resets++
	s.stats = domain.IndexStats{}
	return s.err
}

func (s *stubService) Stats() domain.IndexStats { return s.stats }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func TestModel_AskShowsAnswerAndCyclesContexts(t *testing.T) {
	svc := &stubService{
		stats: domain.IndexStats{Dimension: 4, Records: 2},
		resp: service.Response{
			Answer: "Answer (from retrieved context):\n\n1. first chunk",
			Contexts: []domain.Context{
				{Text: "first chunk.", Source: "a.txt", Score: 0.9},
				{Text: "second chunk.", Source: "b.md", Score: 0.4},
			},
		},
	}
	m := New(svc, 5, "2 documents")
	assert.Contains(t, m.status, "2 chunks, dimension 4.")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	m = typeText(t, m, "what is first?")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	m, _ = update(t, m, cmd())
	assert.Equal(t, []string{"what is first?"}, svc.queries)
	assert.Equal(t, 5, svc.topK)
	assert.False(t, m.busy)
	assert.Len(t, m.contexts, 2)
	assert.Contains(t, m.renderResult(), "1. first chunk")
	assert.Contains(t, m.renderResult(), "Context 1/2  source=a.txt  score=0.900")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Contains(t, m.renderResult(), "Context 2/2  source=b.md")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.cursor)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.cursor)

	assert.Contains(t, m.View(), "Local RAG")
}

func TestModel_BlankQueryIsRejected(t *testing.T) {
	svc := &stubService{}
	m := New(svc, 5, "")
	m = typeText(t, m, "   ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "Please enter a question.", m.status)
	assert.Empty(t, svc.queries)
}

func TestModel_AnswerError(t *testing.T) {
	svc := &stubService{err: errors.New("embedding failure: offline")}
	m := New(svc, 5, "")
	m = typeText(t, m, "q")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, "Error: embedding failure: offline", m.status)
	assert.Empty(t, m.contexts)
	assert.Equal(t, "No answer yet.", m.renderResult())
}

func TestModel_ClearDatabase(t *testing.T) {
	svc := &stubService{stats: domain.IndexStats{Dimension: 4, Records: 9}}
	m := New(svc, 5, "")
	m.answer = "old"
	m.contexts = []domain.Context{{Text: "x"}}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, 1, svc.resets)
	assert.Equal(t, "Database cleared. Index empty.", m.status)
	assert.Empty(t, m.contexts)
}

func TestHighlightBestSentence(t *testing.T) {
	text := "Cats sleep a lot. Dogs chase balls! Birds sing."
	out := highlightBestSentence(text, "why do dogs chase")
	assert.Contains(t, out, "Cats sleep a lot.")
	assert.Contains(t, out, "Birds sing.")
	assert.Contains(t, out, "Dogs chase balls!")

	assert.Equal(t, "no terminator", highlightBestSentence("no terminator", ""))
}
