package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"localrag/internal/domain"
	"localrag/internal/service"
)

// RAGPort is the TUI-facing subset of the RAG service.
type RAGPort interface {
	Answer(ctx context.Context, query string, topK int) (service.Response, error)
	Reset(ctx context.Context) error
	Stats() domain.IndexStats
}

type answerMsg struct {
	query string
	resp  service.Response
	err   error
}

type resetMsg struct {
	err error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service  RAGPort
	topK     int
	input    textinput.Model
	viewport viewport.Model
	answer   string
	contexts []domain.Context
	summary  string
	status   string
	cursor   int
	ready    bool
	busy     bool
	lastQ    string
}

// New creates a new TUI model instance. summary is shown under the header.
func New(service RAGPort, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		service:  service,
		topK:     topK,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   statsLine(service.Stats()) + "  Enter: ask  Up/Down: contexts  Ctrl+R: clear database  Ctrl+C: quit",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + summary, status, spacer
		vh := max(3, msg.Height-reserved)
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderResult())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer, m.contexts = "", nil
		} else {
			m.status = fmt.Sprintf("Results for %q (%d contexts)", msg.query, len(msg.resp.Contexts))
			m.answer, m.contexts = msg.resp.Answer, msg.resp.Contexts
			m.lastQ = msg.query
		}
		m.cursor = 0
		m.viewport.SetContent(m.renderResult())
		m.viewport.GotoTop()
		return m, nil
	case resetMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = "Database cleared. " + statsLine(m.service.Stats())
			m.answer, m.contexts, m.cursor = "", nil, 0
		}
		m.viewport.SetContent(m.renderResult())
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				m.status = "Please enter a question."
				return m, nil
			}
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Searching..."
			return m, m.ask(q)
		case tea.KeyCtrlR:
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Clearing database..."
			return m, m.reset()
		case tea.KeyDown:
			if len(m.contexts) > 0 {
				m.cursor = (m.cursor + 1) % len(m.contexts)
				m.viewport.SetContent(m.renderResult())
				return m, nil
			}
		case tea.KeyUp:
			if len(m.contexts) > 0 {
				m.cursor = (m.cursor - 1 + len(m.contexts)) % len(m.contexts)
				m.viewport.SetContent(m.renderResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(query string) tea.Cmd {
	svc, topK := m.service, m.topK
	return func() tea.Msg {
		resp, err := svc.Answer(context.Background(), query, topK)
		return answerMsg{query: query, resp: resp, err: err}
	}
}

func (m Model) reset() tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		return resetMsg{err: svc.Reset(context.Background())}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Local RAG")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderResult() string {
	if m.answer == "" {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(m.answer))
	if len(m.contexts) == 0 {
		return b.String()
	}
	c := m.contexts[m.cursor]
	title := fmt.Sprintf("Context %d/%d  source=%s  score=%.3f", m.cursor+1, len(m.contexts), c.Source, c.Score)
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")
	b.WriteString(highlightBestSentence(c.Text, m.lastQ))
	return b.String()
}

func statsLine(st domain.IndexStats) string {
	if st.Dimension == 0 {
		return "Index empty."
	}
	return fmt.Sprintf("%d chunks, dimension %d.", st.Records, st.Dimension)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerStyle    = lipgloss.NewStyle()
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
