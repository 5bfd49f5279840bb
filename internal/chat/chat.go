// Package chat is an interactive terminal session against a tenant's
// answer endpoint. Conversation history is kept client side and sent with
// every question.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/assistd/internal/rag"
)

const (
	maxHistory      = 20
	latencySamples  = 30
	sparklineWidth  = 30
	sparklineHeight = 1
	chromeHeight    = 6
)

// Reply is one answer from the server.
type Reply struct {
	Text   string
	Source string
	Score  float64
}

// Asker sends a question with the prior turns.
type Asker interface {
	Ask(ctx context.Context, query string, history []rag.Turn) (Reply, error)
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231"))
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	sparkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
)

type replyMsg struct {
	query   string
	reply   Reply
	elapsed time.Duration
}

type errMsg struct {
	query string
	err   error
}

// Model is the bubbletea model for a chat session.
type Model struct {
	asker   Asker
	tenant  string
	timeout time.Duration

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history    []rag.Turn
	transcript []string
	latencies  []float64
	lastSource string
	pending    bool
	err        error
	quitting   bool
}

// New returns a chat model for tenant. timeout bounds each question.
func New(asker Asker, tenant string, timeout time.Duration) Model {
	in := textinput.New()
	in.Placeholder = "Ask a question"
	in.Prompt = "> "
	in.CharLimit = 2000
	in.Focus()

	return Model{
		asker:    asker,
		tenant:   tenant,
		timeout:  timeout,
		input:    in,
		viewport: viewport.New(80, 16),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// History returns the turns exchanged so far.
func (m Model) History() []rag.Turn {
	return append([]rag.Turn(nil), m.history...)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) ask(query string, history []rag.Turn) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if m.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		start := time.Now()
		reply, err := m.asker.Ask(ctx, query, history)
		if err != nil {
			return errMsg{query: query, err: err}
		}
		return replyMsg{query: query, reply: reply, elapsed: time.Since(start)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			query := strings.TrimSpace(m.input.Value())
			if m.pending || query == "" {
				return m, nil
			}
			m.input.Reset()
			m.pending = true
			m.err = nil
			m.transcript = append(m.transcript, userStyle.Render("You: ")+query)
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.ask(query, m.History()))
		}

	case replyMsg:
		m.pending = false
		m.history = append(m.history,
			rag.Turn{Role: "user", Content: msg.query},
			rag.Turn{Role: "assistant", Content: msg.reply.Text})
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		m.latencies = appendSample(m.latencies, float64(msg.elapsed.Milliseconds()))
		m.lastSource = msg.reply.Source
		m.transcript = append(m.transcript, assistantStyle.Render("Assistant: "+msg.reply.Text))
		m.refresh()
		return m, nil

	case errMsg:
		m.pending = false
		m.err = msg.err
		m.transcript = append(m.transcript, errorStyle.Render("Error: "+msg.err.Error()))
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var inputCmd, viewCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, viewCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, viewCmd)
}

func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.transcript, "\n\n"))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" assistd chat: "+m.tenant+" ") + "\n")
	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(m.status() + "\n")
	b.WriteString(m.input.View() + "\n")
	b.WriteString(footerStyle.Render("[enter] send  [esc] quit"))
	return b.String()
}

func (m Model) status() string {
	switch {
	case m.pending:
		return m.spinner.View() + " thinking..."
	case m.err != nil:
		return errorStyle.Render("last question failed")
	case m.lastSource == "":
		return sourceStyle.Render("no questions yet")
	}
	last := m.latencies[len(m.latencies)-1]
	return sourceStyle.Render(fmt.Sprintf("source: %s  latency: %.0fms  ", m.lastSource, last)) +
		renderSparkline(m.latencies)
}

func renderSparkline(samples []float64) string {
	if len(samples) == 0 {
		return ""
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	spark.PushAll(samples)
	spark.Draw()
	return sparkStyle.Render(spark.View())
}

func appendSample(samples []float64, v float64) []float64 {
	samples = append(samples, v)
	if len(samples) > latencySamples {
		samples = samples[1:]
	}
	return samples
}
