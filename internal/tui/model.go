// Package tui is the terminal chat interface: a conversation viewport over a
// text input, streaming answers into the transcript with an optional smooth
// character reveal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/streamclient"
)

// redraw cadence while an answer is streaming in.
const frameInterval = 40 * time.Millisecond

// Options configures the chat UI.
type Options struct {
	Client       *streamclient.Client
	DocumentID   string
	DocumentName string

	// SmoothReveal paces the answer one character per RevealInterval
	// instead of printing whole deltas as they arrive.
	SmoothReveal   bool
	RevealInterval time.Duration
}

// revealSlot shares the current turn's pacer between model copies.
type revealSlot struct {
	mu  sync.Mutex
	cur *streamclient.Revealer
}

func (s *revealSlot) set(r *streamclient.Revealer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = r
}

func (s *revealSlot) get() *streamclient.Revealer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

type turnDoneMsg struct{ err error }

type frameMsg time.Time

// Model is the Bubble Tea model for the chat application.
type Model struct {
	consumer *streamclient.Consumer
	docID    string
	docName  string

	input    textinput.Model
	viewport viewport.Model
	reveal   *revealSlot

	status    string
	streaming bool
	ready     bool
}

// New creates the chat model over an authenticated client.
func New(opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the document and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)

	m := Model{
		docID:    opts.DocumentID,
		docName:  opts.DocumentName,
		input:    ti,
		viewport: vp,
		status:   "Ready. Enter sends, ctrl+c quits.",
	}

	var copts []streamclient.ConsumerOption
	if opts.SmoothReveal {
		interval := opts.RevealInterval
		slot := &revealSlot{}
		copts = append(copts, streamclient.WithRevealer(func() *streamclient.Revealer {
			r := streamclient.NewRevealer(nil, streamclient.WithInterval(interval))
			slot.set(r)
			return r
		}))
		m.reveal = slot
	}
	m.consumer = streamclient.NewConsumer(opts.Client, streamclient.NewTranscript(), copts...)
	return m
}

// Init starts the input cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window, and stream progress events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ch := chatBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + ih + 1 // header, status, input frame, spacer
		vh := msg.Height - reserved - ch
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = maxInt(20, msg.Width-2)
		m.viewport.Height = vh
		m.viewport.SetContent(m.renderConversation())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.streaming {
				m.status = "Still answering..."
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.input.Reset()
			m.streaming = true
			m.status = "Thinking..."
			return m, tea.Batch(m.askCmd(q), frameCmd())
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case frameMsg:
		if !m.streaming {
			return m, nil
		}
		m.viewport.SetContent(m.renderConversation())
		m.viewport.GotoBottom()
		return m, frameCmd()

	case turnDoneMsg:
		m.streaming = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else if len(m.consumer.Followups()) > 0 {
			m.status = "Answered. Suggested questions below."
		} else {
			m.status = "Answered."
		}
		m.viewport.SetContent(m.renderConversation())
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := m.docName
	if title == "" {
		title = m.docID
	}
	header := headerStyle.Render("pagemark") + " " + titleStyle.Render(title)
	chat := chatBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + chat + "\n" + input + "\n" + status
}

func (m Model) askCmd(question string) tea.Cmd {
	consumer := m.consumer
	docID := m.docID
	return func() tea.Msg {
		return turnDoneMsg{err: consumer.Ask(context.Background(), docID, question)}
	}
}

func frameCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m Model) renderConversation() string {
	msgs := m.consumer.Transcript().Messages()
	var followups []string
	if !m.streaming {
		followups = m.consumer.Followups()
	}
	visible := ""
	if m.streaming && m.reveal != nil {
		if rev := m.reveal.get(); rev != nil {
			visible = rev.Visible()
		}
	}
	body := renderMessages(msgs, m.streaming, m.reveal != nil, visible, followups)
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(body)
}

// renderMessages formats the conversation. While a turn streams with smooth
// reveal on, the open assistant message shows the revealed prefix instead of
// everything buffered so far.
func renderMessages(msgs []streamclient.Message, streaming, smooth bool, visible string, followups []string) string {
	if len(msgs) == 0 {
		return mutedStyle.Render("Ask a question about the document.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		open := streaming && i == len(msgs)-1 && msg.Role == models.RoleAssistant
		switch msg.Role {
		case models.RoleUser:
			b.WriteString(userLabelStyle.Render("you") + "  " + msg.Content)
		case models.RoleAssistant:
			content := msg.Content
			if open && smooth {
				content = visible
			}
			if open {
				content += cursorGlyph
			}
			b.WriteString(assistantLabelStyle.Render("pagemark") + "  " + content)
			for _, p := range msg.Pages {
				b.WriteString("\n" + pageRefStyle.Render(fmt.Sprintf("  page %d  %s", p.PageNumber, p.URL)))
			}
		}
	}

	if len(followups) > 0 {
		b.WriteString("\n\n" + followupHeadStyle.Render("You might ask:"))
		for _, q := range followups {
			b.WriteString("\n" + followupStyle.Render("  - "+q))
		}
	}
	return b.String()
}

const cursorGlyph = "▌"

var (
	headerStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	titleStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	chatBoxStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	pageRefStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	mutedStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	followupHeadStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	followupStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
