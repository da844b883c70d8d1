package streamclient

import (
	"fmt"
	"sync"

	"github.com/pagemark-io/pagemark/internal/models"
)

// TurnState tracks the assistant turn lifecycle.
type TurnState int

const (
	// NoTurn means no assistant turn is open.
	NoTurn TurnState = iota
	// StreamingTurn means an assistant placeholder exists and accepts updates.
	StreamingTurn
	// FinalizedTurn means the last assistant turn is frozen.
	FinalizedTurn
)

// Message is one transcript entry. Assistant messages may carry page refs.
type Message struct {
	Role    string
	Content string
	Pages   []models.PageRef
}

// Transcript holds the conversation and enforces turn transitions. Streamed
// deltas update the open assistant message in place, so readers always see
// total-so-far content rather than a trail of partial messages. Safe for use
// from a consuming goroutine and a rendering goroutine at once.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	state    TurnState
}

func NewTranscript() *Transcript { return &Transcript{} }

func (t *Transcript) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// History converts the transcript to the chat wire form, excluding any open
// assistant placeholder so a request never carries the empty turn.
func (t *Transcript) History() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.messages
	if t.state == StreamingTurn && len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1]
	}
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// AddUserMessage appends the user's question.
func (t *Transcript) AddUserMessage(content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StreamingTurn {
		return fmt.Errorf("turn in progress")
	}
	t.messages = append(t.messages, Message{Role: models.RoleUser, Content: content})
	return nil
}

// BeginTurn opens an assistant turn with an empty placeholder message.
func (t *Transcript) BeginTurn() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StreamingTurn {
		return fmt.Errorf("turn already in progress")
	}
	t.messages = append(t.messages, Message{Role: models.RoleAssistant})
	t.state = StreamingTurn
	return nil
}

// AppendDelta grows the open turn's content.
func (t *Transcript) AppendDelta(delta string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, err := t.openTurn()
	if err != nil {
		return err
	}
	turn.Content += delta
	return nil
}

// SetContent replaces the open turn's content wholesale.
func (t *Transcript) SetContent(content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, err := t.openTurn()
	if err != nil {
		return err
	}
	turn.Content = content
	return nil
}

// AttachPages records the cited page images on the open turn.
func (t *Transcript) AttachPages(pages []models.PageRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, err := t.openTurn()
	if err != nil {
		return err
	}
	turn.Pages = pages
	return nil
}

// Finalize freezes the open turn.
func (t *Transcript) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.openTurn(); err != nil {
		return err
	}
	t.state = FinalizedTurn
	return nil
}

// Rollback discards the open assistant turn after a failed stream. The user
// message that started the turn is kept.
func (t *Transcript) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StreamingTurn {
		return
	}
	if n := len(t.messages); n > 0 && t.messages[n-1].Role == models.RoleAssistant {
		t.messages = t.messages[:n-1]
	}
	t.state = NoTurn
}

// openTurn requires t.mu held.
func (t *Transcript) openTurn() (*Message, error) {
	if t.state != StreamingTurn || len(t.messages) == 0 {
		return nil, fmt.Errorf("no turn in progress")
	}
	return &t.messages[len(t.messages)-1], nil
}
