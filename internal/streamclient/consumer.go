package streamclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStreamFailed wraps in-band error records from the server.
var ErrStreamFailed = errors.New("stream failed")

// Consumer drives one chat turn end to end: it appends the user message,
// opens an assistant turn, consumes the stream into the transcript, paces
// the reveal, strips trailing followup suggestions, and finalizes. A failed
// stream rolls back only the assistant placeholder.
type Consumer struct {
	client     *Client
	transcript *Transcript

	mu        sync.Mutex
	revealer  func() *Revealer
	followups []string
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithRevealer supplies a factory for per-turn reveal pacers. Nil (the
// default) displays text as it arrives.
func WithRevealer(factory func() *Revealer) ConsumerOption {
	return func(c *Consumer) { c.revealer = factory }
}

// NewConsumer builds a consumer over client and transcript.
func NewConsumer(client *Client, transcript *Transcript, opts ...ConsumerOption) *Consumer {
	c := &Consumer{client: client, transcript: transcript}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcript exposes the underlying conversation.
func (c *Consumer) Transcript() *Transcript { return c.transcript }

// Followups returns the suggestions stripped from the last finalized turn.
func (c *Consumer) Followups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.followups))
	copy(out, c.followups)
	return out
}

// Ask runs one turn against documentID. On any fetch, parse, or in-band
// failure the assistant placeholder is rolled back and the user message
// kept, so the question can be retried.
func (c *Consumer) Ask(ctx context.Context, documentID, question string) error {
	if err := c.transcript.AddUserMessage(question); err != nil {
		return err
	}
	history := c.transcript.History()
	if err := c.transcript.BeginTurn(); err != nil {
		return err
	}

	var rev *Revealer
	if c.revealer != nil {
		rev = c.revealer()
	}

	err := c.client.StreamChat(ctx, documentID, history, func(ev Event) error {
		return c.handleEvent(ev, rev)
	})
	if err != nil {
		c.transcript.Rollback()
		return err
	}

	if rev != nil {
		rev.Close()
		if err := rev.Wait(ctx); err != nil {
			c.transcript.Rollback()
			return err
		}
	}

	return c.finishTurn()
}

func (c *Consumer) handleEvent(ev Event, rev *Revealer) error {
	switch ev.Type {
	case EventContent:
		if ev.Content == "" {
			return nil
		}
		if err := c.transcript.AppendDelta(ev.Content); err != nil {
			return err
		}
		if rev != nil {
			rev.Append(ev.Content)
		}
		return nil
	case EventPageImages:
		return c.transcript.AttachPages(ev.Pages)
	case EventError:
		if ev.Err != "" {
			return fmt.Errorf("%w: %s", ErrStreamFailed, ev.Err)
		}
		return ErrStreamFailed
	default:
		// Role records and the done sentinel need no transcript update.
		return nil
	}
}

func (c *Consumer) finishTurn() error {
	msgs := c.transcript.Messages()
	content := msgs[len(msgs)-1].Content

	body, followups := ExtractFollowups(content)
	if body != content {
		if err := c.transcript.SetContent(body); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.followups = followups
	c.mu.Unlock()

	return c.transcript.Finalize()
}
