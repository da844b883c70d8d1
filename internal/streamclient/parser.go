// Package streamclient consumes the chat event stream: an incremental SSE
// parser tolerant of arbitrary read boundaries, a transcript with explicit
// turn states, an optional character-reveal pacer, and followup extraction.
package streamclient

import (
	"encoding/json"
	"strings"

	"github.com/pagemark-io/pagemark/internal/models"
)

// DoneSentinel terminates the stream.
const DoneSentinel = "[DONE]"

// EventType discriminates parsed records.
type EventType string

const (
	EventRole       EventType = "role"
	EventContent    EventType = "content"
	EventPageImages EventType = "page_images"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event is one parsed stream record.
type Event struct {
	Type    EventType
	Role    string
	Content string
	Pages   []models.PageRef
	Err     string
}

type wireRecord struct {
	Type    string           `json:"type"`
	Role    string           `json:"role"`
	Content string           `json:"content"`
	Pages   []models.PageRef `json:"pages"`
	Images  []models.PageRef `json:"images"`
	Error   string           `json:"error"`
}

// Parser reassembles SSE records from raw stream bytes fed in arbitrarily
// sized fragments. A record split across two reads fails JSON parsing on the
// first read; the partial line is pushed back onto the pending buffer and
// parses whole once the rest arrives. The emitted events are identical for
// every byte-level split of the same stream.
type Parser struct {
	buf  string
	done bool
}

func NewParser() *Parser { return &Parser{} }

// Done reports whether the terminator was seen.
func (p *Parser) Done() bool { return p.done }

// Feed consumes the next fragment and returns every record completed by it.
// After the [DONE] sentinel all further input is ignored.
func (p *Parser) Feed(chunk []byte) []Event {
	if p.done {
		return nil
	}
	p.buf += string(chunk)

	lines := strings.Split(p.buf, "\n")
	p.buf = ""

	var events []Event
	for i, line := range lines {
		last := i == len(lines)-1
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			// The tail may be a record cut inside its own prefix.
			if last {
				p.buf = line
			}
			continue
		}
		if data == DoneSentinel {
			p.done = true
			events = append(events, Event{Type: EventDone})
			break
		}

		var rec wireRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			p.buf = line
			continue
		}
		events = append(events, toEvent(rec))
	}
	return events
}

func toEvent(rec wireRecord) Event {
	pages := rec.Pages
	if len(pages) == 0 {
		pages = rec.Images
	}
	ev := Event{
		Type:    EventType(rec.Type),
		Role:    rec.Role,
		Content: rec.Content,
		Pages:   pages,
		Err:     rec.Error,
	}
	// Untyped page payloads still count as page_images records.
	if rec.Type == "" && len(pages) > 0 {
		ev.Type = EventPageImages
	}
	return ev
}
