// Package answer relays a streaming chat completion to an event sink as
// SSE-shaped records: a role record, content deltas, an optional single
// page_images record, and the [DONE] terminator.
package answer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

// DoneSentinel is the terminal record payload.
const DoneSentinel = "[DONE]"

// EventWriter receives one record payload per call. The HTTP layer frames
// each payload as a `data: <payload>` SSE record and flushes it.
type EventWriter interface {
	WriteEvent(payload []byte) error
}

// PageURLFunc builds the public image URL for one page of a document.
type PageURLFunc func(documentID string, page int) string

// Request is everything one answer turn needs: the grounded system prompt,
// the conversation so far (last message is the user's question), and the
// pages cited by retrieval.
type Request struct {
	DocumentID   string
	SystemPrompt string
	History      []models.ChatMessage
	Pages        []int
}

type roleRecord struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

type contentRecord struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type pageImagesRecord struct {
	Type  string           `json:"type"`
	Pages []models.PageRef `json:"pages"`
}

type errorRecord struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Streamer bridges the generation backend and an event sink.
type Streamer struct {
	llm       core.LLMProvider
	pageURL   PageURLFunc
	charSplit bool
	log       *logger.Logger
}

type Option func(*Streamer)

// WithCharSplit re-emits every delta one character per record. Purely a
// presentation choice for clients without their own reveal pacing.
func WithCharSplit(on bool) Option {
	return func(s *Streamer) { s.charSplit = on }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Streamer) { s.log = log }
}

func New(llm core.LLMProvider, pageURL PageURLFunc, opts ...Option) *Streamer {
	s := &Streamer{llm: llm, pageURL: pageURL, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream runs one answer turn against the sink. The caller must not have
// written anything yet: the first record out is the role record, so
// pre-stream failures (rate limit, quota) can still surface as plain HTTP
// errors. Once deltas flow, a backend failure aborts the stream with a
// best-effort error record and no terminator.
func (s *Streamer) Stream(ctx context.Context, w EventWriter, req Request) error {
	if err := s.writeJSON(w, roleRecord{Type: "role", Role: models.RoleAssistant}); err != nil {
		return fmt.Errorf("write role record: %w", err)
	}

	full, err := s.llm.StreamChat(ctx, req.SystemPrompt, req.History, func(delta string) error {
		return s.writeDelta(w, delta)
	})
	if err != nil {
		s.log.Warn("generation stream aborted", "documentId", req.DocumentID, "error", err)
		s.tryWriteError(w)
		return err
	}

	if len(req.Pages) > 0 {
		refs := make([]models.PageRef, len(req.Pages))
		for i, p := range req.Pages {
			refs[i] = models.PageRef{URL: s.pageURL(req.DocumentID, p), PageNumber: p}
		}
		if err := s.writeJSON(w, pageImagesRecord{Type: "page_images", Pages: refs}); err != nil {
			return fmt.Errorf("write page_images record: %w", err)
		}
	}

	if err := w.WriteEvent([]byte(DoneSentinel)); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	s.log.Debug("answer streamed",
		"documentId", req.DocumentID, "chars", len(full), "pages", len(req.Pages))
	return nil
}

func (s *Streamer) writeDelta(w EventWriter, delta string) error {
	if delta == "" {
		return nil
	}
	if !s.charSplit {
		return s.writeJSON(w, contentRecord{Type: "content", Content: delta})
	}
	for _, r := range delta {
		if err := s.writeJSON(w, contentRecord{Type: "content", Content: string(r)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Streamer) writeJSON(w EventWriter, record any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return w.WriteEvent(b)
}

// tryWriteError is best-effort: the sink may already be gone.
func (s *Streamer) tryWriteError(w EventWriter) {
	b, err := json.Marshal(errorRecord{Type: "error", Error: "generation failed"})
	if err != nil {
		return
	}
	_ = w.WriteEvent(b)
}
