// Package retrieval turns a user question into a grounding context: it
// embeds the query, runs a cosine nearest-neighbor search scoped to one
// document, filters weak matches, and assembles the numbered excerpt block
// plus the cited page list.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/core/embedding"
	"github.com/pagemark-io/pagemark/internal/core/pagemarker"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

const (
	// DefaultTopK bounds the nearest-neighbor search.
	DefaultTopK = 8
	// DefaultThreshold is the minimum similarity (1 - cosine distance) a
	// chunk needs to enter the grounding context.
	DefaultThreshold = 0.2
	// maxCitedPages caps the page list attached to an answer.
	maxCitedPages = 10
)

// FallbackInstruction replaces the excerpt block when nothing clears the
// threshold. The model must admit the gap instead of inventing content.
const FallbackInstruction = "No relevant excerpts were found in the document for this question. " +
	"Tell the user the document does not appear to cover it. Do not answer from outside knowledge."

const basePrompt = "You are an assistant answering questions about a single document. " +
	"Answer only from the numbered excerpts below. " +
	"When you use an excerpt, cite it as [n]. If the excerpts do not cover the question, say so."

// Result is one retrieval outcome: the surviving matches in descending
// similarity order, the assembled context block, and the pages cited by
// markers inside the matched text.
type Result struct {
	Matches []models.ChunkMatch
	Context string
	Pages   []int
}

// Empty reports whether no chunk cleared the threshold.
func (r *Result) Empty() bool { return len(r.Matches) == 0 }

// SystemPrompt renders the grounded system prompt for the generation
// backend. An empty result yields the fallback instruction instead of an
// excerpt block.
func (r *Result) SystemPrompt() string {
	if r.Empty() {
		return basePrompt + "\n\n" + FallbackInstruction
	}
	return basePrompt + "\n\nExcerpts:\n\n" + r.Context
}

// Retriever runs document-scoped semantic search.
type Retriever struct {
	db        core.DbClient
	embedder  *embedding.Client
	topK      int
	threshold float64
	log       *logger.Logger
}

type Option func(*Retriever)

// WithTopK overrides the search limit.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithThreshold overrides the minimum similarity.
func WithThreshold(t float64) Option {
	return func(r *Retriever) {
		if t >= 0 {
			r.threshold = t
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(r *Retriever) { r.log = log }
}

func New(db core.DbClient, embedder *embedding.Client, opts ...Option) *Retriever {
	r := &Retriever{
		db:        db,
		embedder:  embedder,
		topK:      DefaultTopK,
		threshold: DefaultThreshold,
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds the query and returns the grounding material for it,
// scoped to one document. Matches below the similarity threshold are
// dropped entirely; an empty result is valid and means the caller should
// rely on the fallback instruction.
func (r *Retriever) Retrieve(ctx context.Context, query, documentID string) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apierr.Validation("query must not be empty")
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.db.SearchDocumentChunks(ctx, documentID, vec, r.topK)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("chunk search: %w", err))
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Similarity() >= r.threshold {
			kept = append(kept, m)
		}
	}

	res := &Result{
		Matches: kept,
		Context: buildContext(kept),
		Pages:   citedPages(kept),
	}
	r.log.Debug("retrieval done",
		"documentId", documentID, "candidates", len(matches), "kept", len(kept), "pages", len(res.Pages))
	return res, nil
}

// buildContext labels each match with its citation rank and joins them with
// blank lines. Rank order is the search order, which is descending
// similarity.
func buildContext(matches []models.ChunkMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, strings.TrimSpace(m.Chunk.Text))
	}
	return sb.String()
}

// citedPages collects every page marker inside the matched text,
// deduplicated and ascending, capped at maxCitedPages.
func citedPages(matches []models.ChunkMatch) []int {
	seen := map[int]bool{}
	var pages []int
	for _, m := range matches {
		for _, p := range pagemarker.All(m.Chunk.Text) {
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
	}
	sort.Ints(pages)
	if len(pages) > maxCitedPages {
		pages = pages[:maxCitedPages]
	}
	return pages
}
