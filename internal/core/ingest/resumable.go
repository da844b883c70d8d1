package ingest

import (
	"context"
	"fmt"

	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
)

// ProcessNextBatch settles up to PassLimit unembedded chunks of the
// document and reports how many remain. Each chunk is claimed with a
// leased conditional update first, so concurrent passes never embed the
// same chunk twice; losing a claim is a skip, not an error. When nothing
// remains the document is finalized, and calling again is a no-op.
func (c *Coordinator) ProcessNextBatch(ctx context.Context, docID string) (*PassReport, error) {
	doc, err := c.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("load document: %w", err))
	}
	if doc == nil {
		return nil, apierr.NotFound("document %s", docID)
	}

	chunks, err := c.db.SelectUnembeddedChunks(ctx, docID, c.cfg.PassLimit)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("select unembedded: %w", err))
	}

	report := &PassReport{Errors: []string{}}
	for i := range chunks {
		ch := &chunks[i]

		if i > 0 && c.cfg.ItemDelay > 0 {
			if err := c.sleep(ctx, c.cfg.ItemDelay); err != nil {
				c.sampleError(&report.Errors, fmt.Sprintf("pass interrupted: %v", err))
				break
			}
		}

		claimed, err := c.db.ClaimChunkForEmbedding(ctx, ch.ID, c.cfg.ClaimLease)
		if err != nil {
			c.sampleError(&report.Errors, fmt.Sprintf("chunk %d: claim: %v", ch.ChunkIndex, err))
			continue
		}
		if !claimed {
			continue
		}

		vec, err := c.embedder.Embed(ctx, ch.Text)
		if err != nil {
			c.sampleError(&report.Errors, fmt.Sprintf("chunk %d: %v", ch.ChunkIndex, err))
			continue
		}
		if err := c.db.SetChunkEmbedding(ctx, ch.ID, vec); err != nil {
			c.sampleError(&report.Errors, fmt.Sprintf("chunk %d: persist vector: %v", ch.ChunkIndex, err))
			continue
		}
		report.Processed++
	}

	remaining, err := c.db.CountUnembeddedChunks(ctx, docID)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("count unembedded: %w", err))
	}
	report.Remaining = remaining
	report.Complete = remaining == 0

	if report.Complete && doc.Status != models.StatusReady {
		all, err := c.db.GetChunksByDocument(ctx, docID)
		if err != nil {
			return report, apierr.Persistence(fmt.Errorf("count chunks: %w", err))
		}
		pages := highestPage(all)
		if doc.PageCount > pages {
			pages = doc.PageCount
		}
		if err := c.db.FinalizeDocument(ctx, docID, len(all), pages); err != nil {
			return report, apierr.Persistence(err)
		}
		c.log.Info("document embedding complete", "documentId", docID, "chunks", len(all))
	}

	return report, nil
}
