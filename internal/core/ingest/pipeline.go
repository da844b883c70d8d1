package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pagemark-io/pagemark/internal/core/pagemarker"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
)

// ProcessOne runs the server-driven pipeline for one stored document:
// fetch from object storage, extract, chunk, persist, then settle
// embeddings in parallel batches. Chunk rows land before any vector does,
// so a partially embedded document is always resumable.
func (c *Coordinator) ProcessOne(ctx context.Context, docID string) (*Report, error) {
	// Processing outlives the request that enqueued it.
	procCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	doc, err := c.db.GetDocumentByID(procCtx, docID)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("load document: %w", err))
	}
	if doc == nil {
		return nil, apierr.NotFound("document %s", docID)
	}

	_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusExtracting)

	bucket, key := parseStorageURL(doc.StorageURL)
	data, err := c.obj.GetFile(procCtx, bucket, key)
	if err != nil {
		_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusError)
		return nil, apierr.Extraction(fmt.Errorf("fetch object: %w", err))
	}

	g, gctx := errgroup.WithContext(procCtx)

	lineCh := c.extractor.ExtractText(gctx, g, data, doc.ContentType)
	chunkCh, counter := c.streamChunks(gctx, g, lineCh)

	var texts []string
	g.Go(func() error {
		for text := range chunkCh {
			texts = append(texts, text)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusError)
		return nil, apierr.Extraction(err)
	}
	if len(texts) == 0 {
		_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusError)
		return nil, apierr.Extraction(errors.New("no usable text extracted"))
	}

	_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusChunking)

	rows := buildChunkRows(docID, texts)
	pages := highestPage(rows)
	if doc.PageCount > pages {
		pages = doc.PageCount
	}

	if err := c.db.ReplaceDocumentChunks(procCtx, docID, rows); err != nil {
		_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusError)
		return nil, apierr.Persistence(fmt.Errorf("persist chunks: %w", err))
	}

	_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusEmbedding)

	report := &Report{
		Chunks:         len(rows),
		Pages:          pages,
		ExtractedChars: *counter,
	}
	c.settleBatches(procCtx, rows, report)

	if report.Embedded == 0 {
		_ = c.db.UpdateDocumentStatus(procCtx, docID, models.StatusError)
		return report, apierr.Embedding(fmt.Errorf("no chunks embedded: %s", firstOr(report.Errors, "unknown cause")))
	}
	if err := c.db.FinalizeDocument(procCtx, docID, len(rows), pages); err != nil {
		return report, apierr.Persistence(err)
	}

	c.log.Info("document ingested",
		"documentId", docID, "chunks", report.Chunks, "embedded", report.Embedded, "pages", pages)
	return report, nil
}

// IngestText chunks caller-provided text and persists the rows with null
// embeddings. Vectors settle later through ProcessNextBatch.
func (c *Coordinator) IngestText(ctx context.Context, docID string, text string) (*Report, error) {
	doc, err := c.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("load document: %w", err))
	}
	if doc == nil {
		return nil, apierr.NotFound("document %s", docID)
	}

	_ = c.db.UpdateDocumentStatus(ctx, docID, models.StatusChunking)

	texts := c.chunks.Chunk(text)
	if len(texts) == 0 {
		_ = c.db.UpdateDocumentStatus(ctx, docID, models.StatusError)
		return nil, apierr.Validation("no usable text to ingest")
	}

	rows := buildChunkRows(docID, texts)
	if err := c.db.ReplaceDocumentChunks(ctx, docID, rows); err != nil {
		_ = c.db.UpdateDocumentStatus(ctx, docID, models.StatusError)
		return nil, apierr.Persistence(fmt.Errorf("persist chunks: %w", err))
	}

	_ = c.db.UpdateDocumentStatus(ctx, docID, models.StatusEmbedding)

	c.log.Info("raw text ingested", "documentId", docID, "chunks", len(rows), "chars", len(text))
	return &Report{
		Chunks:         len(rows),
		Pages:          highestPage(rows),
		ExtractedChars: len(text),
	}, nil
}

// streamChunks buffers extractor lines, counts the extracted characters,
// and emits finished chunks downstream.
func (c *Coordinator) streamChunks(ctx context.Context, g *errgroup.Group, lines <-chan string) (<-chan string, *int) {
	out := make(chan string, 8)
	counter := new(int)
	g.Go(func() error {
		defer close(out)
		var buf []string
		for line := range lines {
			buf = append(buf, line)
			*counter += len(line) + 1
		}
		for _, text := range c.chunks.ChunkLines(buf) {
			select {
			case out <- text:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return out, counter
}

// settleBatches embeds rows width at a time and writes each vector as it
// lands. Failures are sampled into the report; siblings keep going.
func (c *Coordinator) settleBatches(ctx context.Context, rows []models.DocumentChunk, report *Report) {
	for start := 0; start < len(rows); start += c.cfg.BatchWidth {
		end := min(start+c.cfg.BatchWidth, len(rows))
		batch := rows[start:end]

		if start > 0 && c.cfg.BatchDelay > 0 {
			if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
				c.sampleError(&report.Errors, fmt.Sprintf("batch wait: %v", err))
				return
			}
		}

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Text
		}

		for _, r := range c.embedder.EmbedBatch(ctx, texts, c.cfg.BatchWidth) {
			ch := batch[r.Index]
			if r.Err != nil {
				c.sampleError(&report.Errors, fmt.Sprintf("chunk %d: %v", ch.ChunkIndex, r.Err))
				continue
			}
			if err := c.db.SetChunkEmbedding(ctx, ch.ID, r.Vector); err != nil {
				c.sampleError(&report.Errors, fmt.Sprintf("chunk %d: persist vector: %v", ch.ChunkIndex, err))
				continue
			}
			report.Embedded++
		}
	}
}

func buildChunkRows(docID string, texts []string) []models.DocumentChunk {
	now := time.Now()
	rows := make([]models.DocumentChunk, len(texts))
	for i, text := range texts {
		row := models.DocumentChunk{
			ID:          uuid.NewString(),
			DocumentID:  docID,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			Text:        text,
			CharCount:   len(text),
			CreatedAt:   now,
		}
		if page, ok := pagemarker.First(text); ok {
			p := page
			row.PageNumber = &p
		}
		rows[i] = row
	}
	return rows
}

func highestPage(rows []models.DocumentChunk) int {
	top := 0
	for i := range rows {
		if p := rows[i].PageNumber; p != nil && *p > top {
			top = *p
		}
	}
	return top
}

func firstOr(errs []string, fallback string) string {
	if len(errs) > 0 {
		return errs[0]
	}
	return fallback
}
