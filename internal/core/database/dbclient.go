package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/models"
)

// Chunk and page-image persistence for DatabaseClient. Embeddings are
// nullable; a chunk row may sit embedding-less for a while and be settled
// later by the resumable pass.

const insertChunkSQL = `
	INSERT INTO document_chunks
		(id, document_id, chunk_index, total_chunks, text, char_count, page_number, embedding, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
`

func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := insertChunksTx(ctx, tx, chunks); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertChunksTx(ctx, tx, chunks); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertChunksTx(ctx context.Context, tx *sql.Tx, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, insertChunkSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.ChunkIndex, ch.TotalChunks, ch.Text, ch.CharCount,
			ch.PageNumber, vec, nullTime(ch.CreatedAt),
		); err != nil {
			return err
		}
	}
	return nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, chunk_index, total_chunks, text, char_count, page_number, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.TotalChunks, &ch.Text,
			&ch.CharCount, &ch.PageNumber, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) SelectUnembeddedChunks(ctx context.Context, documentID string, limit int) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, chunk_index, total_chunks, text, char_count, page_number, created_at
		FROM document_chunks
		WHERE document_id = $1 AND embedding IS NULL
		ORDER BY chunk_index ASC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.TotalChunks, &ch.Text,
			&ch.CharCount, &ch.PageNumber, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ClaimChunkForEmbedding takes the chunk only when it is still unembedded
// and no other pass holds a live lease. The conditional update is the
// whole arbitration; losing it means another worker got there first.
func (c *DatabaseClient) ClaimChunkForEmbedding(ctx context.Context, chunkID string, lease time.Duration) (bool, error) {
	const q = `
		UPDATE document_chunks
		SET claimed_at = now()
		WHERE id = $1
		  AND embedding IS NULL
		  AND (claimed_at IS NULL OR claimed_at < $2)
	`
	cutoff := time.Now().Add(-lease)
	res, err := c.db.ExecContext(ctx, q, chunkID, cutoff)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (c *DatabaseClient) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	const q = `
		UPDATE document_chunks
		SET embedding = $2, claimed_at = NULL
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, chunkID, pgvector.NewVector(embedding))
	return err
}

func (c *DatabaseClient) CountUnembeddedChunks(ctx context.Context, documentID string) (int, error) {
	const q = `
		SELECT count(*) FROM document_chunks
		WHERE document_id = $1 AND embedding IS NULL
	`
	var n int
	if err := c.db.QueryRowContext(ctx, q, documentID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SearchDocumentChunks ranks the document's embedded chunks by cosine
// distance to the query vector. Distance comes back with each row so the
// caller can convert to similarity and apply its threshold.
func (c *DatabaseClient) SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error) {
	const q = `
		SELECT id, document_id, chunk_index, total_chunks, text, char_count, page_number,
		       embedding <=> $2 AS distance
		FROM document_chunks
		WHERE document_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, documentID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChunkMatch
	for rows.Next() {
		var m models.ChunkMatch
		if err := rows.Scan(
			&m.Chunk.ID, &m.Chunk.DocumentID, &m.Chunk.ChunkIndex, &m.Chunk.TotalChunks,
			&m.Chunk.Text, &m.Chunk.CharCount, &m.Chunk.PageNumber, &m.Distance,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Page images

func (c *DatabaseClient) CreatePageImage(ctx context.Context, img *models.PageImage) error {
	const q = `
		INSERT INTO page_images (document_id, page_number, url, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
		ON CONFLICT (document_id, page_number) DO UPDATE SET url = EXCLUDED.url
	`
	_, err := c.db.ExecContext(ctx, q, img.DocumentID, img.PageNumber, img.URL, nullTime(img.CreatedAt))
	return err
}

func (c *DatabaseClient) ListPageImages(ctx context.Context, documentID string) ([]models.PageImage, error) {
	const q = `
		SELECT document_id, page_number, url, created_at
		FROM page_images
		WHERE document_id = $1
		ORDER BY page_number ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PageImage
	for rows.Next() {
		var img models.PageImage
		if err := rows.Scan(&img.DocumentID, &img.PageNumber, &img.URL, &img.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

var _ core.DbClient = (*DatabaseClient)(nil)
