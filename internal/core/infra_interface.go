package core

import (
	"context"
	"io"
	"time"

	"github.com/pagemark-io/pagemark/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	// FinalizeDocument flips the document to ready and records the final
	// chunk count, page count and processed timestamp in one statement.
	FinalizeDocument(ctx context.Context, id string, chunkCount, pageCount int) error

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	// ReplaceDocumentChunks deletes every existing chunk of the document and
	// inserts the new set in a single transaction. Re-ingestion always goes
	// through this; stale rows must never survive.
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)

	// SelectUnembeddedChunks returns up to limit chunks of the document whose
	// embedding is still null, ordered by chunk_index.
	SelectUnembeddedChunks(ctx context.Context, documentID string, limit int) ([]models.DocumentChunk, error)
	// ClaimChunkForEmbedding takes a short lease on the chunk before an
	// embedding call. Returns false when another pass holds a live lease or
	// already embedded the chunk.
	ClaimChunkForEmbedding(ctx context.Context, chunkID string, lease time.Duration) (bool, error)
	SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error
	CountUnembeddedChunks(ctx context.Context, documentID string) (int, error)

	// SearchDocumentChunks runs a cosine nearest-neighbor search scoped to
	// the document and returns matches with their distances, nearest first.
	SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error)

	CreatePageImage(ctx context.Context, img *models.PageImage) error
	ListPageImages(ctx context.Context, documentID string) ([]models.PageImage, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
