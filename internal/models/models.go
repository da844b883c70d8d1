package models

import (
	"time"
)

// Document processing statuses. Transitions are owned by the ingestion
// coordinator; "error" is absorbing.
const (
	StatusPending    = "pending"
	StatusExtracting = "extracting"
	StatusChunking   = "chunking"
	StatusEmbedding  = "embedding"
	StatusReady      = "ready"
	StatusError      = "error"
)

// User represents an authenticated admin user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents one manual the user can chat against.
type Document struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Name        string     `db:"name" json:"name"`
	FileName    string     `db:"file_name" json:"file_name"`
	StorageURL  string     `db:"storage_url" json:"storage_url"`
	SourceType  string     `db:"source_type" json:"source_type"` // "upload" or "text"
	ContentType string     `db:"content_type" json:"content_type"`
	Status      string     `db:"status" json:"status"`
	ChunkCount  int        `db:"chunk_count" json:"chunk_count"`
	PageCount   int        `db:"page_count" json:"page_count"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one text chunk from a document.
// Embedding stays nil until computed; ClaimedAt is the short lease taken by
// a resumable embedding pass so concurrent passes never embed the same
// chunk twice.
type DocumentChunk struct {
	ID          string     `db:"id" json:"id"`
	DocumentID  string     `db:"document_id" json:"document_id"`
	ChunkIndex  int        `db:"chunk_index" json:"chunk_index"`
	TotalChunks int        `db:"total_chunks" json:"total_chunks"`
	Text        string     `db:"text" json:"text"`
	CharCount   int        `db:"char_count" json:"char_count"`
	PageNumber  *int       `db:"page_number" json:"page_number,omitempty"`
	Embedding   []float32  `db:"embedding" json:"-"` // pgvector column
	ClaimedAt   *time.Time `db:"claimed_at" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ChunkMatch is a retrieval hit: a chunk plus its cosine distance to the
// query vector. Similarity is 1 - Distance.
type ChunkMatch struct {
	Chunk    DocumentChunk `json:"chunk"`
	Distance float64       `json:"distance"`
}

func (m ChunkMatch) Similarity() float64 { return 1 - m.Distance }

// PageImage is a rendered raster of one source page, written once at upload
// and immutable after.
type PageImage struct {
	DocumentID string    `db:"document_id" json:"document_id"`
	PageNumber int       `db:"page_number" json:"pageNumber"`
	URL        string    `db:"url" json:"url"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PageRef is the wire form of a cited page image inside the chat stream.
type PageRef struct {
	URL        string `json:"url"`
	PageNumber int    `json:"pageNumber"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of the conversation as sent by the client.
// Conversation state lives client-side; the server never persists it.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}
