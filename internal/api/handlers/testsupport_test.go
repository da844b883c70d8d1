package handlers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/core/chunker"
	"github.com/pagemark-io/pagemark/internal/core/embedding"
	"github.com/pagemark-io/pagemark/internal/core/ingest"
	objectclient "github.com/pagemark-io/pagemark/internal/core/object-client"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

// stubDB embeds the interface so each test only fills in what its handler
// touches; an unexpected call panics.
type stubDB struct {
	core.DbClient
	mu         sync.Mutex
	users      map[string]*models.User
	docs       map[string]*models.Document
	matches    []models.ChunkMatch
	images     map[string][]models.PageImage
	statuses   []string
	replaced   map[string]int
	unembedded map[string][]models.DocumentChunk
}

func newStubDB() *stubDB {
	return &stubDB{
		users:      map[string]*models.User{},
		docs:       map[string]*models.Document{},
		images:     map[string][]models.PageImage{},
		replaced:   map[string]int{},
		unembedded: map[string][]models.DocumentChunk{},
	}
}

func (s *stubDB) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; ok {
		return fmt.Errorf("duplicate email %s", user.Email)
	}
	s.users[user.Email] = user
	return nil
}

func (s *stubDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[email], nil
}

func (s *stubDB) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *stubDB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *stubDB) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, d := range s.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *stubDB) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		doc.Status = status
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *stubDB) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced[documentID] = len(chunks)
	return nil
}

func (s *stubDB) SelectUnembeddedChunks(ctx context.Context, documentID string, limit int) ([]models.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.unembedded[documentID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *stubDB) CountUnembeddedChunks(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unembedded[documentID]), nil
}

func (s *stubDB) SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error) {
	return s.matches, nil
}

func (s *stubDB) CreatePageImage(ctx context.Context, img *models.PageImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[img.DocumentID] = append(s.images[img.DocumentID], *img)
	return nil
}

func (s *stubDB) ListPageImages(ctx context.Context, documentID string) ([]models.PageImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[documentID], nil
}

// nopObject accepts uploads and echoes a bucket URL.
type nopObject struct{}

func (nopObject) UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (string, error) {
	_, _ = io.Copy(io.Discard, data)
	return "https://" + bucket + ".s3.test.amazonaws.com/" + key, nil
}

func (nopObject) DeleteFile(ctx context.Context, bucket, key string) error { return nil }

func (nopObject) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	return nil, fmt.Errorf("not stored: %s", key)
}

func (nopObject) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not stored: %s", key)
}

type fixedEmbedder struct {
	vec []float32
	err error
}

func (p *fixedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vec
	}
	return out, nil
}

func zeroWait(ctx context.Context, d time.Duration) error { return nil }

func testEmbedder(p core.EmbeddingProvider) *embedding.Client {
	return embedding.New(p,
		embedding.WithRetryPolicy(embedding.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 2}),
		embedding.WithSleep(zeroWait),
	)
}

func testCoordinator(db core.DbClient, emb *embedding.Client) *ingest.Coordinator {
	return ingest.NewCoordinator(db, nopObject{}, emb, ingest.NewDocconvExtractor(false, nil), chunker.New(), ingest.Config{}, logger.NewNop())
}

func testLocator() *objectclient.Locator {
	return objectclient.NewLocator("docs-bucket", "eu-west-1", "https://cdn.test")
}

func userDoc(id, userID, status string) *models.Document {
	return &models.Document{
		ID:         id,
		UserID:     userID,
		Name:       "rules",
		FileName:   "rules.pdf",
		StorageURL: "https://docs-bucket.s3.test.amazonaws.com/documents/" + id + "/rules.pdf",
		SourceType: "upload",
		Status:     status,
	}
}
