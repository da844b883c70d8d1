package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pagemark-io/pagemark/internal/core/chunker"
	"github.com/pagemark-io/pagemark/internal/core/embedding"
	"github.com/pagemark-io/pagemark/internal/core/pagemarker"
	"github.com/pagemark-io/pagemark/internal/models"
)

// fakeDB is an in-memory core.DbClient covering what the coordinator
// touches. Claim arbitration is a simple per-chunk flag.
type fakeDB struct {
	mu          sync.Mutex
	docs        map[string]*models.Document
	chunks      map[string][]models.DocumentChunk
	statuses    []string
	finalized   map[string][2]int
	claimed     map[string]bool
	claimDenied map[string]bool
	failReplace bool
	pages       map[string][]models.PageImage
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		docs:        map[string]*models.Document{},
		chunks:      map[string][]models.DocumentChunk{},
		finalized:   map[string][2]int{},
		claimed:     map[string]bool{},
		claimDenied: map[string]bool{},
		pages:       map[string][]models.PageImage{},
	}
}

func (f *fakeDB) addDocument(doc *models.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
}

func (f *fakeDB) seedChunks(docID string, texts []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]models.DocumentChunk, len(texts))
	for i, t := range texts {
		rows[i] = models.DocumentChunk{
			ID:          fmt.Sprintf("chunk-%d", i),
			DocumentID:  docID,
			ChunkIndex:  i,
			TotalChunks: len(texts),
			Text:        t,
			CharCount:   len(t),
		}
		if page, ok := pagemarker.First(t); ok {
			p := page
			rows[i].PageNumber = &p
		}
	}
	f.chunks[docID] = rows
}

func (f *fakeDB) chunkByID(id string) *models.DocumentChunk {
	for docID := range f.chunks {
		rows := f.chunks[docID]
		for i := range rows {
			if rows[i].ID == id {
				return &rows[i]
			}
		}
	}
	return nil
}

func (f *fakeDB) CreateUser(ctx context.Context, user *models.User) error { return nil }
func (f *fakeDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, nil
}

func (f *fakeDB) CreateDocument(ctx context.Context, doc *models.Document) error {
	f.addDocument(doc)
	return nil
}

func (f *fakeDB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDB) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDB) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.Status = status
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeDB) FinalizeDocument(ctx context.Context, id string, chunkCount, pageCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.Status = models.StatusReady
	doc.ChunkCount = chunkCount
	doc.PageCount = pageCount
	f.finalized[id] = [2]int{chunkCount, pageCount}
	return nil
}

func (f *fakeDB) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range chunks {
		f.chunks[ch.DocumentID] = append(f.chunks[ch.DocumentID], ch)
	}
	return nil
}

func (f *fakeDB) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReplace {
		return errors.New("replace failed")
	}
	f.chunks[documentID] = append([]models.DocumentChunk(nil), chunks...)
	return nil
}

func (f *fakeDB) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DocumentChunk(nil), f.chunks[documentID]...), nil
}

func (f *fakeDB) SelectUnembeddedChunks(ctx context.Context, documentID string, limit int) ([]models.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DocumentChunk
	for _, ch := range f.chunks[documentID] {
		if len(ch.Embedding) == 0 {
			out = append(out, ch)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDB) ClaimChunkForEmbedding(ctx context.Context, chunkID string, lease time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimDenied[chunkID] {
		return false, nil
	}
	ch := f.chunkByID(chunkID)
	if ch == nil || len(ch.Embedding) > 0 || f.claimed[chunkID] {
		return false, nil
	}
	f.claimed[chunkID] = true
	return true, nil
}

func (f *fakeDB) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.chunkByID(chunkID)
	if ch == nil {
		return fmt.Errorf("chunk not found: %s", chunkID)
	}
	ch.Embedding = append([]float32(nil), embedding...)
	delete(f.claimed, chunkID)
	return nil
}

func (f *fakeDB) CountUnembeddedChunks(ctx context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.chunks[documentID] {
		if len(ch.Embedding) == 0 {
			n++
		}
	}
	return n, nil
}

func (f *fakeDB) SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error) {
	return nil, nil
}

func (f *fakeDB) CreatePageImage(ctx context.Context, img *models.PageImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[img.DocumentID] = append(f.pages[img.DocumentID], *img)
	return nil
}

func (f *fakeDB) ListPageImages(ctx context.Context, documentID string) ([]models.PageImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PageImage(nil), f.pages[documentID]...), nil
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) embeddedCount(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.chunks[docID] {
		if len(ch.Embedding) > 0 {
			n++
		}
	}
	return n
}

// fakeObjectClient serves one blob regardless of key.
type fakeObjectClient struct {
	data []byte
	err  error
}

func (f *fakeObjectClient) UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (string, error) {
	return "https://" + bucket + ".s3.test.amazonaws.com/" + key, nil
}

func (f *fakeObjectClient) DeleteFile(ctx context.Context, bucket, key string) error { return nil }

func (f *fakeObjectClient) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeObjectClient) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// fakeExtractor replays scripted lines, ignoring the input bytes.
type fakeExtractor struct {
	lines []string
	err   error
}

func (f *fakeExtractor) ExtractText(ctx context.Context, g *errgroup.Group, data []byte, contentType string) <-chan string {
	out := make(chan string, len(f.lines)+1)
	g.Go(func() error {
		defer close(out)
		if f.err != nil {
			return f.err
		}
		for _, line := range f.lines {
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return out
}

// scriptedProvider fails any text containing "fail" and returns a tiny
// vector otherwise.
type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	fail  func(text string) bool
}

func (p *scriptedProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fail != nil && p.fail(texts[0]) {
		return nil, errors.New("provider rejected text")
	}
	return [][]float32{{0.1, 0.2, 0.3}}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func zeroWait(ctx context.Context, d time.Duration) error { return nil }

func newTestCoordinator(db *fakeDB, obj *fakeObjectClient, ex *fakeExtractor, provider *scriptedProvider, cfg Config) *Coordinator {
	client := embedding.New(provider,
		embedding.WithSleep(zeroWait),
		embedding.WithRetryPolicy(embedding.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 2}),
	)
	ch := chunker.New(chunker.WithTarget(120), chunker.WithOverlap(0))
	c := NewCoordinator(db, obj, client, ex, ch, cfg, nil)
	c.sleep = zeroWait
	return c
}
