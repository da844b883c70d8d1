package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
)

func TestProcessNextBatch_SettlesAndFinalizes(t *testing.T) {
	db := newFakeDB()
	doc := storedDoc("doc-1")
	doc.Status = models.StatusEmbedding
	db.addDocument(doc)
	db.seedChunks("doc-1", []string{
		"--- Page 1 --- damage resolves before healing",
		"--- Page 4 --- initiative order is fixed per round",
		"ties break by dexterity score",
	})
	provider := &scriptedProvider{}
	c := newTestCoordinator(db, &fakeObjectClient{}, &fakeExtractor{}, provider, Config{})

	report, err := c.ProcessNextBatch(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 0, report.Remaining)
	assert.True(t, report.Complete)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 3, provider.callCount())

	got, _ := db.GetDocumentByID(context.Background(), "doc-1")
	assert.Equal(t, models.StatusReady, got.Status)
	assert.Equal(t, [2]int{3, 4}, db.finalized["doc-1"], "page count tracks the highest marker")
}

func TestProcessNextBatch_RespectsPassLimit(t *testing.T) {
	db := newFakeDB()
	doc := storedDoc("doc-1")
	doc.Status = models.StatusEmbedding
	db.addDocument(doc)
	db.seedChunks("doc-1", []string{"one", "two", "three", "four", "five"})
	c := newTestCoordinator(db, &fakeObjectClient{}, &fakeExtractor{}, &scriptedProvider{}, Config{PassLimit: 2})

	report, err := c.ProcessNextBatch(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 3, report.Remaining)
	assert.False(t, report.Complete)
	_, finalized := db.finalized["doc-1"]
	assert.False(t, finalized, "incomplete documents are never finalized")

	// A second pass picks up where the first stopped.
	report, err = c.ProcessNextBatch(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Remaining)
}

func TestProcessNextBatch_SkipsLostClaims(t *testing.T) {
	db := newFakeDB()
	doc := storedDoc("doc-1")
	doc.Status = models.StatusEmbedding
	db.addDocument(doc)
	db.seedChunks("doc-1", []string{"alpha", "beta", "gamma"})
	db.claimDenied["chunk-1"] = true
	provider := &scriptedProvider{}
	c := newTestCoordinator(db, &fakeObjectClient{}, &fakeExtractor{}, provider, Config{})

	report, err := c.ProcessNextBatch(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Remaining)
	assert.Empty(t, report.Errors, "a lost claim is another worker's chunk, not an error")
	assert.Equal(t, 2, provider.callCount())
	assert.Empty(t, db.chunkByID("chunk-1").Embedding)
}

func TestProcessNextBatch_EmbedErrorSampled(t *testing.T) {
	db := newFakeDB()
	doc := storedDoc("doc-1")
	doc.Status = models.StatusEmbedding
	db.addDocument(doc)
	db.seedChunks("doc-1", []string{"alpha", "failhere beta", "gamma"})
	provider := &scriptedProvider{fail: func(text string) bool { return strings.Contains(text, "failhere") }}
	c := newTestCoordinator(db, &fakeObjectClient{}, &fakeExtractor{}, provider, Config{})

	report, err := c.ProcessNextBatch(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Remaining)
	assert.False(t, report.Complete)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "chunk 1:")
	assert.Empty(t, db.chunkByID("chunk-1").Embedding, "failed chunk stays available for the next pass")
}

func TestProcessNextBatch_IdempotentAfterComplete(t *testing.T) {
	db := newFakeDB()
	doc := storedDoc("doc-1")
	doc.Status = models.StatusReady
	db.addDocument(doc)
	db.seedChunks("doc-1", []string{"alpha", "beta"})
	require.NoError(t, db.SetChunkEmbedding(context.Background(), "chunk-0", []float32{0.1}))
	require.NoError(t, db.SetChunkEmbedding(context.Background(), "chunk-1", []float32{0.2}))
	c := newTestCoordinator(db, &fakeObjectClient{}, &fakeExtractor{}, &scriptedProvider{}, Config{})

	report, err := c.ProcessNextBatch(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 0, report.Remaining)
	assert.True(t, report.Complete)
	_, refinalized := db.finalized["doc-1"]
	assert.False(t, refinalized, "ready documents are not finalized again")
}

func TestProcessNextBatch_MissingDocument(t *testing.T) {
	c := newTestCoordinator(newFakeDB(), &fakeObjectClient{}, &fakeExtractor{}, &scriptedProvider{}, Config{})

	_, err := c.ProcessNextBatch(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))
}
