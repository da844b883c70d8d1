package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/core/chunker"
	"github.com/pagemark-io/pagemark/internal/core/embedding"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

// Coordinator drives document ingestion end to end: background workers for
// uploaded files, the direct raw-text path, and the resumable embedding
// passes that settle chunks persisted without vectors.
type Coordinator struct {
	db        core.DbClient
	obj       core.ObjectClient
	embedder  *embedding.Client
	extractor core.DocumentExtractor
	chunks    *chunker.Chunker
	cfg       Config
	log       *logger.Logger
	sleep     embedding.SleepFunc
	jobs      chan string
}

func NewCoordinator(
	db core.DbClient,
	obj core.ObjectClient,
	embedder *embedding.Client,
	extractor core.DocumentExtractor,
	chunks *chunker.Chunker,
	cfg Config,
	log *logger.Logger,
) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	if chunks == nil {
		chunks = chunker.New()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.ErrorCap <= 0 {
		cfg.ErrorCap = DefaultConfig().ErrorCap
	}
	if cfg.BatchWidth <= 0 {
		cfg.BatchWidth = DefaultConfig().BatchWidth
	}
	if cfg.PassLimit <= 0 {
		cfg.PassLimit = DefaultConfig().PassLimit
	}
	return &Coordinator{
		db:        db,
		obj:       obj,
		embedder:  embedder,
		extractor: extractor,
		chunks:    chunks,
		cfg:       cfg,
		log:       log,
		sleep:     waitFor,
		jobs:      make(chan string, cfg.QueueDepth),
	}
}

// Start launches numWorkers goroutines draining the jobs queue. Workers
// exit when ctx is canceled.
func (c *Coordinator) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					c.log.Info("ingest worker shutting down", "worker", w)
					return
				case docID := <-c.jobs:
					c.log.Info("ingest worker picked up document", "worker", w, "documentId", docID)
					if _, err := c.ProcessOne(ctx, docID); err != nil {
						c.log.Error("ingestion failed", "documentId", docID, "error", err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document for background ingestion. Blocks when the
// queue is full.
func (c *Coordinator) Enqueue(docID string) {
	c.jobs <- docID
}

func (c *Coordinator) sampleError(dst *[]string, msg string) {
	if len(*dst) < c.cfg.ErrorCap {
		*dst = append(*dst, msg)
	}
}

func waitFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseStorageURL extracts the bucket and key from a virtual-hosted-style
// S3 URL, e.g. https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf.
func parseStorageURL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		bucket = parts[0]
	}
	return bucket, key
}
