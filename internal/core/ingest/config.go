package ingest

import (
	"time"

	"github.com/pagemark-io/pagemark/internal/config"
)

// Config tunes both ingestion shapes: the server-driven settle batches and
// the resumable embedding passes.
type Config struct {
	BatchWidth int           // parallel embeds per settle batch
	BatchDelay time.Duration // pause between settle batches
	PassLimit  int           // chunks selected per resumable pass
	ItemDelay  time.Duration // pause between items inside a pass
	ClaimLease time.Duration // how long an embedding claim stays exclusive
	QueueDepth int           // bounded jobs channel capacity
	ErrorCap   int           // max sampled error messages per report
}

func DefaultConfig() Config {
	return Config{
		BatchWidth: 5,
		BatchDelay: time.Second,
		PassLimit:  10,
		ItemDelay:  200 * time.Millisecond,
		ClaimLease: 2 * time.Minute,
		QueueDepth: 64,
		ErrorCap:   5,
	}
}

func ConfigFromApp(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.IngestBatchWidth > 0 {
		c.BatchWidth = cfg.IngestBatchWidth
	}
	if cfg.IngestBatchDelay >= 0 {
		c.BatchDelay = cfg.IngestBatchDelay
	}
	if cfg.EmbedPassLimit > 0 {
		c.PassLimit = cfg.EmbedPassLimit
	}
	if cfg.EmbedItemDelay >= 0 {
		c.ItemDelay = cfg.EmbedItemDelay
	}
	if cfg.ClaimLease > 0 {
		c.ClaimLease = cfg.ClaimLease
	}
	return c
}

// Report tallies one server-driven ingestion run. Errors holds a sample of
// per-chunk failures, capped so a pathological document cannot flood the
// response.
type Report struct {
	Chunks         int      `json:"chunks"`
	Embedded       int      `json:"embedded"`
	Pages          int      `json:"pages"`
	ExtractedChars int      `json:"extractedLength"`
	Errors         []string `json:"errors,omitempty"`
}

// PassReport tallies one resumable embedding pass.
type PassReport struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
	Remaining int      `json:"remaining"`
	Complete  bool     `json:"complete"`
}
