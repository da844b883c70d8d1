package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DocumentExtractor turns a stored document into a stream of text lines.
// The extraction goroutine runs inside g so a failure anywhere in the
// pipeline cancels the rest; the returned channel is closed when extraction
// finishes. The contentType hint selects the parsing strategy.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, g *errgroup.Group, data []byte, contentType string) <-chan string
}
