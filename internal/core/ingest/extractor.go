package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"golang.org/x/sync/errgroup"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
	log            *logger.Logger
}

func NewDocconvExtractor(useReadability bool, log *logger.Logger) *DocconvExtractor {
	if log == nil {
		log = logger.NewNop()
	}
	return &DocconvExtractor{useReadability: useReadability, log: log}
}

// ExtractText converts the document to plain text and emits it line by
// line on the returned channel. The stage runs inside g; a conversion
// failure or empty result fails the whole group.
func (e *DocconvExtractor) ExtractText(ctx context.Context, g *errgroup.Group, data []byte, contentType string) <-chan string {
	out := make(chan string, 32)

	g.Go(func() error {
		defer close(out)

		res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
		if err != nil {
			return fmt.Errorf("docconv convert (%s): %w", contentType, err)
		}
		if res == nil || strings.TrimSpace(res.Body) == "" {
			return fmt.Errorf("docconv: empty text for content type %s", contentType)
		}

		e.log.Debug("extracted document text", "contentType", contentType, "chars", len(res.Body))

		for _, line := range strings.Split(res.Body, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
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

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)
