package chunker

import (
	"regexp"
	"strings"
)

// Strategy selects the boundary algorithm.
type Strategy string

const (
	// Structural walks the text line by line and refuses to carry overlap
	// across headings, rule numbers and page markers. Use it when the
	// extraction kept line structure.
	Structural Strategy = "structural"
	// Window cuts fixed-size windows with step = size - overlap, preferring
	// sentence breaks past the middle of the window. Use it for flattened
	// text with no reliable line structure.
	Window Strategy = "window"
)

const (
	DefaultTarget  = 1500
	DefaultOverlap = 200

	// minFlushLen is how big the buffer must be before a flush may happen;
	// tiny buffers keep accumulating even past the target.
	minFlushLen = 100
	// minTailLen: a trailing fragment at or below this (after trimming) is
	// dropped rather than emitted.
	minTailLen = 50
)

// structuralMarker matches lines that open a new structural unit: markdown
// headings, "Section"/"Page"/"Rule" headers, decimal rule ids ("12.3"),
// bold markers, and short rule codes like "G1".
var structuralMarker = regexp.MustCompile(`^\s*(#{1,6}\s|Section\b|Page\b|Rule\b|\d+\.\d|\*\*|[A-Z]\d{1,2}\b)`)

type Chunker struct {
	target   int
	overlap  int
	strategy Strategy
}

type Option func(*Chunker)

func WithTarget(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.target = n
		}
	}
}

func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

func WithStrategy(s Strategy) Option {
	return func(c *Chunker) {
		if s == Structural || s == Window {
			c.strategy = s
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		target:   DefaultTarget,
		overlap:  DefaultOverlap,
		strategy: Structural,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.target {
		c.overlap = c.target / 4
	}
	return c
}

func (c *Chunker) Target() int        { return c.target }
func (c *Chunker) Overlap() int       { return c.overlap }
func (c *Chunker) Strategy() Strategy { return c.strategy }

// Chunk splits text into ordered chunk strings using the configured
// strategy. Consecutive chunks may share up to overlap characters of
// context; a trailing fragment of 50 chars or less is dropped.
func (c *Chunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.strategy == Window {
		return c.windowChunks(text)
	}
	return c.structuralChunks(strings.Split(text, "\n"))
}

// ChunkLines is the structural algorithm applied to pre-split lines; the
// ingestion pipeline feeds it straight from the extractor.
func (c *Chunker) ChunkLines(lines []string) []string {
	if c.strategy == Window {
		return c.windowChunks(strings.Join(lines, "\n"))
	}
	return c.structuralChunks(lines)
}

// structuralChunks accumulates lines until appending the next one would
// push the buffer past the target. The next buffer is seeded with the
// overlap tail of the flushed chunk, trimmed back to a sentence end or line
// break, unless the incoming line opens a new structural unit, in which
// case the buffer starts fresh at that line. A single line longer than the
// target is emitted whole; structural units are never split mid-line.
func (c *Chunker) structuralChunks(lines []string) []string {
	var chunks []string
	var buf string

	for _, line := range lines {
		if len(buf) > minFlushLen && len(buf)+1+len(line) > c.target {
			chunks = append(chunks, strings.TrimSpace(buf))
			if structuralMarker.MatchString(line) {
				buf = line
				continue
			}
			seed := overlapSeed(buf, c.overlap)
			if seed != "" {
				buf = seed + "\n" + line
			} else {
				buf = line
			}
			continue
		}
		if buf == "" {
			buf = line
		} else {
			buf += "\n" + line
		}
	}

	if tail := strings.TrimSpace(buf); len(tail) > minTailLen {
		chunks = append(chunks, tail)
	}
	return chunks
}

// overlapSeed returns the trailing slice of the flushed chunk used to seed
// the next buffer: at most overlap chars, advanced to just past the first
// sentence end or line break inside that window so the seed starts cleanly.
// If no break exists the raw tail is used as is.
func overlapSeed(flushed string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	tail := flushed
	if len(tail) > overlap {
		tail = tail[len(tail)-overlap:]
	}
	cut := -1
	if i := strings.Index(tail, ". "); i >= 0 {
		cut = i + 2
	}
	if i := strings.Index(tail, "\n"); i >= 0 && (cut < 0 || i+1 < cut) {
		cut = i + 1
	}
	if cut > 0 && cut < len(tail) {
		tail = tail[cut:]
	}
	return strings.TrimSpace(tail)
}

// windowChunks cuts fixed windows of target size, stepping back by overlap
// between windows. When a sentence or line break exists past the midpoint
// of a window the cut moves there instead of mid-sentence.
func (c *Chunker) windowChunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.target {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.target
		if end >= len(text) {
			if tail := strings.TrimSpace(text[start:]); len(tail) > minTailLen {
				chunks = append(chunks, tail)
			}
			break
		}

		window := text[start:end]
		cut := len(window)
		if i := lastBreak(window); i > len(window)/2 {
			cut = i
		}
		chunks = append(chunks, strings.TrimSpace(text[start:start+cut]))

		next := start + cut - c.overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// lastBreak finds the latest sentence end (". ") or line break in the
// window and returns the index just past it, or -1 when none exists.
func lastBreak(window string) int {
	best := -1
	if i := strings.LastIndex(window, ". "); i >= 0 {
		best = i + 2
	}
	if i := strings.LastIndex(window, "\n"); i >= 0 && i+1 > best {
		best = i + 1
	}
	return best
}
