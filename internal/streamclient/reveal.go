package streamclient

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRevealInterval paces one character per tick.
	DefaultRevealInterval = time.Millisecond
	// DefaultPrebuffer is how many characters must arrive before reveal starts.
	DefaultPrebuffer = 15
)

// TickerFunc supplies the reveal clock. Tests inject a manual channel.
type TickerFunc func(time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Revealer decouples text arrival from text display: streamed characters are
// buffered and revealed one per interval, starting once the prebuffer fills
// so short bursts do not flicker. Wait blocks until everything buffered has
// been shown.
type Revealer struct {
	interval  time.Duration
	prebuffer int
	newTicker TickerFunc
	onShow    func(string)

	mu      sync.Mutex
	buf     []rune
	shown   int
	closed  bool
	running bool
	done    chan struct{}
}

// RevealOption configures a Revealer.
type RevealOption func(*Revealer)

// WithInterval overrides the per-character delay.
func WithInterval(d time.Duration) RevealOption {
	return func(r *Revealer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithPrebuffer overrides the start threshold.
func WithPrebuffer(n int) RevealOption {
	return func(r *Revealer) {
		if n >= 0 {
			r.prebuffer = n
		}
	}
}

// WithTicker injects the clock.
func WithTicker(f TickerFunc) RevealOption {
	return func(r *Revealer) {
		if f != nil {
			r.newTicker = f
		}
	}
}

// NewRevealer builds a pacer. onShow receives the visible prefix after each
// revealed character and may be nil when the caller polls Visible instead.
func NewRevealer(onShow func(string), opts ...RevealOption) *Revealer {
	r := &Revealer{
		interval:  DefaultRevealInterval,
		prebuffer: DefaultPrebuffer,
		newTicker: realTicker,
		onShow:    onShow,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append buffers more streamed text. The reveal loop starts once the
// prebuffer threshold is reached.
func (r *Revealer) Append(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.buf = append(r.buf, []rune(text)...)
	if !r.running && len(r.buf) >= r.prebuffer {
		r.start()
	}
}

// Close marks the stream finished. Any buffered tail below the prebuffer
// threshold still gets revealed.
func (r *Revealer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.running {
		return
	}
	if r.shown < len(r.buf) {
		r.start()
		return
	}
	close(r.done)
}

// Visible returns the currently revealed prefix.
func (r *Revealer) Visible() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf[:r.shown])
}

// Wait blocks until the stream is closed and every character has been shown.
func (r *Revealer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return nil
	}
}

// start requires r.mu held.
func (r *Revealer) start() {
	r.running = true
	go r.loop()
}

func (r *Revealer) loop() {
	ticks, stop := r.newTicker(r.interval)
	defer stop()
	for range ticks {
		r.mu.Lock()
		if r.shown < len(r.buf) {
			r.shown++
			visible := string(r.buf[:r.shown])
			show := r.onShow
			r.mu.Unlock()
			if show != nil {
				show(visible)
			}
			continue
		}
		if r.closed {
			r.mu.Unlock()
			close(r.done)
			return
		}
		// Caught up but the stream is still open. Idle until more arrives.
		r.mu.Unlock()
	}
}
