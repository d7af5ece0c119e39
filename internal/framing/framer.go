package framing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"openfms/framekit/internal/protocol"
)

// Handler receives frames in wire order. It runs with the framer's lock held
// and must not call back into the framer.
type Handler func(frames []protocol.TimedChunk)

// StreamFramer buffers chunks from one stream and emits frames as the active
// strategy recognises them. It is safe for concurrent use.
type StreamFramer struct {
	mu        sync.Mutex
	cfg       protocol.FramingConfig
	buf       []protocol.TimedChunk
	extractor *Extractor
	handler   Handler

	timer    *time.Timer
	timerGen uint64

	log zerolog.Logger
	ctx context.Context
}

type Option func(*StreamFramer)

func WithLogger(log zerolog.Logger) Option {
	return func(f *StreamFramer) { f.log = log }
}

// WithContext sets the context used by timer-driven flushes
func WithContext(ctx context.Context) Option {
	return func(f *StreamFramer) { f.ctx = ctx }
}

func New(cfg protocol.FramingConfig, extractor *Extractor, handler Handler, opts ...Option) *StreamFramer {
	f := &StreamFramer{
		cfg:       cfg,
		extractor: extractor,
		handler:   handler,
		log:       zerolog.Nop(),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Push appends one chunk and emits every frame that is now complete
func (f *StreamFramer) Push(ctx context.Context, chunk protocol.TimedChunk) {
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf = append(f.buf, chunk)
	if f.cfg.Strategy == protocol.StrategyTimeout {
		f.scheduleLocked()
	}
	f.composeLocked(ctx, false)
}

// Flush forces out whatever is buffered. Flushing an empty framer is a no-op.
func (f *StreamFramer) Flush(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelTimerLocked()
	f.composeLocked(ctx, true)
}

// Reset drops buffered data and any pending timer
func (f *StreamFramer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelTimerLocked()
	f.buf = nil
}

// SetConfig switches strategy at runtime. Buffered bytes are kept and
// re-evaluated under the new configuration.
func (f *StreamFramer) SetConfig(ctx context.Context, cfg protocol.FramingConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.cfg.Strategy
	f.cfg = cfg
	if prev == protocol.StrategyTimeout && cfg.Strategy != protocol.StrategyTimeout {
		f.cancelTimerLocked()
	}
	f.log.Debug().
		Str("from", string(prev)).
		Str("to", string(cfg.Strategy)).
		Int("buffered", protocol.TotalLen(f.buf)).
		Msg("Framing config changed")

	if protocol.TotalLen(f.buf) == 0 {
		return
	}
	if cfg.Strategy == protocol.StrategyTimeout {
		f.scheduleLocked()
		return
	}
	f.composeLocked(ctx, false)
}

func (f *StreamFramer) Config() protocol.FramingConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Buffered reports how many bytes are waiting for a frame boundary
func (f *StreamFramer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return protocol.TotalLen(f.buf)
}

func (f *StreamFramer) composeLocked(ctx context.Context, force bool) {
	res := f.extractor.Extract(ctx, f.buf, f.cfg, force)
	f.buf = res.Remaining
	if len(res.Frames) > 0 && f.handler != nil {
		f.handler(res.Frames)
	}
}

// scheduleLocked restarts the quiet-period timer
func (f *StreamFramer) scheduleLocked() {
	f.cancelTimerLocked()
	gen := f.timerGen
	f.timer = time.AfterFunc(f.cfg.Timeout(), func() { f.onTimer(gen) })
}

func (f *StreamFramer) cancelTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.timerGen++
}

func (f *StreamFramer) onTimer(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// superseded by a newer push, flush or config change
	if gen != f.timerGen {
		return
	}
	f.timer = nil
	f.timerGen++
	f.composeLocked(f.ctx, true)
}
