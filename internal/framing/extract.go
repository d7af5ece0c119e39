// Package framing turns a stream of byte chunks into application frames.
//
// Extractor is a pure function of its input for every strategy except SCRIPT,
// which calls out to a script.Executor. StreamFramer owns the per-connection
// buffer and timer around it.
package framing

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog"

	"openfms/framekit/internal/codec"
	"openfms/framekit/internal/metrics"
	"openfms/framekit/internal/protocol"
	"openfms/framekit/internal/script"
)

const (
	// MaxScanIterations caps delimiter and prefix scans per extraction
	MaxScanIterations = 1000

	// DefaultScriptTimeout bounds SCRIPT strategy calls
	DefaultScriptTimeout = 2 * time.Second
)

// Result is the outcome of one extraction
type Result struct {
	Frames    []protocol.TimedChunk
	Remaining []protocol.TimedChunk
}

// Extractor applies a FramingConfig to buffered chunks
type Extractor struct {
	exec    script.Executor
	log     zerolog.Logger
	metrics *metrics.Metrics

	ScriptTimeout time.Duration
	MaxIterations int
}

// NewExtractor creates an extractor. exec may be nil when SCRIPT framing is not used.
func NewExtractor(exec script.Executor, log zerolog.Logger, m *metrics.Metrics) *Extractor {
	return &Extractor{
		exec:          exec,
		log:           log.With().Str("component", "extractor").Logger(),
		metrics:       m,
		ScriptTimeout: DefaultScriptTimeout,
		MaxIterations: MaxScanIterations,
	}
}

// Extract splits chunks into frames according to cfg. forceFlush asks strategies
// that wait for more data (TIMEOUT) to emit what they have.
func (e *Extractor) Extract(ctx context.Context, chunks []protocol.TimedChunk, cfg protocol.FramingConfig, forceFlush bool) Result {
	if protocol.TotalLen(chunks) == 0 {
		return Result{}
	}

	switch cfg.Strategy {
	case protocol.StrategyNone:
		return mergeAll(chunks)
	case protocol.StrategyTimeout:
		if !forceFlush {
			return Result{Remaining: chunks}
		}
		return mergeAll(chunks)
	case protocol.StrategyDelimiter:
		return e.extractDelimited(chunks, cfg)
	case protocol.StrategyPrefixLength:
		return e.extractPrefixed(chunks, cfg)
	case protocol.StrategyScript:
		return e.extractScripted(ctx, chunks, cfg, forceFlush)
	default:
		e.log.Error().Str("strategy", string(cfg.Strategy)).Msg("Unknown framing strategy, keeping buffer")
		return Result{Remaining: chunks}
	}
}

func mergeAll(chunks []protocol.TimedChunk) Result {
	return Result{Frames: []protocol.TimedChunk{{
		Data:      concat(chunks),
		Timestamp: chunks[0].Timestamp,
	}}}
}

func (e *Extractor) extractDelimited(chunks []protocol.TimedChunk, cfg protocol.FramingConfig) Result {
	delim := ParseDelimiter(cfg.Delimiter)
	if len(delim) == 0 {
		e.log.Warn().Msg("Empty delimiter, keeping buffer")
		return Result{Remaining: chunks}
	}

	buf := concat(chunks)
	var frames []protocol.TimedChunk
	pos := 0
	for i := 0; pos < len(buf); i++ {
		idx := bytes.Index(buf[pos:], delim)
		if idx < 0 {
			break
		}
		if i >= e.maxIterations() {
			e.scanCapReached(cfg.Strategy, pos, len(buf))
			break
		}
		end := pos + idx + len(delim)
		frames = append(frames, protocol.TimedChunk{
			Data:      buf[pos:end:end],
			Timestamp: timestampAt(chunks, pos),
			Header:    &protocol.Span{Start: idx, Length: len(delim)},
			Payload:   &protocol.Span{Start: 0, Length: idx},
		})
		pos = end
	}
	return Result{Frames: frames, Remaining: remainingAfter(chunks, pos)}
}

func (e *Extractor) extractPrefixed(chunks []protocol.TimedChunk, cfg protocol.FramingConfig) Result {
	size := cfg.PrefixLengthSize
	if size < 1 || size > 8 {
		e.log.Warn().Int("prefix_length_size", size).Msg("Invalid prefix size, keeping buffer")
		return Result{Remaining: chunks}
	}

	buf := concat(chunks)
	var frames []protocol.TimedChunk
	pos := 0
	for i := 0; ; i++ {
		if len(buf)-pos < size {
			break
		}
		bodyLen := codec.DecodeUint(buf[pos:pos+size], cfg.ByteOrder)
		available := uint64(len(buf) - pos - size)
		if bodyLen > available {
			break
		}
		if i >= e.maxIterations() {
			e.scanCapReached(cfg.Strategy, pos, len(buf))
			break
		}
		end := pos + size + int(bodyLen)
		frames = append(frames, protocol.TimedChunk{
			Data:      buf[pos:end:end],
			Timestamp: timestampAt(chunks, pos),
			Header:    &protocol.Span{Start: 0, Length: size},
			Payload:   &protocol.Span{Start: size, Length: int(bodyLen)},
		})
		pos = end
	}
	return Result{Frames: frames, Remaining: remainingAfter(chunks, pos)}
}

func (e *Extractor) maxIterations() int {
	if e.MaxIterations <= 0 {
		return MaxScanIterations
	}
	return e.MaxIterations
}

func (e *Extractor) scanCapReached(strategy protocol.Strategy, pos, total int) {
	e.metrics.RecordScanCap(string(strategy))
	e.log.Warn().
		Str("strategy", string(strategy)).
		Int("limit", e.maxIterations()).
		Int("consumed", pos).
		Int("buffered", total).
		Msg("Scan iteration cap reached, keeping remaining bytes")
}

// concat copies all chunk data into one fresh buffer
func concat(chunks []protocol.TimedChunk) []byte {
	out := make([]byte, 0, protocol.TotalLen(chunks))
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out
}

// timestampAt returns the arrival time of the chunk holding byte offset
func timestampAt(chunks []protocol.TimedChunk, offset int) time.Time {
	start := 0
	for _, c := range chunks {
		end := start + len(c.Data)
		if offset < end {
			return c.Timestamp
		}
		start = end
	}
	if len(chunks) == 0 {
		return time.Time{}
	}
	return chunks[len(chunks)-1].Timestamp
}

// remainingAfter rebuilds the unconsumed tail from the original chunks so each
// leftover keeps its own arrival time.
func remainingAfter(chunks []protocol.TimedChunk, consumed int) []protocol.TimedChunk {
	var out []protocol.TimedChunk
	start := 0
	for _, c := range chunks {
		end := start + len(c.Data)
		switch {
		case end <= consumed:
			// fully consumed
		case start >= consumed:
			out = append(out, c)
		default:
			out = append(out, protocol.TimedChunk{
				Data:      c.Data[consumed-start:],
				Timestamp: c.Timestamp,
			})
		}
		start = end
	}
	return out
}
