package framing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"openfms/framekit/internal/protocol"
	"openfms/framekit/internal/script"
)

var ErrMalformedScriptResult = errors.New("framing: malformed script result")

// extractScripted delegates framing to the user script. Any failure keeps every
// input chunk buffered.
func (e *Extractor) extractScripted(ctx context.Context, chunks []protocol.TimedChunk, cfg protocol.FramingConfig, forceFlush bool) Result {
	failSafe := func(reason string, err error) Result {
		e.metrics.RecordExtractionFailure(string(protocol.StrategyScript), reason)
		e.log.Warn().Err(err).Str("reason", reason).Int("chunks", len(chunks)).
			Msg("Script framing failed, keeping buffer")
		return Result{Remaining: chunks}
	}

	if e.exec == nil {
		return failSafe("no_executor", errors.New("no script executor configured"))
	}

	env := map[string]any{
		"chunks":     chunksToScript(chunks),
		"forceFlush": forceFlush,
	}
	out, err := e.exec.Execute(ctx, cfg.Script, env, e.ScriptTimeout)
	if err != nil {
		reason := "exception"
		if errors.Is(err, script.ErrTimeout) {
			reason = "timeout"
		}
		return failSafe(reason, err)
	}

	res, err := parseScriptResult(out, chunks[0].Timestamp)
	if err != nil {
		return failSafe("malformed", err)
	}
	return res
}

func chunksToScript(chunks []protocol.TimedChunk) []any {
	out := make([]any, len(chunks))
	for i, c := range chunks {
		m := map[string]any{
			"data":      c.Data,
			"timestamp": c.Timestamp.UnixMilli(),
		}
		if c.Payload != nil {
			m["payloadStart"] = c.Payload.Start
			m["payloadLength"] = c.Payload.Length
		}
		out[i] = m
	}
	return out
}

// parseScriptResult validates {frames: TimedChunk[], remaining: TimedChunk[]}
func parseScriptResult(v any, fallback time.Time) (Result, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("%w: expected object, got %T", ErrMalformedScriptResult, v)
	}
	frames, err := parseChunkList(obj, "frames", fallback)
	if err != nil {
		return Result{}, err
	}
	remaining, err := parseChunkList(obj, "remaining", fallback)
	if err != nil {
		return Result{}, err
	}
	return Result{Frames: frames, Remaining: remaining}, nil
}

func parseChunkList(obj map[string]any, key string, fallback time.Time) ([]protocol.TimedChunk, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedScriptResult, key)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T, not an array", ErrMalformedScriptResult, key, raw)
	}
	out := make([]protocol.TimedChunk, 0, len(list))
	for i, item := range list {
		c, err := parseChunk(item, fallback)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseChunk(item any, fallback time.Time) (protocol.TimedChunk, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return protocol.TimedChunk{}, fmt.Errorf("%w: chunk is %T, not an object", ErrMalformedScriptResult, item)
	}
	data, err := toBytes(m["data"])
	if err != nil {
		return protocol.TimedChunk{}, err
	}
	c := protocol.TimedChunk{Data: data, Timestamp: fallback}
	if ts, ok := m["timestamp"]; ok && ts != nil {
		ms, ok := toInt(ts)
		if !ok {
			return protocol.TimedChunk{}, fmt.Errorf("%w: timestamp is %T", ErrMalformedScriptResult, ts)
		}
		c.Timestamp = time.UnixMilli(ms)
	}
	start, hasStart := toInt(m["payloadStart"])
	length, hasLength := toInt(m["payloadLength"])
	if hasStart && hasLength && start >= 0 && length >= 0 && start+length <= int64(len(data)) {
		c.Payload = &protocol.Span{Start: int(start), Length: int(length)}
	}
	return c, nil
}

// toBytes accepts a byte buffer or an array of integers in 0..255
func toBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case []any:
		out := make([]byte, len(t))
		for i, item := range t {
			n, ok := toInt(item)
			if !ok || n < 0 || n > 255 {
				return nil, fmt.Errorf("%w: data[%d] = %v is not a byte", ErrMalformedScriptResult, i, item)
			}
			out[i] = byte(n)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("%w: missing data", ErrMalformedScriptResult)
	}
	return nil, fmt.Errorf("%w: data is %T", ErrMalformedScriptResult, v)
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	}
	return 0, false
}
