package message

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"openfms/framekit/internal/codec"
	"openfms/framekit/internal/protocol"
)

// toNumber coerces a parameter value before numeric encoding: numbers pass
// through, strings are read by their numeric prefix, booleans map to 0/1.
func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, nil
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseLeadingFloat(t), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: cannot use %T as a number", ErrInvalidValue, v)
}

var leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// parseLeadingFloat reads the longest numeric prefix of s, so "12abc" is 12.
// Text without a numeric prefix is 0.
func parseLeadingFloat(s string) float64 {
	m := leadingFloat.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}

// toRaw interprets a value as literal bytes. ok is false for numbers and booleans.
func toRaw(v any) (b []byte, ok bool, err error) {
	switch t := v.(type) {
	case []byte:
		return append([]byte(nil), t...), true, nil
	case protocol.HexBytes:
		return append([]byte(nil), t...), true, nil
	case string:
		return []byte(t), true, nil
	case []any:
		out := make([]byte, len(t))
		for i, item := range t {
			n, err := toNumber(item)
			if err != nil || n < 0 || n > 255 || n != float64(int(n)) {
				return nil, true, fmt.Errorf("%w: item %d (%v) is not a byte", ErrInvalidValue, i, item)
			}
			out[i] = byte(n)
		}
		return out, true, nil
	}
	return nil, false, nil
}

// encodeValue renders a bound value for an element of data type dt
func encodeValue(v any, dt protocol.DataType, order protocol.ByteOrder) ([]byte, error) {
	switch dt {
	case protocol.String:
		if b, ok, err := toRaw(v); ok {
			return b, err
		}
		return []byte(fmt.Sprint(v)), nil
	case protocol.Bytes:
		if s, ok := v.(string); ok {
			b, err := protocol.ParseHex(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return b, nil
		}
		if b, ok, err := toRaw(v); ok {
			return b, err
		}
		return nil, fmt.Errorf("%w: cannot use %T as bytes", ErrInvalidValue, v)
	}
	n, err := toNumber(v)
	if err != nil {
		return nil, err
	}
	return codec.EncodeNumber(n, dt, order)
}

// encodeStatic renders a static binding: raw bytes and text are used as-is,
// numbers are encoded per data type.
func encodeStatic(v any, dt protocol.DataType, order protocol.ByteOrder) ([]byte, error) {
	if dt == protocol.Bytes {
		return encodeValue(v, dt, order)
	}
	if b, ok, err := toRaw(v); ok {
		return b, err
	}
	return encodeValue(v, dt, order)
}

// fit pads or truncates b to n bytes. Numeric values keep their low-order
// bytes; text and byte strings are padded or cut on the right.
func fit(b []byte, n int, numeric bool, order protocol.ByteOrder) []byte {
	if len(b) == n {
		return b
	}
	out := make([]byte, n)
	if !numeric || order == protocol.LittleEndian {
		copy(out, b)
		return out
	}
	if len(b) > n {
		copy(out, b[len(b)-n:])
	} else {
		copy(out[n-len(b):], b)
	}
	return out
}
