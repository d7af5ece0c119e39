// Package codec holds the numeric and checksum primitives shared by the
// framing engine and the message builder.
package codec

import (
	"errors"
	"fmt"
	"math"

	"openfms/framekit/internal/protocol"
)

var (
	ErrUnsupportedType  = errors.New("codec: unsupported data type")
	ErrUnsupportedWidth = errors.New("codec: unsupported integer width")
	ErrShortBuffer      = errors.New("codec: buffer shorter than data type")
)

// DataTypeWidth returns the wire width of a numeric data type, 0 for STRING/BYTES
func DataTypeWidth(dt protocol.DataType) int {
	switch dt {
	case protocol.Uint8, protocol.Int8:
		return 1
	case protocol.Uint16, protocol.Int16:
		return 2
	case protocol.Uint32, protocol.Int32, protocol.Float32:
		return 4
	case protocol.Float64:
		return 8
	}
	return 0
}

// EncodeUint writes the low width bytes of v in the given order.
// width may be 1 through 8.
func EncodeUint(v uint64, width int, order protocol.ByteOrder) ([]byte, error) {
	if width < 1 || width > 8 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWidth, width)
	}
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		b := byte(v >> (8 * i))
		if order == protocol.LittleEndian {
			out[i] = b
		} else {
			out[width-1-i] = b
		}
	}
	return out, nil
}

// DecodeUint reads b as an unsigned integer. len(b) must be 1 through 8.
func DecodeUint(b []byte, order protocol.ByteOrder) uint64 {
	var v uint64
	n := len(b)
	for i := 0; i < n; i++ {
		var cur byte
		if order == protocol.LittleEndian {
			cur = b[n-1-i]
		} else {
			cur = b[i]
		}
		v = v<<8 | uint64(cur)
	}
	return v
}

// EncodeNumber encodes v as dt. Negative integers become two's complement of the
// type width; fractional values are truncated toward zero for integer types.
func EncodeNumber(v float64, dt protocol.DataType, order protocol.ByteOrder) ([]byte, error) {
	switch dt {
	case protocol.Float32:
		return EncodeUint(uint64(math.Float32bits(float32(v))), 4, order)
	case protocol.Float64:
		return EncodeUint(math.Float64bits(v), 8, order)
	case protocol.Uint8, protocol.Int8, protocol.Uint16, protocol.Int16, protocol.Uint32, protocol.Int32:
		return EncodeUint(toUnsigned(v, DataTypeWidth(dt)), DataTypeWidth(dt), order)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
}

// DecodeNumber is the inverse of EncodeNumber
func DecodeNumber(b []byte, dt protocol.DataType, order protocol.ByteOrder) (float64, error) {
	width := DataTypeWidth(dt)
	if width == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
	}
	if len(b) < width {
		return 0, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortBuffer, dt, width, len(b))
	}
	raw := DecodeUint(b[:width], order)
	switch dt {
	case protocol.Float32:
		return float64(math.Float32frombits(uint32(raw))), nil
	case protocol.Float64:
		return math.Float64frombits(raw), nil
	case protocol.Int8:
		return float64(int8(raw)), nil
	case protocol.Int16:
		return float64(int16(raw)), nil
	case protocol.Int32:
		return float64(int32(raw)), nil
	}
	return float64(raw), nil
}

// toUnsigned converts v to the two's complement bit pattern of width bytes
func toUnsigned(v float64, width int) uint64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	i := int64(math.Trunc(v))
	mask := uint64(math.MaxUint64)
	if width < 8 {
		mask = (uint64(1) << (8 * uint(width))) - 1
	}
	return uint64(i) & mask
}
