package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ByteOrder selects how multi-byte integers are laid out on the wire
type ByteOrder string

const (
	LittleEndian ByteOrder = "LE"
	BigEndian    ByteOrder = "BE"
)

// Strategy is a framing strategy
type Strategy string

const (
	StrategyNone         Strategy = "NONE"
	StrategyDelimiter    Strategy = "DELIMITER"
	StrategyTimeout      Strategy = "TIMEOUT"
	StrategyPrefixLength Strategy = "PREFIX_LENGTH"
	StrategyScript       Strategy = "SCRIPT"
)

var ErrInvalidFraming = errors.New("protocol: invalid framing config")

// FramingConfig describes how a byte stream is cut into frames
type FramingConfig struct {
	Strategy         Strategy  `json:"strategy" yaml:"strategy"`
	Delimiter        string    `json:"delimiter,omitempty" yaml:"delimiter"`
	TimeoutMs        int       `json:"timeout_ms,omitempty" yaml:"timeout_ms"`
	PrefixLengthSize int       `json:"prefix_length_size,omitempty" yaml:"prefix_length_size"`
	ByteOrder        ByteOrder `json:"byte_order,omitempty" yaml:"byte_order"`
	Script           string    `json:"script,omitempty" yaml:"script"`
}

// Timeout returns the quiet period used by the TIMEOUT strategy
func (c FramingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Validate checks the fields required by the selected strategy
func (c FramingConfig) Validate() error {
	switch c.Strategy {
	case StrategyNone:
	case StrategyDelimiter:
		if c.Delimiter == "" {
			return fmt.Errorf("%w: delimiter strategy needs a delimiter", ErrInvalidFraming)
		}
	case StrategyTimeout:
		if c.TimeoutMs <= 0 {
			return fmt.Errorf("%w: timeout_ms must be positive, got %d", ErrInvalidFraming, c.TimeoutMs)
		}
	case StrategyPrefixLength:
		if c.PrefixLengthSize < 1 || c.PrefixLengthSize > 8 {
			return fmt.Errorf("%w: prefix_length_size must be 1..8, got %d", ErrInvalidFraming, c.PrefixLengthSize)
		}
	case StrategyScript:
		if c.Script == "" {
			return fmt.Errorf("%w: script strategy needs a script", ErrInvalidFraming)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidFraming, c.Strategy)
	}
	switch c.ByteOrder {
	case "", LittleEndian, BigEndian:
	default:
		return fmt.Errorf("%w: unknown byte order %q", ErrInvalidFraming, c.ByteOrder)
	}
	return nil
}

// Span locates a region inside a chunk's data
type Span struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// TimedChunk is a unit of raw bytes with its arrival time.
// Header and Payload are optional markers set by the framer on extracted frames.
type TimedChunk struct {
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Header    *Span     `json:"header,omitempty"`
	Payload   *Span     `json:"payload,omitempty"`
}

// PayloadBytes returns the payload region, or all of Data when no payload span is set
func (c TimedChunk) PayloadBytes() []byte {
	if c.Payload == nil {
		return c.Data
	}
	end := c.Payload.Start + c.Payload.Length
	if c.Payload.Start < 0 || end > len(c.Data) || c.Payload.Length < 0 {
		return c.Data
	}
	return c.Data[c.Payload.Start:end]
}

// TotalLen sums the data length of chunks
func TotalLen(chunks []TimedChunk) int {
	n := 0
	for _, c := range chunks {
		n += len(c.Data)
	}
	return n
}
