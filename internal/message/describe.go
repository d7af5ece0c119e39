package message

import (
	"bytes"
	"fmt"
	"strings"

	"openfms/framekit/internal/codec"
	"openfms/framekit/internal/protocol"
)

// DecodedElement is an element's slice of a received frame with its decoded value.
// Valid is set for elements that can be checked: STATIC, LENGTH and CHECKSUM.
type DecodedElement struct {
	ElementLayout
	Value any   `json:"value,omitempty"`
	Valid *bool `json:"valid,omitempty"`
}

// Description maps a frame onto a structure
type Description struct {
	Elements []DecodedElement `json:"elements"`
	Valid    bool             `json:"valid"`
}

// Describe lays frame out over s. At most one element may have a size that is
// not known up front; it takes whatever bytes the fixed elements leave.
func Describe(s protocol.MessageStructure, frame []byte) (*Description, error) {
	sizes, err := layoutSizes(s, len(frame))
	if err != nil {
		return nil, err
	}

	order := structureOrder(s)
	parts := make(map[string][]byte, len(s.Elements))
	desc := &Description{Elements: make([]DecodedElement, len(s.Elements)), Valid: true}

	off := 0
	for i, el := range s.Elements {
		b := frame[off : off+sizes[i]]
		parts[el.ID] = b
		desc.Elements[i] = DecodedElement{ElementLayout: ElementLayout{
			ElementID: el.ID,
			Name:      el.Name,
			Kind:      el.Config.Kind(),
			Offset:    off,
			Size:      sizes[i],
			Bytes:     b,
		}}
		off += sizes[i]
	}

	for i, el := range s.Elements {
		d := &desc.Elements[i]
		elOrder := el.Order(order)
		switch cfg := el.Config.(type) {
		case protocol.StaticConfig:
			d.Valid = check(bytes.Equal(d.Bytes, cfg.Value))
		case protocol.AddressConfig:
			d.Value = decodeValue(d.Bytes, cfg.DataType, elOrder)
		case protocol.FieldConfig:
			d.Value = decodeValue(d.Bytes, cfg.DataType, elOrder)
		case protocol.LengthConfig:
			got := codec.DecodeUint(d.Bytes, order)
			d.Value = got
			want := cfg.Adjustment
			for _, id := range cfg.IncludeElementIDs {
				want += len(parts[id])
			}
			d.Valid = check(want >= 0 && got == uint64(want))
		case protocol.ChecksumConfig:
			var data []byte
			for _, id := range cfg.IncludeElementIDs {
				data = append(data, parts[id]...)
			}
			sum, err := codec.Checksum(cfg.Algorithm, data)
			if err != nil {
				return nil, fmt.Errorf("element %s: %w: %v", el.ID, ErrInvalidValue, err)
			}
			d.Value = protocol.HexBytes(sum)
			d.Valid = check(bytes.Equal(sum, d.Bytes))
		}
		if d.Valid != nil && !*d.Valid {
			desc.Valid = false
		}
	}
	return desc, nil
}

func layoutSizes(s protocol.MessageStructure, frameLen int) ([]int, error) {
	sizes := make([]int, len(s.Elements))
	open := -1
	known := 0
	for i, el := range s.Elements {
		if el.Config == nil {
			return nil, fmt.Errorf("element %s: %w: no config", el.ID, ErrUnknownElement)
		}
		n, ok := elementSize(el)
		if !ok {
			if open >= 0 {
				return nil, fmt.Errorf("%w: both %s and %s have unknown sizes",
					ErrUnsizedElement, s.Elements[open].ID, el.ID)
			}
			open = i
			continue
		}
		sizes[i] = n
		known += n
	}

	switch {
	case known > frameLen:
		return nil, fmt.Errorf("%w: frame is %d bytes, structure needs %d", ErrInvalidValue, frameLen, known)
	case open >= 0:
		sizes[open] = frameLen - known
	case known != frameLen:
		return nil, fmt.Errorf("%w: frame is %d bytes, structure describes %d", ErrInvalidValue, frameLen, known)
	}
	return sizes, nil
}

func decodeValue(b []byte, dt protocol.DataType, order protocol.ByteOrder) any {
	switch dt {
	case protocol.String:
		return strings.TrimRight(string(b), "\x00")
	case protocol.Bytes:
		return protocol.HexBytes(b)
	}
	if len(b) != codec.DataTypeWidth(dt) {
		return protocol.HexBytes(b)
	}
	v, err := codec.DecodeNumber(b, dt, order)
	if err != nil {
		return protocol.HexBytes(b)
	}
	return v
}

func check(ok bool) *bool {
	return &ok
}
