package message

import (
	"openfms/framekit/internal/codec"
	"openfms/framekit/internal/protocol"
)

// SizeOf returns the encoded length of s when every element's size is known
// without building. It is advisory and only used for previews.
func SizeOf(s protocol.MessageStructure) (int, bool) {
	total := 0
	for _, el := range s.Elements {
		n, ok := elementSize(el)
		if !ok {
			return 0, false
		}
		total += n
	}
	return total, true
}

// elementSize is the declared size, or the width implied by the element's
// config when no size was declared.
func elementSize(el protocol.MessageElement) (int, bool) {
	switch el.Size.Mode {
	case protocol.SizeFixed:
		return el.Size.Bytes, true
	case protocol.SizeVariable, protocol.SizeComputed:
		return 0, false
	}

	switch cfg := el.Config.(type) {
	case protocol.StaticConfig:
		return len(cfg.Value), true
	case protocol.AddressConfig:
		return numericWidth(cfg.DataType)
	case protocol.FieldConfig:
		return numericWidth(cfg.DataType)
	case protocol.LengthConfig:
		return 1, true
	case protocol.ChecksumConfig:
		return codec.ChecksumWidth(cfg.Algorithm), true
	}
	return 0, false
}

func numericWidth(dt protocol.DataType) (int, bool) {
	w := codec.DataTypeWidth(dt)
	return w, w > 0
}
