package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// HexBytes is a byte slice written as spaced upper-case hex in JSON and YAML
type HexBytes []byte

// ParseHex accepts "7E 01 02", "7e0102" and "0x7E,0x01" forms
func ParseHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer("0x", "", "0X", "", ",", "", " ", "", "\t", "", "\n", "", "\r", "").Replace(s)
	if len(cleaned)%2 == 1 {
		cleaned = "0" + cleaned
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// FormatHex renders b as "7E 01 02"
func FormatHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

func (h HexBytes) String() string {
	return FormatHex(h)
}

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatHex(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// UnmarshalYAML takes either a hex string or a list of byte values
func (h *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		b, err := ParseHex(node.Value)
		if err != nil {
			return err
		}
		*h = b
		return nil
	case yaml.SequenceNode:
		var values []uint8
		if err := node.Decode(&values); err != nil {
			return err
		}
		*h = values
		return nil
	default:
		return fmt.Errorf("line %d: expected hex string or byte list", node.Line)
	}
}
