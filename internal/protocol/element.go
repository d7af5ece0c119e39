package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DataType is the wire type of a FIELD or ADDRESS element
type DataType string

const (
	Uint8   DataType = "UINT8"
	Int8    DataType = "INT8"
	Uint16  DataType = "UINT16"
	Int16   DataType = "INT16"
	Uint32  DataType = "UINT32"
	Int32   DataType = "INT32"
	Float32 DataType = "FLOAT32"
	Float64 DataType = "FLOAT64"
	String  DataType = "STRING"
	Bytes   DataType = "BYTES"
)

// IsNumeric reports whether values of t are coerced to numbers before encoding
func (t DataType) IsNumeric() bool {
	switch t {
	case String, Bytes:
		return false
	}
	return true
}

// ChecksumAlgorithm selects how a CHECKSUM element is computed
type ChecksumAlgorithm string

const (
	ChecksumNone        ChecksumAlgorithm = "NONE"
	ChecksumMod256      ChecksumAlgorithm = "MOD256"
	ChecksumXOR         ChecksumAlgorithm = "XOR"
	ChecksumCRC16       ChecksumAlgorithm = "CRC16"
	ChecksumCRC16Modbus ChecksumAlgorithm = "CRC16_MODBUS"
	ChecksumCRC16CCITT  ChecksumAlgorithm = "CRC16_CCITT"
	ChecksumLRC         ChecksumAlgorithm = "LRC"
)

// ElementKind tags the ElementConfig variants
type ElementKind string

const (
	KindStatic   ElementKind = "STATIC"
	KindAddress  ElementKind = "ADDRESS"
	KindField    ElementKind = "FIELD"
	KindLength   ElementKind = "LENGTH"
	KindChecksum ElementKind = "CHECKSUM"
	KindPayload  ElementKind = "PAYLOAD"
	KindPadding  ElementKind = "PADDING"
	KindReserved ElementKind = "RESERVED"
)

// SizeMode says whether an element size is known up front
type SizeMode int

const (
	SizeUnset SizeMode = iota
	SizeFixed
	SizeVariable
	SizeComputed
)

// ElementSize is a fixed byte count, VARIABLE or COMPUTED.
// The zero value means the size was not declared.
type ElementSize struct {
	Mode  SizeMode
	Bytes int
}

// FixedSize returns an ElementSize of n bytes
func FixedSize(n int) ElementSize {
	return ElementSize{Mode: SizeFixed, Bytes: n}
}

var (
	VariableSize = ElementSize{Mode: SizeVariable}
	ComputedSize = ElementSize{Mode: SizeComputed}
)

// Fixed returns the byte count and whether it is statically known
func (s ElementSize) Fixed() (int, bool) {
	if s.Mode != SizeFixed {
		return 0, false
	}
	return s.Bytes, true
}

func (s ElementSize) String() string {
	switch s.Mode {
	case SizeVariable:
		return "VARIABLE"
	case SizeComputed:
		return "COMPUTED"
	case SizeUnset:
		return ""
	}
	return strconv.Itoa(s.Bytes)
}

func (s ElementSize) MarshalYAML() (interface{}, error) {
	switch s.Mode {
	case SizeFixed:
		return s.Bytes, nil
	case SizeUnset:
		return nil, nil
	}
	return s.String(), nil
}

func (s *ElementSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a number, VARIABLE or COMPUTED", node.Line)
	}
	switch strings.ToUpper(strings.TrimSpace(node.Value)) {
	case "VARIABLE":
		*s = VariableSize
		return nil
	case "COMPUTED":
		*s = ComputedSize
		return nil
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil || n < 0 {
		return fmt.Errorf("line %d: invalid size %q", node.Line, node.Value)
	}
	*s = FixedSize(n)
	return nil
}

// ElementConfig is the tagged variant attached to every element.
// The set of implementations is closed to this package.
type ElementConfig interface {
	Kind() ElementKind
	isElementConfig()
}

type StaticConfig struct {
	Value HexBytes `yaml:"value"`
}

type AddressConfig struct {
	DataType DataType `yaml:"data_type"`
	Min      float64  `yaml:"min"`
	Max      float64  `yaml:"max"`
}

type FieldConfig struct {
	DataType DataType `yaml:"data_type"`
}

type LengthConfig struct {
	IncludeElementIDs []string `yaml:"include"`
	Adjustment        int      `yaml:"adjustment"`
}

type ChecksumConfig struct {
	Algorithm         ChecksumAlgorithm `yaml:"algorithm"`
	IncludeElementIDs []string          `yaml:"include"`
}

type PayloadConfig struct {
	MinSize int `yaml:"min_size"`
	MaxSize int `yaml:"max_size"`
}

type PaddingConfig struct {
	FillByte uint8 `yaml:"fill_byte"`
}

type ReservedConfig struct {
	FillByte uint8 `yaml:"fill_byte"`
}

func (StaticConfig) Kind() ElementKind   { return KindStatic }
func (AddressConfig) Kind() ElementKind  { return KindAddress }
func (FieldConfig) Kind() ElementKind    { return KindField }
func (LengthConfig) Kind() ElementKind   { return KindLength }
func (ChecksumConfig) Kind() ElementKind { return KindChecksum }
func (PayloadConfig) Kind() ElementKind  { return KindPayload }
func (PaddingConfig) Kind() ElementKind  { return KindPadding }
func (ReservedConfig) Kind() ElementKind { return KindReserved }

func (StaticConfig) isElementConfig()   {}
func (AddressConfig) isElementConfig()  {}
func (FieldConfig) isElementConfig()    {}
func (LengthConfig) isElementConfig()   {}
func (ChecksumConfig) isElementConfig() {}
func (PayloadConfig) isElementConfig()  {}
func (PaddingConfig) isElementConfig()  {}
func (ReservedConfig) isElementConfig() {}

// MessageElement is one declared region of a message
type MessageElement struct {
	ID        string
	Name      string
	Size      ElementSize
	ByteOrder *ByteOrder
	Encoding  string
	Config    ElementConfig
}

// Order returns the element's byte order, falling back to def
func (e MessageElement) Order(def ByteOrder) ByteOrder {
	if e.ByteOrder != nil && *e.ByteOrder != "" {
		return *e.ByteOrder
	}
	return def
}

type elementYAML struct {
	ID        string      `yaml:"id"`
	Name      string      `yaml:"name"`
	Size      ElementSize `yaml:"size"`
	ByteOrder *ByteOrder  `yaml:"byte_order"`
	Encoding  string      `yaml:"encoding"`
	Config    yaml.Node   `yaml:"config"`
}

func (e *MessageElement) UnmarshalYAML(node *yaml.Node) error {
	var raw elementYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("line %d: element without id", node.Line)
	}
	cfg, err := decodeElementConfig(&raw.Config)
	if err != nil {
		return fmt.Errorf("element %s: %w", raw.ID, err)
	}
	*e = MessageElement{
		ID:        raw.ID,
		Name:      raw.Name,
		Size:      raw.Size,
		ByteOrder: raw.ByteOrder,
		Encoding:  raw.Encoding,
		Config:    cfg,
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	return nil
}

func decodeElementConfig(node *yaml.Node) (ElementConfig, error) {
	if node.Kind == 0 {
		return nil, fmt.Errorf("missing config")
	}
	var head struct {
		Type ElementKind `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, err
	}
	switch ElementKind(strings.ToUpper(string(head.Type))) {
	case KindStatic:
		return decodeAs[StaticConfig](node)
	case KindAddress:
		return decodeAs[AddressConfig](node)
	case KindField:
		return decodeAs[FieldConfig](node)
	case KindLength:
		return decodeAs[LengthConfig](node)
	case KindChecksum:
		return decodeAs[ChecksumConfig](node)
	case KindPayload:
		return decodeAs[PayloadConfig](node)
	case KindPadding:
		return decodeAs[PaddingConfig](node)
	case KindReserved:
		return decodeAs[ReservedConfig](node)
	default:
		return nil, fmt.Errorf("unknown element type %q", head.Type)
	}
}

func decodeAs[T ElementConfig](node *yaml.Node) (ElementConfig, error) {
	var cfg T
	if err := node.Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MessageStructure is an ordered element list with a default byte order
type MessageStructure struct {
	ByteOrder ByteOrder        `yaml:"byte_order"`
	Elements  []MessageElement `yaml:"elements"`
}

// Element looks up an element by id
func (s MessageStructure) Element(id string) (MessageElement, bool) {
	for _, e := range s.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return MessageElement{}, false
}

// Binding ties an element to a runtime parameter, with an optional value transform
type Binding struct {
	Parameter string `json:"parameter" yaml:"parameter"`
	Transform string `json:"transform,omitempty" yaml:"transform"`
}

// BuildOptions carries everything a build needs beyond the structure
type BuildOptions struct {
	Params         map[string]any
	Bindings       map[string]Binding
	StaticBindings map[string]any
	Payload        []byte
}
