package protocol

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectYAML = `
name: demo
protocols:
  - name: tracker
    match: "7E"
    framing:
      strategy: PREFIX_LENGTH
      prefix_length_size: 2
      byte_order: LE
    structures:
      frame:
        byte_order: LE
        elements:
          - id: head
            config: {type: STATIC, value: [0x7E]}
          - id: addr
            name: Address
            config: {type: ADDRESS, data_type: UINT16, min: 1, max: 100}
          - id: len
            size: 2
            byte_order: BE
            config: {type: length, include: [body], adjustment: 1}
          - id: body
            size: VARIABLE
            config: {type: PAYLOAD, min_size: 1, max_size: 64}
          - id: pad
            size: 3
            config: {type: PADDING, fill_byte: 0xFF}
          - id: rsv
            size: 1
            config: {type: RESERVED}
          - id: temp
            encoding: celsius
            config: {type: FIELD, data_type: FLOAT32}
          - id: sum
            size: COMPUTED
            config: {type: CHECKSUM, algorithm: MOD256, include: [head, addr]}
    commands:
      - name: send
        structure: frame
        bindings:
          addr: {parameter: device, transform: "value + 1"}
          temp: {parameter: temp}
        static_bindings:
          rsv: "00"
`

func TestParseProject(t *testing.T) {
	t.Parallel()

	p, err := ParseProject([]byte(projectYAML))
	require.NoError(t, err)
	require.Len(t, p.Protocols, 1)

	proto := p.Protocols[0]
	assert.Equal(t, HexBytes{0x7E}, proto.Match)
	assert.Equal(t, FramingConfig{Strategy: StrategyPrefixLength, PrefixLengthSize: 2, ByteOrder: LittleEndian}, proto.Framing)

	s, err := proto.Structure("frame")
	require.NoError(t, err)
	assert.Equal(t, LittleEndian, s.ByteOrder)
	require.Len(t, s.Elements, 8)

	el := s.Elements
	assert.Equal(t, StaticConfig{Value: HexBytes{0x7E}}, el[0].Config)
	assert.Equal(t, "head", el[0].Name)

	assert.Equal(t, "Address", el[1].Name)
	assert.Equal(t, AddressConfig{DataType: Uint16, Min: 1, Max: 100}, el[1].Config)

	assert.Equal(t, LengthConfig{IncludeElementIDs: []string{"body"}, Adjustment: 1}, el[2].Config)
	assert.Equal(t, FixedSize(2), el[2].Size)
	assert.Equal(t, BigEndian, el[2].Order(LittleEndian))
	assert.Equal(t, LittleEndian, el[1].Order(LittleEndian))

	assert.Equal(t, PayloadConfig{MinSize: 1, MaxSize: 64}, el[3].Config)
	assert.Equal(t, VariableSize, el[3].Size)
	_, fixed := el[3].Size.Fixed()
	assert.False(t, fixed)

	assert.Equal(t, PaddingConfig{FillByte: 0xFF}, el[4].Config)
	assert.Equal(t, ReservedConfig{}, el[5].Config)
	assert.Equal(t, KindReserved, el[5].Config.Kind())

	assert.Equal(t, "celsius", el[6].Encoding)
	assert.Equal(t, ComputedSize, el[7].Size)
	assert.Equal(t, ChecksumConfig{Algorithm: ChecksumMod256, IncludeElementIDs: []string{"head", "addr"}}, el[7].Config)

	cmd, err := proto.Command("send")
	require.NoError(t, err)
	opts := cmd.Options(map[string]any{"device": 3}, []byte{1})
	assert.Equal(t, Binding{Parameter: "device", Transform: "value + 1"}, opts.Bindings["addr"])
	assert.Equal(t, "00", opts.StaticBindings["rsv"])
	assert.Equal(t, []byte{1}, opts.Payload)
}

func TestParseProject_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown element type": `
protocols:
  - name: p
    framing: {strategy: NONE}
    structures:
      s: {elements: [{id: a, config: {type: BOGUS}}]}`,
		"missing config": `
protocols:
  - name: p
    framing: {strategy: NONE}
    structures:
      s: {elements: [{id: a}]}`,
		"element without id": `
protocols:
  - name: p
    framing: {strategy: NONE}
    structures:
      s: {elements: [{config: {type: RESERVED}}]}`,
		"bad size": `
protocols:
  - name: p
    framing: {strategy: NONE}
    structures:
      s: {elements: [{id: a, size: -1, config: {type: RESERVED}}]}`,
		"bad framing": `
protocols:
  - name: p
    framing: {strategy: DELIMITER}`,
		"duplicate protocol": `
protocols:
  - {name: p, framing: {strategy: NONE}}
  - {name: p, framing: {strategy: NONE}}`,
		"unnamed protocol": `
protocols:
  - framing: {strategy: NONE}`,
		"command without structure": `
protocols:
  - name: p
    framing: {strategy: NONE}
    commands: [{name: c, structure: nope}]`,
		"binding for unknown element": `
protocols:
  - name: p
    framing: {strategy: NONE}
    structures:
      s: {elements: [{id: a, config: {type: FIELD, data_type: UINT8}}]}
    commands: [{name: c, structure: s, bindings: {b: {parameter: x}}}]`,
		"bad hex": `
protocols:
  - name: p
    match: "ZZ"
    framing: {strategy: NONE}`,
	}

	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProject([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadProject(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(projectYAML), 0o600))

	p, err := LoadProject(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)

	_, err = LoadProject(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestProjectLookup(t *testing.T) {
	t.Parallel()

	p := &Project{Protocols: []Protocol{
		{Name: "a", Match: HexBytes{0x7E}},
		{Name: "b", Match: HexBytes{0x78, 0x78}},
		{Name: "c"},
	}}

	got, ok := p.Match([]byte{0x78, 0x78, 0x11})
	require.True(t, ok)
	assert.Equal(t, "b", got.Name)

	_, ok = p.Match([]byte{0x78})
	assert.False(t, ok)

	_, err := p.Protocol("zz")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
	_, err = p.Protocols[0].Command("zz")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = p.Protocols[0].Structure("zz")
	assert.ErrorIs(t, err, ErrUnknownStructure)
}

func TestResolver(t *testing.T) {
	t.Parallel()

	p := &Project{Protocols: []Protocol{{Name: "a", Match: HexBytes{0x7E}}, {Name: "c"}}}

	r := Resolver{Project: p}
	assert.True(t, r.NeedsHeader())
	_, ok := r.Match([]byte{0x01})
	assert.False(t, ok)

	r.Fallback = "c"
	got, ok := r.Match([]byte{0x01})
	require.True(t, ok)
	assert.Equal(t, "c", got.Name)

	got, ok = r.Match([]byte{0x7E})
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)

	r.Fallback = "missing"
	_, ok = r.Match([]byte{0x01})
	assert.False(t, ok)

	assert.False(t, Resolver{Project: &Project{Protocols: []Protocol{{Name: "x"}}}}.NeedsHeader())

	var d Detector = Resolver{Project: p, Fallback: "c"}
	assert.True(t, d.NeedsHeader())
	got, ok = d.Match(nil)
	require.True(t, ok)
	assert.Equal(t, "c", got.Name)
}

func TestHex(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"7E 01 02", "7e0102", "0x7E,0x01,0x02", "7E\t01\n02"} {
		b, err := ParseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0x7E, 0x01, 0x02}, b, in)
	}

	b, err := ParseHex("F")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0F}, b)

	_, err = ParseHex("GG")
	assert.Error(t, err)

	assert.Equal(t, "", FormatHex(nil))
	assert.Equal(t, "00 AB FF", FormatHex([]byte{0x00, 0xAB, 0xFF}))

	data, err := json.Marshal(HexBytes{0x01, 0xFE})
	require.NoError(t, err)
	assert.Equal(t, `"01 FE"`, string(data))

	var h HexBytes
	require.NoError(t, json.Unmarshal([]byte(`"0a0b"`), &h))
	assert.Equal(t, HexBytes{0x0A, 0x0B}, h)
	assert.Error(t, json.Unmarshal([]byte(`12`), &h))
}

func TestFramingConfigValidate(t *testing.T) {
	t.Parallel()

	valid := []FramingConfig{
		{Strategy: StrategyNone},
		{Strategy: StrategyDelimiter, Delimiter: "\\n"},
		{Strategy: StrategyTimeout, TimeoutMs: 10},
		{Strategy: StrategyPrefixLength, PrefixLengthSize: 8, ByteOrder: BigEndian},
		{Strategy: StrategyScript, Script: "return {frames: [], remaining: []}"},
	}
	for _, c := range valid {
		assert.NoError(t, c.Validate(), c.Strategy)
	}

	invalid := []FramingConfig{
		{},
		{Strategy: "FIXED"},
		{Strategy: StrategyDelimiter},
		{Strategy: StrategyTimeout},
		{Strategy: StrategyPrefixLength, PrefixLengthSize: 9},
		{Strategy: StrategyPrefixLength, PrefixLengthSize: 1, ByteOrder: "MIDDLE"},
		{Strategy: StrategyScript},
	}
	for _, c := range invalid {
		assert.ErrorIs(t, c.Validate(), ErrInvalidFraming, c.Strategy)
	}
}
