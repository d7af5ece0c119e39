package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openfms/framekit/internal/protocol"
)

func TestEncodeNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value float64
		dt    protocol.DataType
		order protocol.ByteOrder
		want  []byte
	}{
		{"uint8", 0x7F, protocol.Uint8, protocol.BigEndian, []byte{0x7F}},
		{"int8 negative", -128, protocol.Int8, protocol.BigEndian, []byte{0x80}},
		{"uint16 LE", 258, protocol.Uint16, protocol.LittleEndian, []byte{0x02, 0x01}},
		{"int16 negative BE", -1, protocol.Int16, protocol.BigEndian, []byte{0xFF, 0xFF}},
		{"uint32 BE", 0x01020304, protocol.Uint32, protocol.BigEndian, []byte{0x01, 0x02, 0x03, 0x04}},
		{"int32 negative LE", -2, protocol.Int32, protocol.LittleEndian, []byte{0xFE, 0xFF, 0xFF, 0xFF}},
		{"float32 BE", 1.0, protocol.Float32, protocol.BigEndian, []byte{0x3F, 0x80, 0x00, 0x00}},
		{"float64 LE", 1.0, protocol.Float64, protocol.LittleEndian, []byte{0, 0, 0, 0, 0, 0, 0xF0, 0x3F}},
		{"fraction truncated", 3.9, protocol.Uint8, protocol.BigEndian, []byte{0x03}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeNumber(tt.value, tt.dt, tt.order)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeNumber_UnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := EncodeNumber(1, protocol.String, protocol.BigEndian)
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeNumber_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, dt := range []protocol.DataType{protocol.Int8, protocol.Int16, protocol.Int32, protocol.Float32, protocol.Float64} {
		for _, order := range []protocol.ByteOrder{protocol.BigEndian, protocol.LittleEndian} {
			b, err := EncodeNumber(-2, dt, order)
			require.NoError(t, err)
			got, err := DecodeNumber(b, dt, order)
			require.NoError(t, err)
			assert.Equal(t, -2.0, got, "%s %s", dt, order)
		}
	}

	_, err := DecodeNumber([]byte{0x01}, protocol.Uint16, protocol.BigEndian)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestEncodeUint_Widths(t *testing.T) {
	t.Parallel()

	b, err := EncodeUint(0x0102030405060708, 8, protocol.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b)
	assert.Equal(t, uint64(0x0102030405060708), DecodeUint(b, protocol.BigEndian))

	b, err = EncodeUint(0x0102, 3, protocol.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x00}, b)
	assert.Equal(t, uint64(0x0102), DecodeUint(b, protocol.LittleEndian))

	_, err = EncodeUint(1, 9, protocol.BigEndian)
	require.ErrorIs(t, err, ErrUnsupportedWidth)
	_, err = EncodeUint(1, 0, protocol.BigEndian)
	require.ErrorIs(t, err, ErrUnsupportedWidth)
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	check := []byte("123456789")
	tests := []struct {
		name string
		alg  protocol.ChecksumAlgorithm
		data []byte
		want []byte
	}{
		{"none", protocol.ChecksumNone, []byte{1, 2}, []byte{}},
		{"xor", protocol.ChecksumXOR, []byte{0x01, 0x05}, []byte{0x04}},
		{"mod256 wraps", protocol.ChecksumMod256, []byte{0xFF, 0x02}, []byte{0x01}},
		{"lrc", protocol.ChecksumLRC, []byte{0x01, 0x02, 0x03}, []byte{0xFA}},
		{"crc16 modbus check", protocol.ChecksumCRC16Modbus, check, []byte{0x37, 0x4B}},
		{"crc16 alias", protocol.ChecksumCRC16, check, []byte{0x37, 0x4B}},
		{"crc16 modbus request", protocol.ChecksumCRC16Modbus, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, []byte{0x84, 0x0A}},
		{"crc16 ccitt check", protocol.ChecksumCRC16CCITT, check, []byte{0x29, 0xB1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Checksum(tt.alg, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, ChecksumWidth(tt.alg))
		})
	}

	_, err := Checksum("SHA1", check)
	require.Error(t, err)
}
