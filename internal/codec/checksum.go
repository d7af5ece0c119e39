package codec

import (
	"fmt"

	"github.com/sigurn/crc16"

	"openfms/framekit/internal/protocol"
)

// ChecksumWidth returns the number of bytes alg produces
func ChecksumWidth(alg protocol.ChecksumAlgorithm) int {
	switch alg {
	case protocol.ChecksumNone:
		return 0
	case protocol.ChecksumCRC16, protocol.ChecksumCRC16Modbus, protocol.ChecksumCRC16CCITT:
		return 2
	}
	return 1
}

// Checksum computes alg over data in its wire form
func Checksum(alg protocol.ChecksumAlgorithm, data []byte) ([]byte, error) {
	switch alg {
	case protocol.ChecksumNone:
		return []byte{}, nil
	case protocol.ChecksumMod256:
		return []byte{Mod256(data)}, nil
	case protocol.ChecksumXOR:
		return []byte{XOR(data)}, nil
	case protocol.ChecksumLRC:
		return []byte{LRC(data)}, nil
	case protocol.ChecksumCRC16, protocol.ChecksumCRC16Modbus:
		crc := CRC16Modbus(data)
		return []byte{byte(crc), byte(crc >> 8)}, nil
	case protocol.ChecksumCRC16CCITT:
		crc := CRC16CCITT(data)
		return []byte{byte(crc >> 8), byte(crc)}, nil
	}
	return nil, fmt.Errorf("codec: unknown checksum algorithm %q", alg)
}

// Mod256 is the byte sum modulo 256
func Mod256(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// XOR is the running xor of data
func XOR(data []byte) byte {
	var checksum byte
	for _, b := range data {
		checksum ^= b
	}
	return checksum
}

// LRC is the two's complement of the byte sum
func LRC(data []byte) byte {
	return -Mod256(data)
}

var (
	modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)
	ccittTable  = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)
)

// CRC16Modbus uses polynomial 0x8005 (reflected), init 0xFFFF.
// Transmitted low byte first.
func CRC16Modbus(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// CRC16CCITT uses polynomial 0x1021, init 0xFFFF. Transmitted high byte first.
func CRC16CCITT(data []byte) uint16 {
	return crc16.Checksum(data, ccittTable)
}
