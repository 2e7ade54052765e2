// Package leb128 reads and writes the variable-length integer encoding used
// throughout the WebAssembly binary format: unsigned LEB128 for indices and
// counts, signed (sign-extending) LEB128 for constants. Go's
// encoding/binary.Varint/Uvarint use a different, zig-zag signed convention
// and are not wire-compatible with this format, so this package exists
// alongside it rather than in place of it.
package leb128

import (
	"errors"
	"io"
)

var ErrOverflow = errors.New("leb128: value overflows target width")

// DecodeUint32 reads an unsigned LEB128 value into a 32-bit result.
func DecodeUint32(r io.ByteReader) (uint32, error) {
	v, err := decodeUint(r, 32)
	return uint32(v), err
}

// DecodeUint64 reads an unsigned LEB128 value into a 64-bit result.
func DecodeUint64(r io.ByteReader) (uint64, error) {
	return decodeUint(r, 64)
}

func decodeUint(r io.ByteReader, width uint) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= width && b&0x7f != 0 {
			return 0, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// DecodeInt32 reads a signed (sign-extended) LEB128 value into a 32-bit result.
func DecodeInt32(r io.ByteReader) (int32, error) {
	v, err := decodeInt(r, 32)
	return int32(v), err
}

// DecodeInt64 reads a signed (sign-extended) LEB128 value into a 64-bit result.
func DecodeInt64(r io.ByteReader) (int64, error) {
	v, err := decodeInt(r, 64)
	return v, err
}

func decodeInt(r io.ByteReader, width uint) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < width && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// EncodeUint64 appends v's unsigned LEB128 encoding to dst.
func EncodeUint64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// EncodeInt64 appends v's signed LEB128 encoding to dst.
func EncodeInt64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			dst = append(dst, b)
			return dst
		}
		dst = append(dst, b|0x80)
	}
}
