package leb128

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<64 - 1} {
		buf := EncodeUint64(nil, v)
		got, err := DecodeUint64(bufio.NewReader(bytes.NewReader(buf)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestIntRoundTrip(t *testing.T) {
	for _, v := range []int64{0, -1, 1, 63, -64, -129, 1 << 40, -(1 << 40)} {
		buf := EncodeInt64(nil, v)
		got, err := DecodeInt64(bufio.NewReader(bytes.NewReader(buf)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestDecodeInt32SignExtends(t *testing.T) {
	buf := EncodeInt64(nil, -1)
	got, err := DecodeInt32(bufio.NewReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	require.Equal(t, int32(-1), got)
}

func TestDecodeUint32Overflow(t *testing.T) {
	buf := EncodeUint64(nil, 1<<40)
	_, err := DecodeUint32(bufio.NewReader(bytes.NewReader(buf)))
	require.ErrorIs(t, err, ErrOverflow)
}
