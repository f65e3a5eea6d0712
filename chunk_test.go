package blockstream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkFramer_Sequence(t *testing.T) {
	cs, err := NewChecksum(ChecksumCRC32C, 1024)
	require.NoError(t, err)
	framer := newChunkFramer(cs, 42)

	sizes := []int{100, 1, 4096, 37}
	var offset uint64
	for i, size := range sizes {
		info, err := framer.frame(make([]byte, size))
		require.NoError(t, err)

		require.Equal(t, fmt.Sprintf("42_chunk_%d", i+1), info.Name)
		require.Equal(t, offset, info.Offset, "offsets must be contiguous")
		require.Equal(t, uint64(size), info.Len)
		require.NotEmpty(t, info.Checksum.Digests)
		offset += uint64(size)
	}
}

func TestChunkFramer_EmptyInput(t *testing.T) {
	cs, err := NewChecksum(ChecksumCRC32C, 1024)
	require.NoError(t, err)
	framer := newChunkFramer(cs, 1)

	_, err = framer.frame(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = framer.frame([]byte{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	// The cursor must not move on rejected input
	info, err := framer.frame([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), info.Offset)
	require.Equal(t, "1_chunk_1", info.Name)
}
