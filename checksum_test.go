package blockstream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksum_Compute(t *testing.T) {
	cs, err := NewChecksum(ChecksumCRC32C, 16)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("abcd"), 10) // 40 bytes, 3 ranges of <=16
	cd := cs.Compute(data)
	require.Equal(t, ChecksumCRC32C, cd.Kind)
	require.Len(t, cd.Digests, 3)

	// Deterministic
	require.Equal(t, cd.Digests, cs.Compute(data).Digests)

	// A flipped byte changes the digest of exactly that range
	corrupted := append([]byte(nil), data...)
	corrupted[20] ^= 0xff
	other := cs.Compute(corrupted)
	require.Equal(t, cd.Digests[0], other.Digests[0])
	require.NotEqual(t, cd.Digests[1], other.Digests[1])
	require.Equal(t, cd.Digests[2], other.Digests[2])
}

func TestChecksum_XXH64(t *testing.T) {
	cs, err := NewChecksum(ChecksumXXH64, 1024)
	require.NoError(t, err)

	cd := cs.Compute([]byte("payload"))
	require.Len(t, cd.Digests, 1)
	require.NoError(t, cd.Verify([]byte("payload")))
	require.Error(t, cd.Verify([]byte("payloae")))
}

func TestChecksum_Verify(t *testing.T) {
	cs, err := NewChecksum(ChecksumCRC32C, 8)
	require.NoError(t, err)

	data := []byte("0123456789abcdefXYZ")
	cd := cs.Compute(data)
	require.NoError(t, cd.Verify(data))

	corrupted := append([]byte(nil), data...)
	corrupted[0] = 'Z'
	require.ErrorContains(t, cd.Verify(corrupted), "checksum mismatch")

	// Length change is detected as a range count mismatch
	require.ErrorContains(t, cd.Verify(data[:8]), "range count mismatch")
}

func TestChecksum_None(t *testing.T) {
	cs, err := NewChecksum(ChecksumNone, 8)
	require.NoError(t, err)

	cd := cs.Compute([]byte("whatever"))
	require.Empty(t, cd.Digests)
	require.NoError(t, cd.Verify([]byte("something else entirely")))
}

func TestChecksum_InvalidBytesPerChecksum(t *testing.T) {
	_, err := NewChecksum(ChecksumCRC32C, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewChecksum(ChecksumCRC32C, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
