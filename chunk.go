package blockstream

import (
	"fmt"
	"sync/atomic"
)

// ChunkInfo describes one checksummed, offset-addressed segment of a
// block's data — the unit of transfer to replicas. Immutable once
// framed.
type ChunkInfo struct {
	Name     string
	Offset   uint64
	Len      uint64
	Checksum ChecksumData
}

// chunkFramer turns each write payload into exactly one ChunkInfo.
// Chunk indexes start at 1 and offsets partition [0, writtenLength)
// contiguously; offsets are assigned here, on the caller thread, so
// out-of-order network completions can never reorder them.
type chunkFramer struct {
	checksum *Checksum
	localID  uint64
	index    int           // caller thread only
	offset   atomic.Uint64 // next unassigned byte offset
}

func newChunkFramer(checksum *Checksum, localID uint64) *chunkFramer {
	return &chunkFramer{checksum: checksum, localID: localID}
}

// frame assigns the next chunk index and byte offset to data and
// computes its checksum. No I/O.
func (f *chunkFramer) frame(data []byte) (ChunkInfo, error) {
	if len(data) == 0 {
		return ChunkInfo{}, fmt.Errorf("%w: cannot frame an empty chunk", ErrInvalidArgument)
	}
	n := uint64(len(data))
	offset := f.offset.Add(n) - n
	f.index++
	return ChunkInfo{
		Name:     fmt.Sprintf("%d_chunk_%d", f.localID, f.index),
		Offset:   offset,
		Len:      n,
		Checksum: f.checksum.Compute(data),
	}, nil
}
