package blockstream

import "fmt"

// BlockIdentity identifies one block within a storage container.
// CommitSequence is assigned by the replica set on each successful
// metadata commit. The writer swaps in a whole new identity rather than
// mutating fields in place, so concurrent readers never observe a
// half-updated value.
type BlockIdentity struct {
	ContainerID    uint64
	LocalID        uint64
	CommitSequence uint64
}

// SameBlock reports whether two identities name the same block,
// ignoring the commit sequence number.
func (id BlockIdentity) SameBlock(other BlockIdentity) bool {
	return id.ContainerID == other.ContainerID && id.LocalID == other.LocalID
}

func (id BlockIdentity) String() string {
	return fmt.Sprintf("container %d block %d seq %d",
		id.ContainerID, id.LocalID, id.CommitSequence)
}

// blockMetadata accumulates the ordered chunk list for one block plus
// its fixed tags. The list is append-only and never reordered. Appends
// happen on the caller thread only; commit builders take a copied
// snapshot, never a live reference to the accumulating slice.
type blockMetadata struct {
	chunks []ChunkInfo
	tags   map[string]string
}

func newBlockMetadata(tags map[string]string) *blockMetadata {
	m := &blockMetadata{tags: make(map[string]string, len(tags))}
	for k, v := range tags {
		m.tags[k] = v
	}
	return m
}

func (m *blockMetadata) append(info ChunkInfo) {
	m.chunks = append(m.chunks, info)
}

// snapshot copies the full accumulated chunk list. Every commit carries
// the whole list, not a delta, so the replica side can apply it as a
// single atomic replace and readers never see a partial splice.
func (m *blockMetadata) snapshot() []ChunkInfo {
	out := make([]ChunkInfo, len(m.chunks))
	copy(out, m.chunks)
	return out
}
