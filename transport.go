package blockstream

import "context"

// ReplicaID identifies one storage node in a pipeline.
type ReplicaID string

// Pipeline is the ordered replica set currently serving one block's
// writes. Membership and leader election belong to the replication
// layer, not to this package.
type Pipeline struct {
	ID       string
	Replicas []ReplicaID
}

// SendResult resolves an asynchronous chunk send.
type SendResult struct {
	Err error
}

// CommitResult resolves a metadata commit. On success, Identity carries
// the commit sequence number assigned by the replica set and LogIndex
// the replication log position the commit was appended at.
type CommitResult struct {
	Err      error
	Identity BlockIdentity
	LogIndex uint64
}

// CloseResult resolves the transport stream close handshake.
type CloseResult struct {
	Err error
}

// WatchReply reports the outcome of a quorum watch: the replication log
// position acknowledged by a quorum, and any replicas still behind it.
// Lagging replicas are surfaced for placement decisions but are not
// fatal on their own.
type WatchReply struct {
	LogIndex        uint64
	LaggingReplicas []ReplicaID
}

// TransportHandle is a streaming connection to a replica pipeline,
// exclusively owned by one writer session for its lifetime. Sends are
// asynchronous; each returned channel resolves exactly once. Wire
// encoding and quorum semantics are owned by the implementation.
type TransportHandle interface {
	// SendChunk streams raw chunk bytes at the given block offset.
	// sync hints that the replica should sync the chunk to disk.
	SendChunk(data []byte, offset uint64, sync bool) <-chan SendResult

	// SendCommit issues an idempotent, full-replace update of the
	// block's chunk list. final marks the commit that ends the block;
	// no chunks may follow it.
	SendCommit(id BlockIdentity, chunks []ChunkInfo, final bool) <-chan CommitResult

	// CloseStream terminates the underlying data stream.
	CloseStream() <-chan CloseResult

	// WatchForCommit blocks until the pipeline's quorum-acknowledged
	// replication log position reaches index, reporting any replicas
	// lagging behind it.
	WatchForCommit(ctx context.Context, index uint64) (WatchReply, error)

	// Pipeline returns the replica set this handle is connected to.
	Pipeline() Pipeline
}

// TransportPool hands out pipeline connections. Acquire and Release
// are called exactly once each per writer session; invalidate tells the
// pool to discard the handle instead of returning it for reuse.
type TransportPool interface {
	Acquire(ctx context.Context, pipeline Pipeline) (TransportHandle, error)
	Release(handle TransportHandle, invalidate bool)
}
