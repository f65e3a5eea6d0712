package blockstream

import (
	"context"
	"sync"
)

// sentChunk records one SendChunk call.
type sentChunk struct {
	data   []byte
	offset uint64
	sync   bool
}

// sentCommit records one SendCommit call.
type sentCommit struct {
	id     BlockIdentity
	chunks []ChunkInfo
	final  bool
}

// mockTransport implements TransportHandle with synchronously resolved
// futures and injectable failure hooks.
type mockTransport struct {
	mu sync.Mutex

	pipeline Pipeline

	chunks  []sentChunk
	commits []sentCommit
	watches []uint64
	closed  bool

	nextLogIndex uint64
	commitSeq    uint64

	// Failure injection; n is the 1-based ordinal of the call.
	failChunk  func(n int) error
	failCommit func(n int) error
	watchErr   error
	closeErr   error

	// Replicas reported lagging on every quorum watch.
	lagging []ReplicaID
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		pipeline: Pipeline{
			ID:       "pipeline-1",
			Replicas: []ReplicaID{"dn-1", "dn-2", "dn-3"},
		},
	}
}

func (m *mockTransport) SendChunk(data []byte, offset uint64, sync bool) <-chan SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.chunks) + 1
	var err error
	if m.failChunk != nil {
		err = m.failChunk(n)
	}
	if err == nil {
		m.chunks = append(m.chunks, sentChunk{
			data:   append([]byte(nil), data...),
			offset: offset,
			sync:   sync,
		})
	}

	ch := make(chan SendResult, 1)
	ch <- SendResult{Err: err}
	return ch
}

func (m *mockTransport) SendCommit(id BlockIdentity, chunks []ChunkInfo, final bool) <-chan CommitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.commits) + 1
	m.commits = append(m.commits, sentCommit{id: id, chunks: chunks, final: final})

	ch := make(chan CommitResult, 1)
	if m.failCommit != nil {
		if err := m.failCommit(n); err != nil {
			ch <- CommitResult{Err: err}
			return ch
		}
	}

	m.commitSeq++
	m.nextLogIndex++
	ch <- CommitResult{
		Identity: BlockIdentity{
			ContainerID:    id.ContainerID,
			LocalID:        id.LocalID,
			CommitSequence: m.commitSeq,
		},
		LogIndex: m.nextLogIndex,
	}
	return ch
}

func (m *mockTransport) CloseStream() <-chan CloseResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	ch := make(chan CloseResult, 1)
	ch <- CloseResult{Err: m.closeErr}
	return ch
}

func (m *mockTransport) WatchForCommit(ctx context.Context, index uint64) (WatchReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchErr != nil {
		return WatchReply{}, m.watchErr
	}
	m.watches = append(m.watches, index)
	return WatchReply{LogIndex: index, LaggingReplicas: m.lagging}, nil
}

func (m *mockTransport) Pipeline() Pipeline {
	return m.pipeline
}

func (m *mockTransport) sentChunks() []sentChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentChunk(nil), m.chunks...)
}

func (m *mockTransport) sentCommits() []sentCommit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentCommit(nil), m.commits...)
}

func (m *mockTransport) watchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

func (m *mockTransport) streamClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockPool implements TransportPool over a single mockTransport and
// counts acquire/release calls.
type mockPool struct {
	mu sync.Mutex

	transport  *mockTransport
	acquireErr error

	acquired    int
	released    int
	invalidated bool
}

func newMockPool(transport *mockTransport) *mockPool {
	return &mockPool{transport: transport}
}

func (p *mockPool) Acquire(ctx context.Context, pipeline Pipeline) (TransportHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired++
	return p.transport, nil
}

func (p *mockPool) Release(handle TransportHandle, invalidate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	p.invalidated = invalidate
}

func (p *mockPool) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *mockPool) wasInvalidated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalidated
}
