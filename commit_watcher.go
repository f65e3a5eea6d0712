package blockstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// commitRecord tracks one in-flight metadata commit, keyed by the flush
// watermark it covers. done is closed by the response worker after the
// commit reply has been validated; err and logIndex are set before the
// close and must not be read until done fires.
type commitRecord struct {
	watermark uint64
	done      chan struct{}
	err       error
	logIndex  uint64
}

func newCommitRecord(watermark uint64) *commitRecord {
	return &commitRecord{watermark: watermark, done: make(chan struct{})}
}

func (r *commitRecord) complete(logIndex uint64) {
	r.logIndex = logIndex
	close(r.done)
}

func (r *commitRecord) fail(err error) {
	r.err = err
	close(r.done)
}

// commitWatcher tracks which flushed byte boundaries have been
// confirmed durable by a quorum of replicas. A record lives from the
// moment its commit is issued until a watch confirms or fails it; the
// set must be empty before a session may report final success.
//
// Records are keyed by watermark in an ordered skipmap, so "earliest"
// and "latest" are first/last-key lookups over the monotonic offset
// space, independent of completion arrival order.
type commitWatcher struct {
	handle  TransportHandle
	records *skipmap.Uint64Map[*commitRecord]

	// highest watermark confirmed by quorum so far
	acked atomic.Uint64

	mu      sync.Mutex
	seen    map[ReplicaID]struct{}
	lagging []ReplicaID
}

func newCommitWatcher(handle TransportHandle) *commitWatcher {
	return &commitWatcher{
		handle:  handle,
		records: skipmap.NewUint64[*commitRecord](),
		seen:    make(map[ReplicaID]struct{}),
	}
}

// track registers an in-flight commit keyed by its flush watermark.
// A given watermark is committed exactly once; a duplicate means the
// writer's flush accounting is broken.
func (w *commitWatcher) track(rec *commitRecord) {
	if _, loaded := w.records.LoadOrStore(rec.watermark, rec); loaded {
		panic(fmt.Sprintf("commit watermark %d tracked twice", rec.watermark))
	}
}

// pending returns the number of still-unconfirmed commits.
func (w *commitWatcher) pending() int {
	return w.records.Len()
}

// ackedLength returns the highest watermark confirmed by quorum.
func (w *commitWatcher) ackedLength() uint64 {
	return w.acked.Load()
}

// watchEarliest blocks until the oldest unconfirmed commit is quorum
// confirmed. Used to free buffering capacity before accepting more
// writes.
func (w *commitWatcher) watchEarliest(ctx context.Context) error {
	var oldest *commitRecord
	w.records.Range(func(_ uint64, rec *commitRecord) bool {
		oldest = rec
		return false
	})
	return w.watch(ctx, oldest)
}

// watchLatest blocks until every commit issued so far is quorum
// confirmed. Used on flush and close before reporting success.
func (w *commitWatcher) watchLatest(ctx context.Context) error {
	var recs []*commitRecord
	w.records.Range(func(_ uint64, rec *commitRecord) bool {
		recs = append(recs, rec)
		return true
	})
	for _, rec := range recs {
		if err := w.watch(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// watch waits for rec's commit reply, then for quorum to reach its log
// position. The record is removed whether or not it succeeded. Replicas
// lagging the quorum position are recorded but not fatal; only a failed
// commit future is.
func (w *commitWatcher) watch(ctx context.Context, rec *commitRecord) error {
	if rec == nil {
		return nil
	}
	defer w.records.Delete(rec.watermark)

	select {
	case <-rec.done:
	case <-ctx.Done():
		return w.watchErr(ctx, rec)
	}
	if rec.err != nil {
		return rec.err
	}

	// A zero log position means the reply carried no replication state
	// (standalone pipeline, or a forced empty commit); nothing to watch.
	if rec.logIndex > 0 {
		reply, err := w.handle.WatchForCommit(ctx, rec.logIndex)
		if err != nil {
			return fmt.Errorf("%w: watermark %d at log index %d: %v",
				ErrQuorumTimeout, rec.watermark, rec.logIndex, err)
		}
		w.noteLagging(reply.LaggingReplicas)
	}

	if rec.watermark > w.acked.Load() {
		w.acked.Store(rec.watermark)
	}
	return nil
}

func (w *commitWatcher) watchErr(ctx context.Context, rec *commitRecord) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: commit at watermark %d", ErrQuorumTimeout, rec.watermark)
	}
	return fmt.Errorf("%w: commit at watermark %d: %v",
		ErrInterrupted, rec.watermark, context.Cause(ctx))
}

func (w *commitWatcher) noteLagging(replicas []ReplicaID) {
	if len(replicas) == 0 {
		return
	}
	log.Warn("replicas lagging quorum commit",
		"pipeline", w.handle.Pipeline().ID, "replicas", replicas)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range replicas {
		if _, ok := w.seen[r]; ok {
			continue
		}
		w.seen[r] = struct{}{}
		w.lagging = append(w.lagging, r)
	}
}

// failedReplicas returns the replicas observed lagging a watched quorum
// boundary, for retry and placement decisions by a higher layer.
func (w *commitWatcher) failedReplicas() []ReplicaID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ReplicaID, len(w.lagging))
	copy(out, w.lagging)
	return out
}

// drain releases all tracked records without waiting on them.
func (w *commitWatcher) drain() {
	w.records.Range(func(key uint64, _ *commitRecord) bool {
		w.records.Delete(key)
		return true
	})
}
