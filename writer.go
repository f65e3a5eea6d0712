package blockstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Session states. FAILED is orthogonal: the failure latch can be set
// from any state and short-circuits all public calls except cleanup.
const (
	stateOpen = iota
	stateClosing
	stateClosed
)

// BlockWriter streams one block's data to a replicated pipeline.
//
// Each Write frames its payload as one checksummed chunk and sends it
// asynchronously; many writes may be outstanding at once. Every flush
// period the accumulated chunk list is committed to the replica set via
// an idempotent metadata update that always carries the entire list, so
// a concurrent reader observes either some completed commit's chunk
// list or a strictly earlier one — never an interleaving of two
// in-flight commits. Close forces a final commit flagged end-of-block,
// waits for quorum confirmation of everything issued, and releases the
// transport handle back to its pool exactly once.
//
// Write, Flush and Close are called from a single caller goroutine.
// Async completions are serialized onto a private response worker,
// which owns all mutation from the completion side.
type BlockWriter struct {
	cfg config
	ctx context.Context

	pool   TransportPool
	handle TransportHandle

	identity atomic.Pointer[BlockIdentity]
	meta     *blockMetadata
	framer   *chunkFramer
	watcher  *commitWatcher
	worker   *responseWorker

	// First async failure wins; later ones are logged and discarded.
	failure atomic.Pointer[error]

	writtenLength  atomic.Uint64
	flushWatermark uint64 // caller thread only

	// outstanding chunk sends, caller thread only
	chunkFutures []*sendFuture

	streamClose <-chan CloseResult

	state       atomic.Int32
	cleanupOnce sync.Once
	inflight    sync.WaitGroup
}

// sendFuture resolves one chunk send. err is set by the response worker
// before done is closed.
type sendFuture struct {
	done chan struct{}
	err  error
}

// NewBlockWriter acquires a pipeline connection from pool and opens a
// write session for the given block. ctx governs every blocking wait
// for the life of the session; canceling it fails the session with
// ErrInterrupted.
func NewBlockWriter(ctx context.Context, id BlockIdentity, pool TransportPool,
	pipeline Pipeline, opts ...Option) (*BlockWriter, error) {

	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	checksum, err := NewChecksum(cfg.ChecksumType, cfg.BytesPerChecksum)
	if err != nil {
		return nil, err
	}

	handle, err := pool.Acquire(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("acquiring pipeline %s: %w", pipeline.ID, err)
	}

	w := &BlockWriter{
		cfg:     cfg,
		ctx:     ctx,
		pool:    pool,
		handle:  handle,
		meta:    newBlockMetadata(cfg.Tags),
		framer:  newChunkFramer(checksum, id.LocalID),
		watcher: newCommitWatcher(handle),
		worker:  newResponseWorker(),
	}
	w.identity.Store(&id)
	return w, nil
}

// Identity returns the current block identity, including the latest
// commit sequence number adopted from the replica set.
func (w *BlockWriter) Identity() BlockIdentity {
	return *w.identity.Load()
}

// WrittenLength returns the number of bytes accepted by Write so far.
func (w *BlockWriter) WrittenLength() uint64 {
	return w.writtenLength.Load()
}

// AckedLength returns the number of bytes confirmed durable by a quorum
// of replicas.
func (w *BlockWriter) AckedLength() uint64 {
	return w.watcher.ackedLength()
}

// FailedReplicas returns the replicas observed lagging a quorum commit
// boundary during this session.
func (w *BlockWriter) FailedReplicas() []ReplicaID {
	return w.watcher.failedReplicas()
}

// Failure returns the first asynchronous failure observed, if any.
func (w *BlockWriter) Failure() error {
	if p := w.failure.Load(); p != nil {
		return *p
	}
	return nil
}

func (w *BlockWriter) IsClosed() bool {
	return w.state.Load() == stateClosed
}

// latchFailure records the first failure; later failures lose the race
// and are only logged.
func (w *BlockWriter) latchFailure(err error) {
	if !w.failure.CompareAndSwap(nil, &err) {
		log.Debug("suppressing follow-up failure",
			"block", w.Identity(), "error", err, "first", w.Failure())
	}
}

// checkOpen fails fast once the session is fully closed or a failure
// has been latched. The CLOSING state stays open for the internal
// close sequence itself.
func (w *BlockWriter) checkOpen() error {
	if w.IsClosed() {
		return ErrClosed
	}
	return w.Failure()
}

// Write frames p as a single chunk, appends it to the block metadata
// and streams it asynchronously. It never blocks on network I/O unless
// the flush cadence or the outstanding-bytes cap is hit. Empty input is
// a no-op.
func (w *BlockWriter) Write(p []byte) (int, error) {
	if w.state.Load() != stateOpen {
		return 0, ErrClosed
	}
	if err := w.Failure(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err := w.waitForRoom(); err != nil {
		return 0, err
	}
	if err := w.writeChunk(p); err != nil {
		return 0, err
	}
	written := w.writtenLength.Add(uint64(len(p)))

	if written-w.flushWatermark >= w.cfg.FlushSize {
		w.flushWatermark = written
		if _, err := w.putBlock(false, false); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush blocks until every chunk accepted so far has been written
// through the stream, propagating the first failure. It does not issue
// a metadata commit.
func (w *BlockWriter) Flush() error {
	if w.state.Load() != stateOpen {
		return ErrClosed
	}
	if err := w.Failure(); err != nil {
		return err
	}
	return w.waitChunkFutures()
}

// Close forces a final metadata commit (even when no bytes were written
// since the last one — the replica set needs the end-of-block flag),
// waits for every outstanding send and commit to be quorum confirmed,
// and completes the stream close handshake. Cleanup always runs; the
// transport handle is invalidated when the session failed. The session
// ends CLOSED regardless of outcome, and calling Close again is a
// side-effect-free repeat of the result.
func (w *BlockWriter) Close() error {
	if !w.state.CompareAndSwap(stateOpen, stateClosing) {
		return w.Failure()
	}

	if err := w.handleFlush(); err != nil && w.Failure() == nil {
		w.latchFailure(err)
	}

	if w.streamClose != nil {
		select {
		case res := <-w.streamClose:
			if res.Err != nil {
				w.latchFailure(fmt.Errorf("%w: closing stream for block %s: %v",
					ErrTransport, w.Identity(), res.Err))
			}
		case <-w.ctx.Done():
			w.latchFailure(fmt.Errorf("%w: waiting for stream close: %v",
				ErrInterrupted, context.Cause(w.ctx)))
		}
	}

	w.cleanup(w.Failure() != nil)
	w.state.Store(stateClosed)
	return w.Failure()
}

// writeChunk frames data, appends it to the block metadata and fires
// the asynchronous transport send. The completion runs on the response
// worker; a send failure latches the session error.
func (w *BlockWriter) writeChunk(data []byte) error {
	info, err := w.framer.frame(data)
	if err != nil {
		return err
	}

	syncHint := w.cfg.SyncPolicy != nil && w.cfg.SyncPolicy(info.Offset+info.Len)
	log.Debug("writing chunk",
		"chunk", info.Name, "offset", info.Offset, "len", info.Len, "sync", syncHint)

	w.meta.append(info)

	fut := &sendFuture{done: make(chan struct{})}
	w.chunkFutures = append(w.chunkFutures, fut)

	ch := w.handle.SendChunk(data, info.Offset, syncHint)
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		res := <-ch
		w.worker.submit(func() {
			if res.Err != nil {
				err := fmt.Errorf("%w: chunk %s of block %s: %v",
					ErrTransport, info.Name, w.Identity(), res.Err)
				w.latchFailure(err)
				fut.err = err
			}
			close(fut.done)
		})
	}()
	return nil
}

// waitForRoom enforces the outstanding-bytes cap: once written bytes
// run ahead of quorum-acked bytes by the configured limit, block until
// the oldest unconfirmed commit lands.
func (w *BlockWriter) waitForRoom() error {
	max := w.cfg.MaxOutstanding
	if max == 0 {
		return nil
	}
	for w.writtenLength.Load()-w.watcher.ackedLength() >= max {
		if w.watcher.pending() == 0 {
			if w.flushWatermark >= w.writtenLength.Load() {
				// Everything issued is already confirmed.
				return nil
			}
			w.flushWatermark = w.writtenLength.Load()
			if _, err := w.putBlock(false, false); err != nil {
				return err
			}
		}
		if err := w.watchForCommit(true); err != nil {
			return err
		}
	}
	return nil
}

// putBlock issues a metadata commit carrying the full accumulated chunk
// list, keyed at the current flush watermark. closing also initiates
// the transport stream close; force marks the empty end-of-block
// commit issued when no bytes followed the previous one.
func (w *BlockWriter) putBlock(closing, force bool) (*commitRecord, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	flushPos := w.flushWatermark

	// Every chunk covered by this commit must be on the wire first.
	if err := w.waitChunkFutures(); err != nil {
		return nil, err
	}

	if closing {
		w.streamClose = w.handle.CloseStream()
	}

	rec := newCommitRecord(flushPos)
	w.watcher.track(rec)

	ch := w.handle.SendCommit(w.Identity(), w.meta.snapshot(), closing)
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		res := <-ch
		w.worker.submit(func() {
			w.handleCommitReply(rec, res, force)
		})
	}()
	return rec, nil
}

// handleCommitReply validates the commit response on the response
// worker. An earlier latched failure wins over whatever this reply
// says. Identity and log-position updates are skipped for forced empty
// commits, so a final no-op commit after a partial failure cannot
// regress identity state.
func (w *BlockWriter) handleCommitReply(rec *commitRecord, res CommitResult, force bool) {
	if res.Err != nil {
		err := fmt.Errorf("%w: block %s at watermark %d: %v",
			ErrCommit, w.Identity(), rec.watermark, res.Err)
		w.latchFailure(err)
		rec.fail(err)
		return
	}
	if first := w.Failure(); first != nil {
		// A previous request already failed; surface that cause.
		rec.fail(first)
		return
	}
	if force {
		rec.complete(0)
		return
	}

	id := res.Identity
	if cur := w.identity.Load(); !id.SameBlock(*cur) {
		err := fmt.Errorf("%w: response names %s, want %s", ErrCommit, id, *cur)
		w.latchFailure(err)
		rec.fail(err)
		return
	}
	// Adopt the commit sequence number assigned by the replica set.
	w.identity.Store(&id)
	log.Debug("commit acknowledged",
		"block", id, "watermark", rec.watermark,
		"logIndex", res.LogIndex, "pendingCommits", w.watcher.pending())
	rec.complete(res.LogIndex)
}

// waitChunkFutures blocks until every outstanding chunk send has
// completed, success or failure, then propagates the first failure.
func (w *BlockWriter) waitChunkFutures() error {
	for _, fut := range w.chunkFutures {
		select {
		case <-fut.done:
		case <-w.ctx.Done():
			err := fmt.Errorf("%w: waiting for chunk sends: %v",
				ErrInterrupted, context.Cause(w.ctx))
			w.latchFailure(err)
			return w.Failure()
		}
	}
	w.chunkFutures = w.chunkFutures[:0]
	return w.Failure()
}

// watchForCommit waits for quorum confirmation — of the oldest pending
// commit when making room (bufferFull), or of everything issued so far
// on close. Lagging replicas are recorded for the caller; only a failed
// commit future or an expired watch is fatal.
func (w *BlockWriter) watchForCommit(bufferFull bool) error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	ctx := w.ctx
	if w.cfg.WatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.WatchTimeout)
		defer cancel()
	}

	var err error
	if bufferFull {
		err = w.watcher.watchEarliest(ctx)
	} else {
		err = w.watcher.watchLatest(ctx)
	}
	if err != nil {
		w.latchFailure(err)
		return w.Failure()
	}
	return nil
}

// handleFlush drives the final commit sequence for Close: commit any
// bytes not yet covered by a watermark, or force an empty final commit
// so the replica set learns no further chunks will arrive, then wait
// until everything issued is quorum confirmed.
func (w *BlockWriter) handleFlush() error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	written := w.writtenLength.Load()
	if w.flushWatermark < written {
		w.flushWatermark = written
		if _, err := w.putBlock(true, false); err != nil {
			return err
		}
	} else {
		// No new bytes since the last commit; the final empty commit
		// still has to be sent to carry the end-of-block flag and to
		// terminate the stream. An earlier commit may still be tracked
		// at this same watermark — confirm it first so the forced
		// commit gets a fresh record.
		if err := w.watchForCommit(false); err != nil {
			return err
		}
		if _, err := w.putBlock(true, true); err != nil {
			return err
		}
	}

	if err := w.waitChunkFutures(); err != nil {
		return err
	}
	if err := w.watchForCommit(false); err != nil {
		return err
	}

	// The waits above may have latched a failure; check once more
	// before declaring the flush durable.
	return w.checkOpen()
}

// cleanup releases session resources exactly once: pending completions
// are awaited (their results discarded on failure), the response worker
// shuts down, tracked commits are dropped, and the transport handle
// goes back to the pool — invalidated when the session failed.
func (w *BlockWriter) cleanup(invalidate bool) {
	w.cleanupOnce.Do(func() {
		w.inflight.Wait()
		w.worker.close()
		w.watcher.drain()
		w.pool.Release(w.handle, invalidate)
	})
}
