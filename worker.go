package blockstream

import "sync"

// responseWorker serializes all async completion handling onto a single
// goroutine, so completion callbacks can mutate session state without
// fine-grained locks. The caller thread only blocks on futures the
// worker fulfills.
type responseWorker struct {
	tasks  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newResponseWorker() *responseWorker {
	w := &responseWorker{
		tasks:  make(chan func(), 64),
		stopCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *responseWorker) run() {
	defer w.wg.Done()

	for {
		select {
		case fn := <-w.tasks:
			fn()
		case <-w.stopCh:
			// Drain tasks submitted before shutdown
			for {
				select {
				case fn := <-w.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// submit enqueues fn for execution on the worker goroutine.
// Must not be called after close.
func (w *responseWorker) submit(fn func()) {
	w.tasks <- fn
}

// close shuts the worker down after draining submitted tasks.
// Safe to call multiple times.
func (w *responseWorker) close() {
	select {
	case <-w.stopCh:
		return
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
}
