package core

import (
	"context"
	"sync"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
	"github.com/sirupsen/logrus"
)

// defaultRetryQueueSize bounds how many distinct keys may wait for a retry.
const defaultRetryQueueSize = 64

type pendingWrite struct {
	ct      schema.CollectionType
	project string
	blob    []byte
	seq     uint64
}

// writeRetrier replays failed snapshot writes from a bounded queue with one worker.
// Only the latest blob per key is kept.
type writeRetrier struct {
	store    contract.SnapshotStore
	attempts int
	backoff  time.Duration
	log      *logrus.Entry
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	seq     uint64
	pending map[string]pendingWrite
	queue   chan string

	cancel context.CancelFunc
	done   chan struct{}
}

func newWriteRetrier(store contract.SnapshotStore, attempts int, backoff time.Duration, size int, log *logrus.Entry) *writeRetrier {
	if size <= 0 {
		size = defaultRetryQueueSize
	}
	return &writeRetrier{
		store:    store,
		attempts: attempts,
		backoff:  backoff,
		log:      log,
		sleep:    sleepCtx,
		pending:  make(map[string]pendingWrite),
		queue:    make(chan string, size),
	}
}

// Start launches the worker. It runs until ctx is cancelled or Stop is called.
func (w *writeRetrier) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-w.queue:
				w.process(ctx, key)
			}
		}
	}()
}

// Stop cancels the worker and waits for it to exit.
func (w *writeRetrier) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Enqueue schedules a write for retry. A key already waiting gets its blob replaced.
func (w *writeRetrier) Enqueue(ct schema.CollectionType, project string, blob []byte) {
	key := storeKey(ct, project)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	p := pendingWrite{ct: ct, project: project, blob: blob, seq: w.seq}
	if _, ok := w.pending[key]; ok {
		w.pending[key] = p
		return
	}
	select {
	case w.queue <- key:
		w.pending[key] = p
		metrics.RetryQueueDepth.Set(float64(len(w.pending)))
	default:
		metrics.RetryOutcomes.WithLabelValues("dropped").Inc()
		w.log.WithField("key", key).Warn("Retry queue full, dropping snapshot write")
	}
}

// Cancel forgets a pending write, used once a newer write went through directly.
func (w *writeRetrier) Cancel(ct schema.CollectionType, project string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, storeKey(ct, project))
	metrics.RetryQueueDepth.Set(float64(len(w.pending)))
}

// Latest returns the newest blob still waiting for the key.
func (w *writeRetrier) Latest(ct schema.CollectionType, project string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[storeKey(ct, project)]
	return p.blob, ok
}

// Pending returns how many keys are waiting.
func (w *writeRetrier) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *writeRetrier) process(ctx context.Context, key string) {
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err := w.sleep(ctx, w.backoff); err != nil {
			return
		}

		w.mu.Lock()
		p, ok := w.pending[key]
		w.mu.Unlock()
		if !ok {
			return
		}

		err := w.store.Write(ctx, p.ct, p.project, p.blob)
		if err == nil {
			w.finish(key, p.seq, "succeeded")
			w.log.WithFields(logrus.Fields{"key": key, "attempt": attempt}).Info("Retried snapshot write succeeded")
			return
		}
		w.log.WithFields(logrus.Fields{"key": key, "attempt": attempt}).WithError(err).Warn("Retried snapshot write failed")
	}

	w.mu.Lock()
	p := w.pending[key]
	w.mu.Unlock()
	w.finish(key, p.seq, "abandoned")
	w.log.WithFields(logrus.Fields{"key": key, "attempts": w.attempts}).Error("Giving up on snapshot write")
}

// finish drops the key unless a newer blob arrived meanwhile, in which case
// the key goes back on the queue.
func (w *writeRetrier) finish(key string, seq uint64, outcome string) {
	metrics.RetryOutcomes.WithLabelValues(outcome).Inc()

	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[key]
	if ok && p.seq != seq {
		select {
		case w.queue <- key:
			return
		default:
		}
	}
	delete(w.pending, key)
	metrics.RetryQueueDepth.Set(float64(len(w.pending)))
}

// storeKey identifies one collection of one project.
func storeKey(ct schema.CollectionType, project string) string {
	return string(ct) + ":" + project
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
