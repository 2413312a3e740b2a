package filelist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soundrift/soundrift-go/internal/source"
)

// warmJob is one candidate queued for background listing prefetch.
type warmJob struct {
	cand source.Candidate
}

// Warmer prefetches file listings in the background so that the first
// user-visible sources of a search open instantly. It runs a fixed worker
// pool over a buffered queue and pauses between submitted groups to keep
// swarm and extractor traffic polite.
type Warmer struct {
	loader     *Loader
	logger     *zap.Logger
	maxWorkers int
	pause      time.Duration

	jobs    chan warmJob
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// NewWarmer creates a Warmer over loader.
func NewWarmer(loader *Loader, logger *zap.Logger, maxWorkers int, pause time.Duration) *Warmer {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	return &Warmer{
		loader:     loader,
		logger:     logger,
		maxWorkers: maxWorkers,
		pause:      pause,
		jobs:       make(chan warmJob, 256),
	}
}

// Start spawns the prefetch workers.
func (w *Warmer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("warmer already started")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.maxWorkers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	w.started = true
	return nil
}

// Stop cancels in-flight prefetches and waits for the workers.
func (w *Warmer) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	w.cancel()
	close(w.jobs)
	w.wg.Wait()
}

// Submit queues a group of candidates for prefetch, skipping ones whose
// listing is already cached. Non-blocking: when the queue is full the rest
// of the group is dropped, since warming is purely opportunistic.
func (w *Warmer) Submit(cands []source.Candidate) {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}

	queued := 0
	for _, c := range cands {
		if _, ok := w.loader.Peek(&c); ok {
			continue
		}
		select {
		case w.jobs <- warmJob{cand: c}:
			queued++
		default:
			w.logger.Debug("prefetch queue full, dropping remainder",
				zap.Int("queued", queued), zap.Int("group", len(cands)))
			return
		}
	}
}

func (w *Warmer) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			cand := job.cand
			if _, err := w.loader.Load(w.ctx, &cand); err != nil {
				w.logger.Debug("prefetch failed",
					zap.String("identity", cand.Identity()), zap.Error(err))
			}
			if w.pause > 0 {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(w.pause):
				}
			}
		}
	}
}
