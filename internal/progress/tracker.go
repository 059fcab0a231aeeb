package progress

import (
	"sync"
	"sync/atomic"

	"github.com/tanq16/mirrordl/internal/output"
)

// Tracker counts bytes flushed to disk and reports whole-percent progress.
// Only the writer mutates it; any goroutine may poll it.
type Tracker struct {
	totalSize      int64
	completedBytes atomic.Int64
	complete       atomic.Bool

	mu              sync.Mutex
	shownPercentage int
	sink            output.Sink
}

func New(totalSize, alreadyCompleted int64, sink output.Sink) *Tracker {
	t := &Tracker{totalSize: totalSize, sink: sink}
	t.completedBytes.Store(alreadyCompleted)
	if alreadyCompleted > 0 {
		sink.Message("Resuming download...")
	}
	t.mu.Lock()
	t.shownPercentage = t.percentage()
	t.sink.Percentage(t.shownPercentage)
	t.mu.Unlock()
	t.complete.Store(alreadyCompleted >= totalSize)
	return t
}

func (t *Tracker) percentage() int {
	if t.totalSize <= 0 {
		return 100
	}
	done := min(t.completedBytes.Load(), t.totalSize)
	return int(done * 100 / t.totalSize)
}

// AddCompletedBytes records n flushed bytes. A notification goes out only when
// the whole percentage strictly increases.
func (t *Tracker) AddCompletedBytes(n int64) {
	completed := t.completedBytes.Add(n)
	t.mu.Lock()
	if p := t.percentage(); p > t.shownPercentage {
		t.shownPercentage = p
		t.sink.Percentage(p)
	}
	t.mu.Unlock()
	if completed >= t.totalSize {
		t.complete.Store(true)
	}
}

func (t *Tracker) IsComplete() bool {
	return t.complete.Load()
}

func (t *Tracker) CompletedBytes() int64 {
	return t.completedBytes.Load()
}

func (t *Tracker) TotalSize() int64 {
	return t.totalSize
}

func (t *Tracker) Percentage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shownPercentage
}

func (t *Tracker) OnSuccess() {
	t.sink.Success()
}
