// Package progress aggregates per-download byte counters into one terminal
// progress bar. A Tracker is shared by all workers; every method is safe for
// concurrent use.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker owns the registered tasks and the bar that renders their sum.
type Tracker struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *progressbar.ProgressBar
	tasks []*Task
	done  int
}

// Task is the progress handle of one download.
type Task struct {
	tracker   *Tracker
	name      string
	total     int64 // -1 while unknown
	completed int64
	started   bool
	finished  bool
}

// New returns a Tracker writing to out. With render false nothing but log
// lines passed to Write reach out.
func New(out io.Writer, render bool) *Tracker {
	t := &Tracker{out: out}
	if render {
		t.bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("0/0 files"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionFullWidth(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}
	return t
}

// Register adds a hidden, unstarted task named after a file stem.
func (t *Tracker) Register(name string) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := &Task{tracker: t, name: name, total: -1}
	t.tasks = append(t.tasks, k)
	t.refreshLocked()
	return k
}

// Start makes the task visible; bytes are only rendered for started tasks.
func (k *Task) Start() {
	k.tracker.mu.Lock()
	defer k.tracker.mu.Unlock()
	k.started = true
	k.tracker.refreshLocked()
}

// SetTotal declares the expected size of the task in bytes.
func (k *Task) SetTotal(total int64) {
	k.tracker.mu.Lock()
	defer k.tracker.mu.Unlock()
	if total < 0 {
		total = -1
	}
	k.total = total
	k.tracker.refreshLocked()
}

// Advance adds delta transferred bytes.
func (k *Task) Advance(delta int64) {
	k.tracker.mu.Lock()
	defer k.tracker.mu.Unlock()
	k.completed += delta
	k.tracker.refreshLocked()
}

// Done marks the task as no longer transferring, whatever the outcome.
// Calling it twice is a no-op.
func (k *Task) Done() {
	k.tracker.mu.Lock()
	defer k.tracker.mu.Unlock()
	if k.finished {
		return
	}
	k.finished = true
	k.tracker.done++
	k.tracker.refreshLocked()
}

// Name returns the stem the task was registered with.
func (k *Task) Name() string { return k.name }

// Completed returns the bytes transferred so far.
func (k *Task) Completed() int64 {
	k.tracker.mu.Lock()
	defer k.tracker.mu.Unlock()
	return k.completed
}

// Total returns the declared size or -1 when unknown.
func (k *Task) Total() int64 {
	k.tracker.mu.Lock()
	defer k.tracker.mu.Unlock()
	return k.total
}

// Started reports whether Start has been called.
func (k *Task) Started() bool {
	k.tracker.mu.Lock()
	defer k.tracker.mu.Unlock()
	return k.started
}

// Snapshot is the aggregate state of a Tracker.
type Snapshot struct {
	Registered int
	Done       int
	Completed  int64
	// Total sums declared sizes; tasks without one contribute what they
	// have transferred.
	Total int64
}

// Snapshot returns the current aggregate.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{Registered: len(t.tasks), Done: t.done}
	for _, k := range t.tasks {
		s.Completed += k.completed
		if k.total >= 0 {
			s.Total += k.total
		} else {
			s.Total += k.completed
		}
	}
	return s
}

func (t *Tracker) refreshLocked() {
	if t.bar == nil {
		return
	}
	s := t.snapshotLocked()
	t.bar.Describe(fmt.Sprintf("%d/%d files", s.Done, s.Registered))
	if s.Total <= 0 {
		return
	}
	// the bar finishes itself once current reaches max
	max := s.Total
	if s.Done < s.Registered && max <= s.Completed {
		max = s.Completed + 1
	}
	if t.bar.GetMax64() != max {
		t.bar.ChangeMax64(max)
	}
	_ = t.bar.Set64(s.Completed)
}

// Write prints p above the bar. It lets a logger share the terminal with
// the bar without tearing it.
func (t *Tracker) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return t.out.Write(p)
	}
	_ = t.bar.Clear()
	n, err := t.out.Write(p)
	_ = t.bar.RenderBlank()
	return n, err
}

// Close stops rendering and leaves the bar in its final state.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return nil
	}
	err := t.bar.Exit()
	t.bar = nil
	return err
}
