package analyzer

import (
	"context"
	"sync/atomic"
)

// Event reports one finished unit of work.
type Event struct {
	// Stage names the phase the item belongs to, such as "extract".
	Stage string
	// Current is the number of items finished so far, Total the number known.
	Current int
	Total   int
	// Path identifies the finished item.
	Path string
}

// ProgressFunc receives progress events. It may be called from several
// goroutines at once.
type ProgressFunc func(Event)

// Tracker counts finished items of one stage.
// It is safe for concurrent use from multiple goroutines.
type Tracker struct {
	stage    string
	total    atomic.Int64
	current  atomic.Int64
	callback ProgressFunc
}

// NewTracker creates a tracker for stage. A nil callback only counts.
func NewTracker(stage string, callback ProgressFunc) *Tracker {
	return &Tracker{stage: stage, callback: callback}
}

// Stage returns the stage name.
func (t *Tracker) Stage() string {
	return t.stage
}

// Add grows the expected total by n.
func (t *Tracker) Add(n int) {
	t.total.Add(int64(n))
}

// SetTotal replaces the expected total.
func (t *Tracker) SetTotal(n int) {
	t.total.Store(int64(n))
}

// Tick marks the item at path finished and reports it.
func (t *Tracker) Tick(path string) {
	current := int(t.current.Add(1))
	if t.callback != nil {
		t.callback(Event{
			Stage:   t.stage,
			Current: current,
			Total:   int(t.total.Load()),
			Path:    path,
		})
	}
}

// Current returns the number of finished items.
func (t *Tracker) Current() int {
	return int(t.current.Load())
}

// Total returns the expected total.
func (t *Tracker) Total() int {
	return int(t.total.Load())
}

type trackerKey struct{}

// WithTracker returns a context that carries a progress tracker for the
// processing layer.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// TrackerFromContext returns the tracker carried by ctx, or nil.
func TrackerFromContext(ctx context.Context) *Tracker {
	if t, ok := ctx.Value(trackerKey{}).(*Tracker); ok {
		return t
	}
	return nil
}
