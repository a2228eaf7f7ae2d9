// Package progress turns raw transfer callbacks from a depot command into
// rate, percentage and time-remaining events.
package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/logging"
)

// DefaultMinInterval is the shortest gap between two update events.
const DefaultMinInterval = 100 * time.Millisecond

// Sample is one position report.
type Sample struct {
	Position int64
	Total    int64
	At       time.Time
}

// Event is what a Tracker emits. The last event of a command has Done set.
type Event struct {
	Kind        string
	Description string
	Unit        string
	Position    int64
	Total       int64
	Percent     float64 // 0..100
	Rate        float64 // units per second
	ETA         time.Duration

	Done    bool
	Success bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMinInterval sets the throttle interval. Zero emits every update.
func WithMinInterval(d time.Duration) Option {
	return func(t *Tracker) { t.minInterval = d }
}

// Tracker implements depot.Progress for one long-running command.
type Tracker struct {
	emit        func(Event)
	now         func() time.Time
	minInterval time.Duration

	mu       sync.Mutex
	kind     string
	desc     string
	unit     string
	total    int64
	last     Sample
	lastPct  float64
	rate     float64
	eta      time.Duration
	lastEmit time.Time
	emitted  bool
	finished bool
}

// NewTracker returns a tracker that hands events to emit. emit is called
// from the goroutine running the command and must not block for long.
func NewTracker(emit func(Event), opts ...Option) *Tracker {
	t := &Tracker{
		emit:        emit,
		now:         time.Now,
		minInterval: DefaultMinInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init starts a new command.
func (t *Tracker) Init(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kind = kind
	t.total = 0
	t.last = Sample{At: t.now()}
	t.lastPct = 0
	t.rate = 0
	t.eta = 0
	t.emitted = false
	t.finished = false
	logging.Debug("progress init", zap.String("kind", kind))
}

// SetDescription names what is being transferred.
func (t *Tracker) SetDescription(desc, unit string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.desc = desc
	t.unit = unit
	logging.Debug("progress description", zap.String("description", desc), zap.String("unit", unit))
}

// SetTotal sets the expected final position.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
}

// Update records a new position. The time remaining is the elapsed interval
// scaled by how many intervals of the same progress are left; when the
// percentage did not move it keeps its previous value.
func (t *Tracker) Update(position int64) {
	t.mu.Lock()
	now := t.now()

	elapsed := now.Sub(t.last.At)
	if elapsed > 0 {
		t.rate = float64(position-t.last.Position) / elapsed.Seconds()
	}

	var pct float64
	if t.total > 0 {
		pct = math.Min(float64(position)/float64(t.total), 1)
		if delta := pct - t.lastPct; delta > 0 {
			t.eta = time.Duration(float64(elapsed) * (1 - pct) / delta)
		}
		t.lastPct = pct
	}
	t.last = Sample{Position: position, Total: t.total, At: now}

	due := !t.emitted || pct >= 1 || now.Sub(t.lastEmit) >= t.minInterval
	var ev Event
	if due {
		t.emitted = true
		t.lastEmit = now
		ev = t.event(position, pct)
	}
	t.mu.Unlock()

	if due && t.emit != nil {
		t.emit(ev)
	}
}

// Done ends the command. The terminal event is emitted whether it failed
// or not; Success tells them apart.
func (t *Tracker) Done(failed bool) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	ev := t.event(t.last.Position, t.lastPct)
	ev.Done = true
	ev.Success = !failed
	if !failed {
		ev.ETA = 0
	}
	t.mu.Unlock()

	if failed {
		logging.Warn("transfer finished with errors", zap.String("kind", ev.Kind), zap.String("description", ev.Description))
	} else {
		logging.Debug("transfer finished", zap.String("kind", ev.Kind), zap.String("description", ev.Description))
	}
	if t.emit != nil {
		t.emit(ev)
	}
}

// Last returns the most recent sample.
func (t *Tracker) Last() Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) event(position int64, pct float64) Event {
	return Event{
		Kind:        t.kind,
		Description: t.desc,
		Unit:        t.unit,
		Position:    position,
		Total:       t.total,
		Percent:     pct * 100,
		Rate:        t.rate,
		ETA:         t.eta,
	}
}

var sizeUnits = []string{"", "K", "M", "G", "T", "P", "E", "Z"}

func humanize(n float64, suffix string) string {
	for _, unit := range sizeUnits {
		if math.Abs(n) < 1024 {
			return fmt.Sprintf("%3.1f%s%s", n, unit, suffix)
		}
		n /= 1024
	}
	return fmt.Sprintf("%.1fY%s", n, suffix)
}

// HumanSize formats a byte count, e.g. "1.5MB".
func HumanSize(bytes int64) string {
	return humanize(float64(bytes), "B")
}

// HumanRate formats a byte rate as bits per second, e.g. "8.0Kbps".
func HumanRate(bytesPerSecond float64) string {
	return humanize(bytesPerSecond*8, "bps")
}
