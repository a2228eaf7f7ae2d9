package progress

import (
	"testing"
	"time"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(minInterval time.Duration) (*Tracker, *clock, *[]Event) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var events []Event
	tr := NewTracker(func(e Event) { events = append(events, e) },
		WithClock(c.now), WithMinInterval(minInterval))
	return tr, c, &events
}

func TestTrackerETA(t *testing.T) {
	tr, c, events := newTestTracker(0)
	tr.Init("sync")
	tr.SetDescription("//demo/a.ma", "bytes")
	tr.SetTotal(1000)

	c.advance(time.Second)
	tr.Update(250)
	got := (*events)[len(*events)-1]
	if got.Percent != 25 {
		t.Errorf("percent = %v, want 25", got.Percent)
	}
	if got.Rate != 250 {
		t.Errorf("rate = %v, want 250", got.Rate)
	}
	// 75% left at 25% per second
	if got.ETA != 3*time.Second {
		t.Errorf("ETA = %v, want 3s", got.ETA)
	}
	if got.Description != "//demo/a.ma" || got.Kind != "sync" {
		t.Errorf("event = %+v", got)
	}

	c.advance(2 * time.Second)
	tr.Update(500)
	if got := (*events)[len(*events)-1].ETA; got != 4*time.Second {
		t.Errorf("ETA = %v, want 4s", got)
	}
}

func TestTrackerETAUnchangedWithoutProgress(t *testing.T) {
	tr, c, events := newTestTracker(0)
	tr.Init("sync")
	tr.SetTotal(1000)

	c.advance(time.Second)
	tr.Update(500)
	before := (*events)[len(*events)-1].ETA

	c.advance(time.Second)
	tr.Update(500)
	after := (*events)[len(*events)-1]
	if after.ETA != before {
		t.Errorf("ETA = %v after a stalled update, want %v", after.ETA, before)
	}
	if after.Rate != 0 {
		t.Errorf("rate = %v, want 0", after.Rate)
	}
}

func TestTrackerThrottles(t *testing.T) {
	tr, c, events := newTestTracker(100 * time.Millisecond)
	tr.Init("sync")
	tr.SetTotal(100)

	for pos := int64(10); pos < 100; pos += 10 {
		c.advance(30 * time.Millisecond)
		tr.Update(pos)
	}
	c.advance(time.Millisecond)
	tr.Update(100)

	if len(*events) == 0 || len(*events) >= 10 {
		t.Fatalf("emitted %d events, want throttling", len(*events))
	}
	if (*events)[0].Position != 10 {
		t.Errorf("first update not emitted: %+v", (*events)[0])
	}
	if last := (*events)[len(*events)-1]; last.Percent != 100 {
		t.Errorf("completion not emitted, last = %+v", last)
	}
}

func TestTrackerDone(t *testing.T) {
	tests := []struct {
		name   string
		failed bool
	}{
		{"success", false},
		{"failure", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, events := newTestTracker(0)
			tr.Init("sync")
			tr.Done(tt.failed)
			tr.Done(tt.failed)

			if len(*events) != 1 {
				t.Fatalf("events = %d, want exactly one terminal event", len(*events))
			}
			ev := (*events)[0]
			if !ev.Done {
				t.Error("terminal event not marked done")
			}
			if ev.Success == tt.failed {
				t.Errorf("Success = %v with failed = %v", ev.Success, tt.failed)
			}
		})
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0.0B"},
		{512, "512.0B"},
		{1536, "1.5KB"},
		{5 * 1024 * 1024, "5.0MB"},
	}
	for _, tt := range tests {
		if got := HumanSize(tt.n); got != tt.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
	if got := HumanRate(1024); got != "8.0Kbps" {
		t.Errorf("HumanRate(1024) = %q, want 8.0Kbps", got)
	}
}
