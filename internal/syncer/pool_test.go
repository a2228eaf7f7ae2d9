package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fruitsalade/depotsync/internal/config"
)

func TestPoolSizeIsCapped(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{1, 1},
		{8, 8},
		{config.MaxWorkers, config.MaxWorkers},
		{100, config.MaxWorkers},
		{0, config.MaxWorkers},
		{-3, config.MaxWorkers},
	}
	for _, tt := range tests {
		if got := NewPool(tt.requested).Size(); got != tt.want {
			t.Errorf("NewPool(%d).Size() = %d, want %d", tt.requested, got, tt.want)
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	p.Start(context.Background())
	defer p.Stop()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	p := NewPool(1)
	p.Start(context.Background())

	var ran int32
	for i := 0; i < 10; i++ {
		if err := p.Submit(context.Background(), func() { atomic.AddInt32(&ran, 1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Stop()

	if ran != 10 {
		t.Errorf("ran = %d, want 10", ran)
	}
	if err := p.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit after Stop = %v, want ErrPoolStopped", err)
	}
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	p := NewPool(2)
	if err := p.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit before Start = %v, want ErrPoolStopped", err)
	}
}
