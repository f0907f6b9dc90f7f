package vpn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yllada/vpn-orchestrator/common"
)

type probeFunc func() bool

func (f probeFunc) Alive(context.Context) bool { return f() }

// blockingProbe answers only when its context is done.
type blockingProbe struct {
	calls atomic.Int32
}

func (p *blockingProbe) Alive(ctx context.Context) bool {
	p.calls.Add(1)
	<-ctx.Done()
	return false
}

func TestWatchLiveness_Lost(t *testing.T) {
	var calls atomic.Int32
	probe := probeFunc(func() bool {
		return calls.Add(1) < 3
	})

	err := watchLiveness(context.Background(), 5*time.Millisecond, probe)
	if !errors.Is(err, common.ErrLivenessLost) {
		t.Fatalf("watchLiveness() error = %v, want %v", err, common.ErrLivenessLost)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("probe calls = %d, want 3", got)
	}
}

func TestWatchLiveness_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	err := watchLiveness(ctx, 5*time.Millisecond, probeFunc(func() bool { return true }))
	if err != nil {
		t.Errorf("watchLiveness() error = %v, want nil", err)
	}
}

func TestWatchLiveness_CancelledDuringCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probe := &blockingProbe{}

	done := make(chan error, 1)
	go func() {
		done <- watchLiveness(ctx, 5*time.Millisecond, probe)
	}()

	deadline := time.Now().Add(time.Second)
	for probe.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchLiveness() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watchLiveness() did not return after cancel")
	}
}
