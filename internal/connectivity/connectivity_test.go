package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestManual_DeliversTransitionsOnly(t *testing.T) {
	m := NewManual(true)

	m.Set(true)
	select {
	case v := <-m.Changes():
		t.Fatalf("unexpected change %v for an unchanged state", v)
	default:
	}

	m.Set(false)
	if m.Online() {
		t.Error("Online() = true after Set(false)")
	}
	select {
	case v := <-m.Changes():
		if v {
			t.Errorf("change = %v, want false", v)
		}
	default:
		t.Fatal("no change delivered")
	}
}

func TestManual_SlowReaderSeesLatestState(t *testing.T) {
	m := NewManual(true)
	m.Set(false)
	m.Set(true)
	m.Set(false)

	select {
	case v := <-m.Changes():
		if v {
			t.Errorf("change = %v, want the latest state false", v)
		}
	default:
		t.Fatal("no change delivered")
	}
	select {
	case v := <-m.Changes():
		t.Errorf("unexpected extra change %v", v)
	default:
	}
}

type stubPinger struct {
	mu  sync.Mutex
	err error
	n   int
}

func (p *stubPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return p.err
}

func (p *stubPinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestPoller_Check(t *testing.T) {
	ctx := context.Background()
	pinger := &stubPinger{err: errors.New("connection refused")}
	p := NewPoller(pinger, time.Minute, nil)

	if p.Check(ctx) {
		t.Error("Check() = true while ping fails")
	}
	if got := <-p.Changes(); got {
		t.Errorf("change = %v, want false", got)
	}

	pinger.set(nil)
	if !p.Check(ctx) {
		t.Error("Check() = false while ping succeeds")
	}
	if got := <-p.Changes(); !got {
		t.Errorf("change = %v, want true", got)
	}
}

func TestPoller_CanceledCheckKeepsState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPoller(&stubPinger{err: context.Canceled}, time.Minute, nil)
	if !p.Check(ctx) {
		t.Error("Check() with canceled context changed the state")
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	pinger := &stubPinger{err: errors.New("down")}
	p := NewPoller(pinger, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case up := <-p.Changes():
		if up {
			t.Errorf("change = %v, want false", up)
		}
	case <-time.After(time.Second):
		t.Fatal("poller never reported the outage")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
