package backendproc

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}
}

func TestStartAndStop(t *testing.T) {
	requireSh(t)

	p := New(Options{
		Command:   []string{"sh", "-c", `trap "exit 0" TERM; while true; do sleep 0.05; done`},
		StopGrace: 2 * time.Second,
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Running() {
		t.Fatal("not running after Start")
	}

	p.Stop()
	if p.Running() {
		t.Fatal("still running after Stop")
	}
	p.Stop()
}

func TestStartWithoutCommand(t *testing.T) {
	p := New(Options{})
	if err := p.Start(); err == nil {
		t.Fatal("expected an error with no command")
	}
}

func TestStartTwice(t *testing.T) {
	requireSh(t)

	p := New(Options{Command: []string{"sh", "-c", "sleep 5"}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if err := p.Start(); err == nil {
		t.Fatal("second Start must fail")
	}
}

func TestWaitHealthy(t *testing.T) {
	requireSh(t)

	var checks atomic.Int64
	p := New(Options{
		Command:        []string{"sh", "-c", "sleep 5"},
		HealthInterval: 10 * time.Millisecond,
		HealthCheck: func(ctx context.Context) error {
			if checks.Add(1) < 3 {
				return errors.New("starting")
			}
			return nil
		},
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.WaitHealthy(ctx); err != nil {
		t.Fatalf("WaitHealthy: %v", err)
	}
	if got := checks.Load(); got < 3 {
		t.Fatalf("health checks = %d, want >= 3", got)
	}
}

func TestWaitHealthyChildExits(t *testing.T) {
	requireSh(t)

	p := New(Options{
		Command:        []string{"sh", "-c", "exit 3"},
		HealthInterval: 10 * time.Millisecond,
		HealthCheck: func(ctx context.Context) error {
			return errors.New("never healthy")
		},
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.WaitHealthy(ctx); err == nil {
		t.Fatal("expected an error once the child exits")
	}
	if p.Running() {
		t.Fatal("child reported running after exit")
	}
}

func TestWaitHealthyContextDeadline(t *testing.T) {
	requireSh(t)

	p := New(Options{
		Command:        []string{"sh", "-c", "sleep 5"},
		HealthInterval: 10 * time.Millisecond,
		HealthCheck: func(ctx context.Context) error {
			return errors.New("still starting")
		},
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := p.WaitHealthy(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitHealthy = %v, want DeadlineExceeded in the chain", err)
	}
}

func TestStopKillsStubborn(t *testing.T) {
	requireSh(t)

	p := New(Options{
		Command:   []string{"sh", "-c", `trap "" TERM; while true; do sleep 0.05; done`},
		StopGrace: 100 * time.Millisecond,
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop hung on a TERM-ignoring child")
	}
	if p.Running() {
		t.Fatal("still running after kill")
	}
}
