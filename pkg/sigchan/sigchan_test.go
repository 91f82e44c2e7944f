package sigchan

import (
	"testing"
	"time"
)

func TestEmitCoalesces(t *testing.T) {
	c := New(1)
	c.Emit()
	c.Emit()
	c.Emit()

	select {
	case <-c.C():
	default:
		t.Fatal("no signal pending")
	}
	select {
	case <-c.C():
		t.Fatal("signals did not coalesce")
	default:
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	c := New(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Emit()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked")
	}
}

func TestCloseWakesReceiver(t *testing.T) {
	c := New(1)
	got := make(chan bool, 1)
	go func() {
		_, ok := <-c.C()
		got <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()
	select {
	case ok := <-got:
		if ok {
			t.Fatal("expected a closed-channel receive")
		}
	case <-time.After(time.Second):
		t.Fatal("receiver still blocked after Close")
	}
}
