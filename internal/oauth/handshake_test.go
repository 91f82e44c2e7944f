package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/deskbot/godesk/pkg/sdk/backend"
)

type fakeOpener struct {
	mu     sync.Mutex
	opened []string
	closed int
	err    error
}

func (f *fakeOpener) open(url string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, url)
	return func() {
		f.mu.Lock()
		f.closed++
		f.mu.Unlock()
	}, nil
}

func (f *fakeOpener) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeOpener) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type runResult struct {
	res *backend.ConnectResult
	err error
}

func startRun(h *Handshake, broker string) chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		res, err := h.Run(context.Background(), broker, true)
		ch <- runResult{res: res, err: err}
	}()
	return ch
}

func newTestHandshake(mock *backend.Mock, opener *fakeOpener, timeout time.Duration) *Handshake {
	return NewHandshake(HandshakeOptions{
		Backend:     mock,
		Bus:         NewBus(),
		Opener:      opener.open,
		Timeout:     timeout,
		RedirectURI: "http://127.0.0.1:4815/oauth/callback",
	})
}

func TestCompletedFlow(t *testing.T) {
	var exchangedCode string
	mock := &backend.Mock{
		OAuthStartFn: func(ctx context.Context, req backend.OAuthStartRequest) (*backend.OAuthStartResult, error) {
			if req.BrokerType != "schwab" || !req.Paper {
				t.Errorf("start request = %+v", req)
			}
			if req.RedirectURI == "" {
				t.Error("redirect uri not passed to oauth-start")
			}
			return &backend.OAuthStartResult{AuthURL: "https://login.broker.test/authorize?x=1"}, nil
		},
		OAuthExchangeFn: func(ctx context.Context, req backend.OAuthExchangeRequest) (*backend.ConnectResult, error) {
			exchangedCode = req.Code
			return &backend.ConnectResult{Status: "connected", Broker: "schwab", AccountID: "SW9"}, nil
		},
	}
	opener := &fakeOpener{}
	h := newTestHandshake(mock, opener, time.Minute)

	done := startRun(h, "schwab")
	waitFor(t, "awaiting callback", func() bool { return h.State() == StateAwaitingCallback })

	if opener.openedCount() != 1 {
		t.Fatalf("opened = %d, want 1", opener.openedCount())
	}
	if got := h.ActiveBroker(); got != "schwab" {
		t.Errorf("active broker = %q", got)
	}

	if !h.Bus().Publish(Message{Type: TypeCallback, Broker: "schwab", Code: "authcode-1"}) {
		t.Fatal("callback not delivered")
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.res.AccountID != "SW9" {
		t.Errorf("result = %+v", r.res)
	}
	if exchangedCode != "authcode-1" {
		t.Errorf("exchanged code = %q", exchangedCode)
	}
	if h.State() != StateCompleted {
		t.Errorf("state = %s", h.State())
	}
	if opener.closedCount() != 1 {
		t.Errorf("window closed %d times, want 1", opener.closedCount())
	}

	// A second callback for the finished login finds no subscription.
	if h.Bus().Publish(Message{Type: TypeCallback, Broker: "schwab", Code: "authcode-2"}) {
		t.Error("late duplicate callback was delivered")
	}
}

func TestTimeoutLeavesWindowOpen(t *testing.T) {
	mock := &backend.Mock{}
	opener := &fakeOpener{}
	h := newTestHandshake(mock, opener, 40*time.Millisecond)

	done := startRun(h, "schwab")

	r := <-done
	if !errors.Is(r.err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", r.err)
	}
	if h.State() != StateTimedOut {
		t.Errorf("state = %s", h.State())
	}
	if opener.closedCount() != 0 {
		t.Errorf("window closed on timeout")
	}

	// The subscription is gone; a late callback changes nothing.
	if h.Bus().Publish(Message{Type: TypeCallback, Broker: "schwab", Code: "too-late"}) {
		t.Error("late callback was delivered")
	}
	if h.State() != StateTimedOut {
		t.Errorf("late callback moved state to %s", h.State())
	}
}

func TestMismatchedCallbacksIgnored(t *testing.T) {
	mock := &backend.Mock{}
	opener := &fakeOpener{}
	h := newTestHandshake(mock, opener, time.Minute)

	done := startRun(h, "schwab")
	waitFor(t, "awaiting callback", func() bool { return h.State() == StateAwaitingCallback })

	if h.Bus().Publish(Message{Type: TypeCallback, Broker: "alpaca", Code: "other"}) {
		t.Error("callback for another broker delivered")
	}
	if h.Bus().Publish(Message{Type: "noise", Broker: "schwab", Code: "junk"}) {
		t.Error("non-callback message delivered")
	}
	if h.State() != StateAwaitingCallback {
		t.Fatalf("state = %s after mismatched messages", h.State())
	}

	if !h.Bus().Publish(Message{Type: TypeCallback, Broker: "schwab", Code: "real"}) {
		t.Fatal("matching callback not delivered")
	}
	r := <-done
	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
}

func TestSupersedeCancelsOldLogin(t *testing.T) {
	mock := &backend.Mock{}
	opener := &fakeOpener{}
	h := newTestHandshake(mock, opener, time.Minute)

	first := startRun(h, "schwab")
	waitFor(t, "first awaiting", func() bool { return h.State() == StateAwaitingCallback })

	second := startRun(h, "schwab")

	// The first waiter resolves as superseded, its window closed.
	r1 := <-first
	if !errors.Is(r1.err, ErrSuperseded) {
		t.Fatalf("first err = %v, want ErrSuperseded", r1.err)
	}
	waitFor(t, "first window closed", func() bool { return opener.closedCount() == 1 })

	waitFor(t, "second awaiting", func() bool {
		return h.State() == StateAwaitingCallback && opener.openedCount() == 2
	})

	if !h.Bus().Publish(Message{Type: TypeCallback, Broker: "schwab", Code: "second-code"}) {
		t.Fatal("callback for second login not delivered")
	}
	r2 := <-second
	if r2.err != nil {
		t.Fatalf("second Run: %v", r2.err)
	}
	if h.State() != StateCompleted {
		t.Errorf("state = %s", h.State())
	}
	if opener.closedCount() != 2 {
		t.Errorf("closed = %d, want 2", opener.closedCount())
	}
}

func TestContextCancellation(t *testing.T) {
	mock := &backend.Mock{}
	opener := &fakeOpener{}
	h := newTestHandshake(mock, opener, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() {
		res, err := h.Run(ctx, "schwab", true)
		done <- runResult{res: res, err: err}
	}()
	waitFor(t, "awaiting callback", func() bool { return h.State() == StateAwaitingCallback })

	cancel()
	r := <-done
	if !errors.Is(r.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", r.err)
	}
	if h.State() != StateCancelled {
		t.Errorf("state = %s", h.State())
	}
	if opener.closedCount() != 1 {
		t.Errorf("window not closed on cancellation")
	}
}

func TestStartFailure(t *testing.T) {
	mock := &backend.Mock{
		OAuthStartFn: func(ctx context.Context, req backend.OAuthStartRequest) (*backend.OAuthStartResult, error) {
			return nil, &backend.APIError{StatusCode: 502, Status: "502 Bad Gateway"}
		},
	}
	opener := &fakeOpener{}
	h := newTestHandshake(mock, opener, time.Minute)

	_, err := h.Run(context.Background(), "schwab", true)
	if err == nil {
		t.Fatal("expected error")
	}
	if h.State() != StateIdle {
		t.Errorf("state = %s, want idle", h.State())
	}
	if opener.openedCount() != 0 {
		t.Error("browser opened despite start failure")
	}
}

func TestExchangeFailureSurfaces(t *testing.T) {
	mock := &backend.Mock{
		OAuthExchangeFn: func(ctx context.Context, req backend.OAuthExchangeRequest) (*backend.ConnectResult, error) {
			return nil, &backend.APIError{StatusCode: 401, Status: "401 Unauthorized", Detail: "code expired"}
		},
	}
	opener := &fakeOpener{}
	h := newTestHandshake(mock, opener, time.Minute)

	done := startRun(h, "schwab")
	waitFor(t, "awaiting callback", func() bool { return h.State() == StateAwaitingCallback })
	h.Bus().Publish(Message{Type: TypeCallback, Broker: "schwab", Code: "stale"})

	r := <-done
	if r.err == nil {
		t.Fatal("expected exchange error")
	}
	var apiErr *backend.APIError
	if !errors.As(r.err, &apiErr) {
		t.Errorf("err %T does not wrap *backend.APIError", r.err)
	}
}
