package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRedirectPublishesCallback(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("schwab")
	relay := NewRelay("127.0.0.1:0", bus)

	ts := httptest.NewServer(relay.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/oauth/callback?broker=schwab&code=xyz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}

	select {
	case msg := <-sub.C():
		if msg.Type != TypeCallback || msg.Broker != "schwab" || msg.Code != "xyz" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
}

func TestRedirectMissingParams(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("schwab")
	relay := NewRelay("127.0.0.1:0", bus)

	ts := httptest.NewServer(relay.Router())
	defer ts.Close()

	for _, q := range []string{"", "?broker=schwab", "?code=xyz"} {
		resp, err := http.Get(ts.URL + "/oauth/callback" + q)
		if err != nil {
			t.Fatalf("GET %q: %v", q, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %q status = %d, want 400", q, resp.StatusCode)
		}
	}

	select {
	case msg := <-sub.C():
		t.Errorf("unexpected publish: %+v", msg)
	default:
	}
}

func TestPostCallback(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("schwab")
	relay := NewRelay("127.0.0.1:0", bus)

	ts := httptest.NewServer(relay.Router())
	defer ts.Close()

	// Wrong type: accepted at the HTTP level, dropped by the bus.
	resp, err := http.Post(ts.URL+"/oauth/callback", "application/json",
		strings.NewReader(`{"type":"status","broker":"schwab","code":"zzz"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	select {
	case msg := <-sub.C():
		t.Errorf("wrong-type message delivered: %+v", msg)
	default:
	}

	// Proper callback.
	resp, err = http.Post(ts.URL+"/oauth/callback", "application/json",
		strings.NewReader(`{"type":"oauth_callback","broker":"schwab","code":"p0st"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	select {
	case msg := <-sub.C():
		if msg.Code != "p0st" {
			t.Errorf("code = %q", msg.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}

	// Broken body.
	resp, err = http.Post(ts.URL+"/oauth/callback", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("broken body status = %d, want 400", resp.StatusCode)
	}
}

func TestCallbackFloodThrottled(t *testing.T) {
	bus := NewBus()
	relay := NewRelay("127.0.0.1:0", bus)

	ts := httptest.NewServer(relay.Router())
	defer ts.Close()

	throttled := false
	for i := 0; i < 15; i++ {
		resp, err := http.Get(ts.URL + "/oauth/callback?broker=schwab&code=xyz")
		if err != nil {
			t.Fatalf("GET %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			throttled = true
			break
		}
	}
	if !throttled {
		t.Fatal("callback flood was never throttled")
	}

	// The health endpoint is not rate limited.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestStartServesAndShutsDown(t *testing.T) {
	relay := NewRelay("127.0.0.1:0", NewBus())
	if err := relay.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !strings.Contains(relay.CallbackURL(), "/oauth/callback") {
		t.Errorf("callback url = %q", relay.CallbackURL())
	}

	resp, err := http.Get("http://" + relay.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
