package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func TestWSURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"http://127.0.0.1:8000", "ws://127.0.0.1:8000/ws", true},
		{"https://backend.local", "wss://backend.local/ws", true},
		{"ws://127.0.0.1:8000/ws", "ws://127.0.0.1:8000/ws", true},
		{"ftp://127.0.0.1", "", false},
	}
	for _, tc := range cases {
		got, err := WSURL(tc.in)
		if tc.ok && err != nil {
			t.Errorf("WSURL(%q) error: %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("WSURL(%q) expected error", tc.in)
			}
			continue
		}
		if got != tc.want {
			t.Errorf("WSURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReceivesAccountUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub envelope
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Type != typeSubscribe || sub.Channel != ChannelAccount {
			t.Errorf("subscribe frame = %+v", sub)
		}

		_ = conn.WriteJSON(envelope{Type: typeSubscribed, Channel: ChannelAccount})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"account_update","data":{"broker":"alpaca","account_id":"PA1","buying_power":"123.45"}}`))

		// Hold the connection until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	wsURL, err := WSURL(ts.URL)
	if err != nil {
		t.Fatalf("WSURL: %v", err)
	}

	c := NewClient(wsURL)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	select {
	case upd := <-c.Updates():
		if upd.Broker != "alpaca" || upd.AccountID != "PA1" {
			t.Errorf("update = %+v", upd)
		}
		if upd.BuyingPower == nil || !upd.BuyingPower.Equal(decimal.RequireFromString("123.45")) {
			t.Errorf("buying_power = %v", upd.BuyingPower)
		}
		if upd.PortfolioValue != nil {
			t.Errorf("portfolio_value should be nil, got %v", upd.PortfolioValue)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no update received")
	}
}

func TestStartTwice(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	wsURL, _ := WSURL(ts.URL)
	c := NewClient(wsURL)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}
