package backend

import (
	"context"
	"sync"
)

// Mock is a scripted API double. Unset function fields behave as a healthy
// backend that accepts everything, so tests only script what they assert on.
type Mock struct {
	HealthFn        func(ctx context.Context) error
	BrokersFn       func(ctx context.Context) (*BrokersStatus, error)
	ConnectTWSFn    func(ctx context.Context, req TWSConnectRequest) (*ConnectResult, error)
	LoginFn         func(ctx context.Context, req LoginRequest) (*ConnectResult, error)
	KeyAuthFn       func(ctx context.Context, req KeyAuthRequest) (*ConnectResult, error)
	OAuthStartFn    func(ctx context.Context, req OAuthStartRequest) (*OAuthStartResult, error)
	OAuthExchangeFn func(ctx context.Context, req OAuthExchangeRequest) (*ConnectResult, error)
	DisconnectFn    func(ctx context.Context, broker string) error
	AccountsFn      func(ctx context.Context, broker string) ([]Account, error)

	mu    sync.Mutex
	calls []string
}

var _ API = (*Mock)(nil)

func (m *Mock) record(name string) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
}

// Calls returns the method names invoked so far, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return nil
}

func (m *Mock) Brokers(ctx context.Context) (*BrokersStatus, error) {
	m.record("Brokers")
	if m.BrokersFn != nil {
		return m.BrokersFn(ctx)
	}
	return &BrokersStatus{}, nil
}

func (m *Mock) ConnectTWS(ctx context.Context, req TWSConnectRequest) (*ConnectResult, error) {
	m.record("ConnectTWS")
	if m.ConnectTWSFn != nil {
		return m.ConnectTWSFn(ctx, req)
	}
	return &ConnectResult{Status: "connected", Broker: req.BrokerType}, nil
}

func (m *Mock) Login(ctx context.Context, req LoginRequest) (*ConnectResult, error) {
	m.record("Login")
	if m.LoginFn != nil {
		return m.LoginFn(ctx, req)
	}
	return &ConnectResult{Status: "connected", Broker: req.BrokerType}, nil
}

func (m *Mock) KeyAuth(ctx context.Context, req KeyAuthRequest) (*ConnectResult, error) {
	m.record("KeyAuth")
	if m.KeyAuthFn != nil {
		return m.KeyAuthFn(ctx, req)
	}
	return &ConnectResult{Status: "connected", Broker: req.BrokerType}, nil
}

func (m *Mock) OAuthStart(ctx context.Context, req OAuthStartRequest) (*OAuthStartResult, error) {
	m.record("OAuthStart")
	if m.OAuthStartFn != nil {
		return m.OAuthStartFn(ctx, req)
	}
	return &OAuthStartResult{AuthURL: "https://login.example.com/authorize"}, nil
}

func (m *Mock) OAuthExchange(ctx context.Context, req OAuthExchangeRequest) (*ConnectResult, error) {
	m.record("OAuthExchange")
	if m.OAuthExchangeFn != nil {
		return m.OAuthExchangeFn(ctx, req)
	}
	return &ConnectResult{Status: "connected", Broker: req.BrokerType}, nil
}

func (m *Mock) Disconnect(ctx context.Context, broker string) error {
	m.record("Disconnect")
	if m.DisconnectFn != nil {
		return m.DisconnectFn(ctx, broker)
	}
	return nil
}

func (m *Mock) Accounts(ctx context.Context, broker string) ([]Account, error) {
	m.record("Accounts")
	if m.AccountsFn != nil {
		return m.AccountsFn(ctx, broker)
	}
	return nil, nil
}
