package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/sdk/backend"
)

type HandshakeState string

const (
	StateIdle             HandshakeState = "idle"
	StateRequesting       HandshakeState = "requesting"
	StateAwaitingCallback HandshakeState = "awaiting_callback"
	StateCompleted        HandshakeState = "completed"
	StateTimedOut         HandshakeState = "timed_out"
	StateCancelled        HandshakeState = "cancelled"
)

// DefaultTimeout bounds how long a login may sit in AwaitingCallback.
const DefaultTimeout = 300 * time.Second

var (
	ErrTimeout    = errors.New("broker login timed out")
	ErrSuperseded = errors.New("login superseded by a newer attempt")
)

// attempt is one in-flight login. At most one exists at a time.
type attempt struct {
	broker      string
	sub         *Subscription
	timer       *time.Timer
	closeWindow func()
	cancel      chan error
}

type HandshakeOptions struct {
	Backend backend.API
	Bus     *Bus
	Opener  Opener
	Timeout time.Duration
	// RedirectURI is the relay's callback address, registered with the
	// broker through oauth-start.
	RedirectURI string
}

// Handshake drives a delegated browser login end to end: request the login
// URL, open the browser, wait for the correlated callback or the timeout,
// then exchange the code. Starting a new login tears the previous one down.
type Handshake struct {
	backend     backend.API
	bus         *Bus
	opener      Opener
	timeout     time.Duration
	redirectURI string
	log         *logrus.Entry

	mu     sync.Mutex
	state  HandshakeState
	active *attempt
}

func NewHandshake(opts HandshakeOptions) *Handshake {
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Opener == nil {
		opts.Opener = SystemOpener
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Handshake{
		backend:     opts.Backend,
		bus:         opts.Bus,
		opener:      opts.Opener,
		timeout:     opts.Timeout,
		redirectURI: opts.RedirectURI,
		log:         logger.WithField("component", "oauth"),
		state:       StateIdle,
	}
}

func (h *Handshake) Bus() *Bus {
	return h.bus
}

func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ActiveBroker names the broker a login is pending for, or "".
func (h *Handshake) ActiveBroker() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return ""
	}
	return h.active.broker
}

// Run performs one delegated login. The first of callback, timeout, a
// superseding Run, and ctx cancellation decides the outcome; the losers
// are actively cancelled, never leaked.
func (h *Handshake) Run(ctx context.Context, brokerID string, paper bool) (*backend.ConnectResult, error) {
	h.mu.Lock()
	if h.active != nil {
		h.log.Infof("superseding pending %s login", h.active.broker)
		h.teardownLocked(h.active, ErrSuperseded)
		h.active = nil
	}
	h.state = StateRequesting
	h.mu.Unlock()

	start, err := h.backend.OAuthStart(ctx, backend.OAuthStartRequest{
		BrokerType:  brokerID,
		Paper:       paper,
		RedirectURI: h.redirectURI,
	})
	if err != nil {
		h.setState(StateIdle)
		return nil, errors.Wrap(err, "request login url")
	}

	a := &attempt{broker: brokerID, cancel: make(chan error, 1)}

	h.mu.Lock()
	if h.active != nil {
		// A competing Run registered while we were requesting. Newest wins.
		h.teardownLocked(h.active, ErrSuperseded)
	}
	a.sub = h.bus.Subscribe(brokerID)
	a.timer = time.NewTimer(h.timeout)
	h.active = a
	h.state = StateAwaitingCallback
	h.mu.Unlock()

	h.log.Infof("awaiting %s callback, timeout %s", brokerID, h.timeout)

	closeWindow, err := h.opener(start.AuthURL)
	if err != nil {
		h.mu.Lock()
		if h.active == a {
			h.teardownLocked(a, nil)
			h.active = nil
			h.state = StateIdle
		}
		h.mu.Unlock()
		return nil, errors.Wrap(err, "open login page")
	}

	h.mu.Lock()
	if h.active == a {
		a.closeWindow = closeWindow
	}
	h.mu.Unlock()

	select {
	case msg := <-a.sub.C():
		h.mu.Lock()
		if h.active != a {
			h.mu.Unlock()
			return nil, h.cancelCause(a)
		}
		// The callback won: subscription, window and timer are released
		// before the code exchange starts.
		h.teardownLocked(a, nil)
		h.active = nil
		h.state = StateCompleted
		h.mu.Unlock()

		h.log.Infof("%s callback received, exchanging code", brokerID)
		res, err := h.backend.OAuthExchange(ctx, backend.OAuthExchangeRequest{
			BrokerType: brokerID,
			Code:       msg.Code,
			Paper:      paper,
		})
		if err != nil {
			return nil, errors.Wrap(err, "exchange authorization code")
		}
		return res, nil

	case <-a.timer.C:
		h.mu.Lock()
		if h.active != a {
			h.mu.Unlock()
			return nil, h.cancelCause(a)
		}
		// The window stays open: the user may still be mid-login, and a
		// late callback simply finds no subscription.
		a.sub.Cancel()
		h.active = nil
		h.state = StateTimedOut
		h.mu.Unlock()

		h.log.Warnf("%s login timed out after %s", brokerID, h.timeout)
		return nil, ErrTimeout

	case err := <-a.cancel:
		return nil, err

	case <-ctx.Done():
		h.mu.Lock()
		if h.active == a {
			h.teardownLocked(a, nil)
			h.active = nil
			h.state = StateCancelled
		}
		h.mu.Unlock()
		return nil, ctx.Err()
	}
}

// teardownLocked releases an attempt's subscription, timer and window.
// Idempotent. A non-nil cause wakes the attempt's waiter.
func (h *Handshake) teardownLocked(a *attempt, cause error) {
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.sub != nil {
		a.sub.Cancel()
	}
	if a.closeWindow != nil {
		a.closeWindow()
		a.closeWindow = nil
	}
	if cause != nil {
		select {
		case a.cancel <- cause:
		default:
		}
	}
}

// cancelCause reads the cause a superseder left for a displaced attempt.
func (h *Handshake) cancelCause(a *attempt) error {
	select {
	case err := <-a.cancel:
		return err
	default:
		return ErrSuperseded
	}
}

func (h *Handshake) setState(s HandshakeState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}
