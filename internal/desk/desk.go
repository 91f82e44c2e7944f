// Package desk composes the client core: the one façade the UI talks to,
// with a single mutex making compound mutations atomic.
package desk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/internal/auth"
	"github.com/deskbot/godesk/internal/brokers"
	"github.com/deskbot/godesk/internal/guard"
	"github.com/deskbot/godesk/internal/health"
	"github.com/deskbot/godesk/internal/journal"
	"github.com/deskbot/godesk/internal/oauth"
	"github.com/deskbot/godesk/internal/session"
	"github.com/deskbot/godesk/internal/trademode"
	"github.com/deskbot/godesk/pkg/debounce"
	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/sdk/backend"
	"github.com/deskbot/godesk/pkg/sigchan"
)

// ErrConnectInFlight rejects a second connect for a broker that already
// has one running.
var ErrConnectInFlight = errors.New("a connect for this broker is already running")

const defaultRefreshMinInterval = 2 * time.Second

type Options struct {
	Registry  *brokers.Registry
	Backend   backend.API
	Handshake *oauth.Handshake // optional; nil disables delegated login
	Session   *session.Session
	Modes     *trademode.Store
	Guard     *guard.Guard
	Journal   *journal.Journal // optional
	Breaker   *health.Breaker  // optional

	// RefreshMinInterval debounces Refresh; zero means the default.
	RefreshMinInterval time.Duration
}

// Core owns every mutation of mode and session. Snapshot reads take the
// same mutex, so no reader observes a compound change half applied.
type Core struct {
	mu sync.Mutex

	registry  *brokers.Registry
	backend   backend.API
	handshake *oauth.Handshake
	exec      *auth.Executor
	session   *session.Session
	modes     *trademode.Store
	guard     *guard.Guard
	journal   *journal.Journal
	breaker   *health.Breaker
	notifier  *sigchan.Chan
	log       *logrus.Entry

	inflight    map[string]struct{}
	refreshGate *debounce.Gate
	closed      bool
}

// Snapshot is one consistent view of the desk.
type Snapshot struct {
	Mode            trademode.Mode
	Session         session.State
	Handshake       oauth.HandshakeState
	HandshakeBroker string
	Connecting      []string
	BackendHealthy  bool
	LiveAllowed     bool
}

func New(opts Options) *Core {
	if opts.RefreshMinInterval <= 0 {
		opts.RefreshMinInterval = defaultRefreshMinInterval
	}
	c := &Core{
		registry:    opts.Registry,
		backend:     opts.Backend,
		handshake:   opts.Handshake,
		session:     opts.Session,
		modes:       opts.Modes,
		guard:       opts.Guard,
		journal:     opts.Journal,
		breaker:     opts.Breaker,
		notifier:    sigchan.New(1),
		log:         logger.WithField("component", "desk"),
		inflight:    map[string]struct{}{},
		refreshGate: debounce.New(opts.RefreshMinInterval),
	}

	execOpts := auth.Options{
		Registry: opts.Registry,
		Backend:  opts.Backend,
		Session:  opts.Session,
		Journal:  opts.Journal,
	}
	if opts.Handshake != nil {
		execOpts.Handshake = opts.Handshake
	}
	c.exec = auth.NewExecutor(execOpts)
	return c
}

// Changes delivers a signal after every mutation. Coalescing: one pending
// signal covers any number of changes.
func (c *Core) Changes() <-chan struct{} {
	return c.notifier.C()
}

// Close wakes Changes receivers for good. Further mutations still work
// but no longer signal.
func (c *Core) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notifier.Close()
}

func (c *Core) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked()
}

func (c *Core) notifyLocked() {
	if !c.closed {
		c.notifier.Emit()
	}
}

// Brokers lists the selectable broker ids in catalog order.
func (c *Core) Brokers() []string {
	return c.registry.IDs()
}

// Describe resolves one broker's descriptor.
func (c *Core) Describe(brokerID string) (brokers.Descriptor, error) {
	return c.registry.Resolve(brokerID)
}

func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Mode:           c.modes.Mode(),
		Session:        c.session.Get(),
		Handshake:      oauth.StateIdle,
		BackendHealthy: c.breaker.Healthy(),
	}
	if c.handshake != nil {
		snap.Handshake = c.handshake.State()
		snap.HandshakeBroker = c.handshake.ActiveBroker()
	}
	if c.guard != nil {
		snap.LiveAllowed = c.guard.CanEnter(trademode.Live, snap.Session) == nil
	}
	for id := range c.inflight {
		snap.Connecting = append(snap.Connecting, id)
	}
	sort.Strings(snap.Connecting)
	return snap
}

// Connect runs one auth attempt for the broker. A second call for the
// same broker while one runs fails fast with ErrConnectInFlight; other
// brokers are not blocked.
func (c *Core) Connect(ctx context.Context, brokerID string, form map[string]string) (session.State, error) {
	id := strings.ToLower(strings.TrimSpace(brokerID))

	c.mu.Lock()
	if _, busy := c.inflight[id]; busy {
		c.mu.Unlock()
		return session.State{}, ErrConnectInFlight
	}
	c.inflight[id] = struct{}{}
	c.notifyLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.notifyLocked()
		c.mu.Unlock()
	}()

	return c.exec.Connect(ctx, id, form)
}

// Disconnect tears the session down. A failed backend call is logged and
// does not stop the local teardown: the session is cleared and, when the
// mode is Live, it is demoted to Paper in the same critical section.
func (c *Core) Disconnect(ctx context.Context) error {
	st := c.session.Get()
	if !st.Connected {
		return nil
	}

	if err := c.backend.Disconnect(ctx, st.Provider); err != nil {
		c.log.WithError(err).WithField("broker", st.Provider).
			Warn("Backend disconnect failed, clearing local session anyway")
	}

	c.mu.Lock()
	c.session.Clear()
	mode := c.modes.Mode()
	demoted := false
	if mode == trademode.Live {
		mode = c.modes.ForcePaper()
		demoted = true
	}
	c.notifyLocked()
	c.mu.Unlock()

	detail := "session cleared"
	if demoted {
		detail = "session cleared, mode demoted to paper"
	}
	c.journalAppend(journal.Event{
		Kind:   journal.KindDisconnect,
		Broker: st.Provider,
		Mode:   string(mode),
		Detail: detail,
	})
	return nil
}

// SetMode requests a mode change without confirmation. Live therefore
// never takes effect here; it comes back ErrConfirmationRequired.
func (c *Core) SetMode(requested trademode.Mode) error {
	return c.setMode(requested, false)
}

// ConfirmLive is the confirmed half of the live switch. The guard still
// re-checks the broker at this moment.
func (c *Core) ConfirmLive() error {
	return c.setMode(trademode.Live, true)
}

func (c *Core) setMode(requested trademode.Mode, confirmed bool) error {
	c.mu.Lock()
	prev := c.modes.Mode()
	effective, err := c.modes.SetMode(requested, confirmed)
	if err == nil && effective != prev {
		c.notifyLocked()
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if effective != prev {
		c.journalAppend(journal.Event{
			Kind:   journal.KindModeChange,
			Mode:   string(effective),
			Detail: fmt.Sprintf("%s -> %s", prev, effective),
		})
	}
	return nil
}

// Refresh pulls status and balances from the backend. Calls inside the
// debounce window, or while the breaker blocks probes, do nothing.
func (c *Core) Refresh(ctx context.Context) error {
	c.mu.Lock()
	ready, _ := c.refreshGate.Ready(time.Now())
	if !ready || !c.breaker.Allow() {
		c.mu.Unlock()
		return nil
	}
	c.refreshGate.Mark(time.Now())
	c.mu.Unlock()

	status, err := c.backend.Brokers(ctx)
	if err != nil {
		c.breaker.OnError()
		c.notify()
		return errors.Wrap(err, "refresh status")
	}
	c.breaker.OnSuccess()

	st := c.session.Get()
	if !st.Connected {
		c.notify()
		return nil
	}

	if !containsBroker(status.Connected.ConnectedBrokers, st.Provider) {
		c.log.WithField("broker", st.Provider).Warn("Backend no longer holds the session, clearing")
		c.teardownLost(st.Provider)
		return nil
	}

	accounts, err := c.backend.Accounts(ctx, st.Provider)
	if err != nil {
		c.breaker.OnError()
		c.notify()
		return errors.Wrapf(err, "refresh %s accounts", st.Provider)
	}
	c.breaker.OnSuccess()

	if acct, ok := pickAccount(accounts, st.AccountID); ok {
		bp, pv := acct.BuyingPower, acct.PortfolioValue
		now := time.Now()
		c.session.Apply(func(s *session.State) {
			s.BuyingPower = &bp
			s.PortfolioValue = &pv
			if s.SimulatedCash {
				s.SimulatedCashAmount = bp
			}
			s.LastSyncAt = &now
		})
	}
	c.notify()
	return nil
}

// teardownLost clears a session the backend dropped on its own, with the
// same clear-and-demote coupling as Disconnect.
func (c *Core) teardownLost(provider string) {
	c.mu.Lock()
	c.session.Clear()
	mode := c.modes.Mode()
	if mode == trademode.Live {
		mode = c.modes.ForcePaper()
	}
	c.notifyLocked()
	c.mu.Unlock()

	c.journalAppend(journal.Event{
		Kind:   journal.KindDisconnect,
		Broker: provider,
		Mode:   string(mode),
		Detail: "backend dropped the session",
	})
}

// Restore rebuilds local state at startup. The mode was already restored
// by the store; when the backend still holds a connected broker, the
// session is repopulated from it.
func (c *Core) Restore(ctx context.Context) error {
	mode := c.modes.Mode()
	c.log.WithField("mode", mode).Info("Trading mode restored")

	status, err := c.backend.Brokers(ctx)
	if err != nil {
		c.breaker.OnError()
		return errors.Wrap(err, "restore status")
	}
	c.breaker.OnSuccess()

	provider := status.Connected.DefaultBroker
	if provider == "" && len(status.Connected.ConnectedBrokers) > 0 {
		provider = status.Connected.ConnectedBrokers[0]
	}
	if provider == "" {
		c.notify()
		return nil
	}

	now := time.Now()
	st := session.State{
		Provider:    provider,
		Connected:   true,
		AccountKind: session.AccountPaper,
		LastSyncAt:  &now,
	}
	if info, ok := status.Sessions[provider]; ok {
		st.AccountID = info.AccountID
		if kind, kerr := session.ParseAccountKind(info.AccountType); kerr == nil {
			st.AccountKind = kind
		}
		st.SimulatedCash = info.Simulated
		st.BuyingPower = info.BuyingPower
		st.PortfolioValue = info.PortfolioValue
		if st.SimulatedCash && info.BuyingPower != nil {
			st.SimulatedCashAmount = *info.BuyingPower
		}
	} else {
		st.SimulatedCash = true
	}

	c.mu.Lock()
	c.session.Set(st)
	c.notifyLocked()
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"broker": provider, "account": st.AccountID}).
		Info("Restored backend session")
	c.journalAppend(journal.Event{
		Kind:   journal.KindRestore,
		Broker: provider,
		Mode:   string(mode),
		Detail: "account " + st.AccountID,
	})
	return nil
}

// ApplyAccountUpdate folds a pushed balance update into the session.
// Pushes for another broker or account are dropped; nil fields leave the
// current values alone.
func (c *Core) ApplyAccountUpdate(broker, accountID string, buyingPower, portfolioValue *decimal.Decimal) {
	st := c.session.Get()
	if !st.Connected || st.Provider != strings.ToLower(broker) {
		return
	}
	if accountID != "" && st.AccountID != "" && accountID != st.AccountID {
		return
	}
	now := time.Now()
	c.session.Apply(func(s *session.State) {
		if buyingPower != nil {
			v := *buyingPower
			s.BuyingPower = &v
			if s.SimulatedCash {
				s.SimulatedCashAmount = v
			}
		}
		if portfolioValue != nil {
			v := *portfolioValue
			s.PortfolioValue = &v
		}
		s.LastSyncAt = &now
	})
	c.notify()
}

// Journal exposes the activity log for the UI; nil when not configured.
func (c *Core) Journal() *journal.Journal {
	return c.journal
}

func (c *Core) journalAppend(e journal.Event) {
	if c.journal != nil {
		c.journal.Append(e)
	}
}

func containsBroker(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// pickAccount prefers the session's account and falls back to the first.
func pickAccount(accounts []backend.Account, accountID string) (backend.Account, bool) {
	if len(accounts) == 0 {
		return backend.Account{}, false
	}
	for _, a := range accounts {
		if accountID != "" && a.AccountID == accountID {
			return a, true
		}
	}
	return accounts[0], true
}
