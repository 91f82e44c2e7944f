// Package auth orchestrates broker connects: resolve the flow, validate
// the form, call the backend, and populate the session on success only.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/internal/brokers"
	"github.com/deskbot/godesk/internal/journal"
	"github.com/deskbot/godesk/internal/oauth"
	"github.com/deskbot/godesk/internal/session"
	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/sdk/backend"
)

// HandshakeRunner is the delegated-login collaborator. *oauth.Handshake
// implements it.
type HandshakeRunner interface {
	Run(ctx context.Context, brokerID string, paper bool) (*backend.ConnectResult, error)
}

// FieldError reports a present but malformed form field. Like a missing
// field, it fails before any network call.
type FieldError struct {
	Broker string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("broker %s: field %s %s", e.Broker, e.Field, e.Reason)
}

type Options struct {
	Registry  *brokers.Registry
	Backend   backend.API
	Handshake HandshakeRunner
	Session   *session.Session
	Journal   *journal.Journal // optional
}

type Executor struct {
	registry  *brokers.Registry
	backend   backend.API
	handshake HandshakeRunner
	session   *session.Session
	journal   *journal.Journal
	log       *logrus.Entry
}

func NewExecutor(opts Options) *Executor {
	return &Executor{
		registry:  opts.Registry,
		backend:   opts.Backend,
		handshake: opts.Handshake,
		session:   opts.Session,
		journal:   opts.Journal,
		log:       logger.WithField("component", "auth"),
	}
}

// Connect runs one auth attempt. On success the session holds the new
// state; on any failure it is exactly as it was. Secret form fields are
// wiped when the attempt ends, whatever the outcome.
func (e *Executor) Connect(ctx context.Context, brokerID string, form map[string]string) (session.State, error) {
	d, err := e.registry.Resolve(brokerID)
	if err != nil {
		return session.State{}, err
	}
	defer wipeSecrets(d, form)

	if err := d.Validate(form); err != nil {
		return session.State{}, err
	}

	attemptID := uuid.NewString()
	paper := parsePaper(form)
	log := e.log.WithFields(logrus.Fields{"broker": d.ID, "attempt": attemptID, "paper": paper})
	log.Infof("connecting via %s flow", d.Kind)

	var res *backend.ConnectResult
	switch d.Kind {
	case brokers.KindTWS:
		clientID, cerr := strconv.Atoi(strings.TrimSpace(form["client_id"]))
		if cerr != nil {
			return session.State{}, &FieldError{Broker: d.ID, Field: "client_id", Reason: "must be a number"}
		}
		res, err = e.backend.ConnectTWS(ctx, backend.TWSConnectRequest{
			BrokerType: d.ID,
			Host:       form["host"],
			Port:       form["port"],
			ClientID:   clientID,
			AccountID:  form["account_id"],
			Paper:      paper,
		})

	case brokers.KindCredentials:
		res, err = e.backend.Login(ctx, backend.LoginRequest{
			BrokerType:    d.ID,
			Username:      form["username"],
			Password:      form["password"],
			TwoFactorCode: firstNonEmpty(form["mfa_code"], form["trade_pin"]),
			Paper:         paper,
		})

	case brokers.KindApiKey:
		res, err = e.backend.KeyAuth(ctx, backend.KeyAuthRequest{
			BrokerType:  d.ID,
			APIKey:      form["api_key"],
			SecretKey:   form["secret_key"],
			AccessToken: form["access_token"],
			Paper:       paper,
		})

	case brokers.KindOAuth:
		if e.handshake == nil {
			return session.State{}, errors.Errorf("broker %s: delegated login is not configured", d.ID)
		}
		res, err = e.handshake.Run(ctx, d.ID, paper)

	default:
		return session.State{}, errors.Errorf("broker %s has unsupported auth kind %q", d.ID, d.Kind)
	}
	if err != nil {
		log.Warnf("connect failed: %v", err)
		e.journalAttempt(d.ID, attemptID, err)
		return session.State{}, err
	}

	st := stateFromResult(d, res, paper)
	e.session.Set(st)
	log.Infof("connected account %s (%s)", st.AccountID, st.AccountKind)
	e.journalAttempt(d.ID, attemptID, nil)
	return st, nil
}

// journalAttempt records the outcome of an attempt that reached the
// backend. Validation failures never get here.
func (e *Executor) journalAttempt(brokerID, attemptID string, err error) {
	if e.journal == nil {
		return
	}
	ev := journal.Event{Kind: journal.KindConnect, Broker: brokerID, AttemptID: attemptID}
	switch {
	case errors.Is(err, oauth.ErrTimeout):
		ev.Kind = journal.KindOAuthTimeout
		ev.Detail = err.Error()
	case err != nil:
		ev.Kind = journal.KindConnectFailed
		ev.Detail = err.Error()
	}
	e.journal.Append(ev)
}

// stateFromResult builds the session state the response supports. Missing
// response fields fall back to what the paper flag implies; a paper session
// with no reported balance gets the broker's paper-cash constant.
func stateFromResult(d brokers.Descriptor, res *backend.ConnectResult, paper bool) session.State {
	now := time.Now()
	st := session.State{
		Provider:   d.ID,
		Connected:  true,
		AccountID:  res.AccountID,
		LastSyncAt: &now,
	}

	if kind, err := session.ParseAccountKind(res.AccountType); err == nil {
		st.AccountKind = kind
	} else if paper {
		st.AccountKind = session.AccountPaper
	} else {
		st.AccountKind = session.AccountLive
	}

	if res.Simulated != nil {
		st.SimulatedCash = *res.Simulated
	} else {
		st.SimulatedCash = st.AccountKind == session.AccountPaper
	}

	st.BuyingPower = res.BuyingPower
	st.PortfolioValue = res.PortfolioValue

	if st.SimulatedCash {
		if res.BuyingPower != nil {
			st.SimulatedCashAmount = *res.BuyingPower
		} else {
			st.SimulatedCashAmount = d.PaperCash
		}
	}
	return st
}

func wipeSecrets(d brokers.Descriptor, form map[string]string) {
	for _, f := range d.SecretFields {
		delete(form, f)
	}
}

func parsePaper(form map[string]string) bool {
	v, err := strconv.ParseBool(form["paper"])
	if err != nil {
		return true
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
