package trademode

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/persistence"
)

// Gate decides whether a requested mode change is allowed. The safety
// guard implements it; the store never judges legality itself.
type Gate interface {
	Check(requested Mode, confirmed bool) error
}

type persistedState struct {
	Mode string `json:"mode"`
}

// Store is the only writer of the trading mode. Every accepted change is
// saved before it becomes visible.
type Store struct {
	mu    sync.Mutex
	mode  Mode
	store persistence.Store
	gate  Gate
	log   *logrus.Entry
}

// NewStore loads the persisted mode. A persisted "live" comes back as
// Paper; anything unreadable starts as Demo.
func NewStore(store persistence.Store, gate Gate) (*Store, error) {
	if store == nil {
		return nil, errors.New("trademode: nil persistence store")
	}

	s := &Store{
		mode:  Demo,
		store: store,
		gate:  gate,
		log:   logger.WithField("component", "trademode"),
	}

	var st persistedState
	err := store.Load(&st)
	switch {
	case errors.Is(err, persistence.ErrNotExists):
		s.log.Debug("no saved mode, starting in demo")
	case err != nil:
		s.log.Warnf("unreadable mode state, starting in demo: %v", err)
	default:
		m, perr := ParseMode(st.Mode)
		switch {
		case perr != nil:
			s.log.Warnf("corrupt mode state %q, starting in demo", st.Mode)
		case m == Live:
			// Live never survives a restart.
			s.mode = Paper
			s.log.Info("restored live mode as paper")
			if serr := s.persist(Paper); serr != nil {
				s.log.Warnf("could not save paper downgrade: %v", serr)
			}
		default:
			s.mode = m
		}
	}

	return s, nil
}

func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode asks the gate, then persists, then mutates. On any error the
// in-memory mode is untouched; the returned Mode is always the effective one.
func (s *Store) SetMode(requested Mode, confirmed bool) (Mode, error) {
	if !requested.Valid() {
		return s.Mode(), errors.Errorf("unknown trading mode %q", requested)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gate != nil {
		if err := s.gate.Check(requested, confirmed); err != nil {
			return s.mode, err
		}
	}
	if requested == s.mode {
		return s.mode, nil
	}
	if err := s.persist(requested); err != nil {
		return s.mode, errors.Wrap(err, "save trading mode")
	}

	s.log.Infof("trading mode %s -> %s", s.mode, requested)
	s.mode = requested
	return s.mode, nil
}

// ForcePaper demotes Live to Paper without consulting the gate. It runs
// when the live broker goes away, so the demotion takes effect in memory
// even if the save fails; a stale "live" on disk restores as Paper anyway.
func (s *Store) ForcePaper() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != Live {
		return s.mode
	}
	s.log.Warn("live broker gone, demoting to paper")
	s.mode = Paper
	if err := s.persist(Paper); err != nil {
		s.log.Warnf("could not save paper demotion: %v", err)
	}
	return s.mode
}

func (s *Store) persist(m Mode) error {
	return s.store.Save(&persistedState{Mode: m.String()})
}
