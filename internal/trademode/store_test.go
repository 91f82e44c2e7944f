package trademode

import (
	"fmt"
	"testing"
	"testing/quick"

	"github.com/deskbot/godesk/pkg/persistence"
)

type allowAll struct{}

func (allowAll) Check(Mode, bool) error { return nil }

type denyAll struct{}

func (denyAll) Check(Mode, bool) error { return fmt.Errorf("denied") }

func newFileStore(t *testing.T, dir string) persistence.Store {
	t.Helper()
	return persistence.NewJSONFileService(dir).NewStore("desk", "client", "trademode")
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"demo", "paper", "live"} {
		m, err := ParseMode(s)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
		}
		if m.String() != s {
			t.Errorf("ParseMode(%q) = %q", s, m)
		}
	}
	if _, err := ParseMode("Live"); err == nil {
		t.Error("ParseMode should be case sensitive")
	}

	onlyKnown := func(s string) bool {
		m, err := ParseMode(s)
		if err != nil {
			return true
		}
		return m == Demo || m == Paper || m == Live
	}
	if err := quick.Check(onlyKnown, nil); err != nil {
		t.Error(err)
	}
}

func TestFreshStoreStartsDemo(t *testing.T) {
	s, err := NewStore(newFileStore(t, t.TempDir()), allowAll{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Mode() != Demo {
		t.Errorf("mode = %s, want demo", s.Mode())
	}
}

func TestSetModePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(newFileStore(t, dir), allowAll{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s.SetMode(Paper, false); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	s2, err := NewStore(newFileStore(t, dir), allowAll{})
	if err != nil {
		t.Fatalf("NewStore (reload): %v", err)
	}
	if s2.Mode() != Paper {
		t.Errorf("reloaded mode = %s, want paper", s2.Mode())
	}
}

func TestLiveRestoresAsPaper(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(newFileStore(t, dir), allowAll{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s.SetMode(Live, true); err != nil {
		t.Fatalf("SetMode(live): %v", err)
	}

	s2, err := NewStore(newFileStore(t, dir), allowAll{})
	if err != nil {
		t.Fatalf("NewStore (reload): %v", err)
	}
	if s2.Mode() != Paper {
		t.Errorf("restored mode = %s, want paper", s2.Mode())
	}

	// The downgrade itself is saved, not just applied in memory.
	var st persistedState
	if err := newFileStore(t, dir).Load(&st); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Mode != "paper" {
		t.Errorf("saved mode = %q, want paper", st.Mode)
	}
}

func TestCorruptStateStartsDemo(t *testing.T) {
	dir := t.TempDir()
	fs := newFileStore(t, dir)
	if err := fs.Save(&persistedState{Mode: "yolo"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s, err := NewStore(fs, allowAll{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Mode() != Demo {
		t.Errorf("mode = %s, want demo", s.Mode())
	}
}

func TestGateRejectionLeavesModeUntouched(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(newFileStore(t, dir), denyAll{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, err := s.SetMode(Paper, false)
	if err == nil {
		t.Fatal("expected gate rejection")
	}
	if got != Demo || s.Mode() != Demo {
		t.Errorf("mode = %s, want demo", s.Mode())
	}

	// Nothing was written either.
	var st persistedState
	if lerr := newFileStore(t, dir).Load(&st); lerr == nil {
		t.Errorf("rejected change was persisted: %+v", st)
	}
}

func TestForcePaper(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(newFileStore(t, dir), allowAll{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Not live: no-op.
	if got := s.ForcePaper(); got != Demo {
		t.Errorf("ForcePaper from demo = %s", got)
	}

	if _, err := s.SetMode(Live, true); err != nil {
		t.Fatalf("SetMode(live): %v", err)
	}
	if got := s.ForcePaper(); got != Paper {
		t.Errorf("ForcePaper from live = %s", got)
	}

	var st persistedState
	if err := newFileStore(t, dir).Load(&st); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Mode != "paper" {
		t.Errorf("saved mode = %q, want paper", st.Mode)
	}
}
