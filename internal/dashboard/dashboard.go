// Package dashboard is the interactive terminal front end. It renders the
// desk state and turns key presses into core operations; all domain state
// stays in the core, the model here holds only view concerns.
package dashboard

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/deskbot/godesk/internal/desk"
)

var log = logrus.WithField("module", "dashboard")

type Options struct {
	Core *desk.Core
	// Forms resolves the prefilled connect form for a broker. Optional;
	// nil connects with an empty form.
	Forms func(brokerID string) map[string]string
}

// UI owns the Bubble Tea program lifecycle.
type UI struct {
	opts    Options
	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

func New(opts Options) *UI {
	return &UI{opts: opts, done: make(chan struct{})}
}

// Run blocks until the user quits or ctx is cancelled. When stdout is not a
// terminal the UI is skipped and Run just waits on ctx, so headless runs
// keep the rest of the process alive.
func (u *UI) Run(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		log.Warn("Stdout is not a terminal, dashboard disabled")
		<-ctx.Done()
		close(u.done)
		return nil
	}

	m := newModel(u.opts.Core, u.opts.Forms)
	program := tea.NewProgram(m, tea.WithAltScreen())

	u.mu.Lock()
	u.program = program
	u.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			program.Quit()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		close(u.done)
		if r := recover(); r != nil {
			log.Errorf("Dashboard UI panic: %v", r)
		}
	}()

	_, err := program.Run()
	return err
}

// Stop asks a running UI to quit and waits briefly for the terminal to be
// restored.
func (u *UI) Stop() {
	u.mu.Lock()
	program := u.program
	u.mu.Unlock()
	if program == nil {
		return
	}
	program.Quit()
	select {
	case <-u.done:
	case <-time.After(1 * time.Second):
	}
}

func formatDuration(dur time.Duration) string {
	if dur < time.Second {
		return fmt.Sprintf("%dms", dur.Milliseconds())
	}
	if dur < time.Minute {
		return fmt.Sprintf("%.1fs", dur.Seconds())
	}
	minutes := int(dur.Minutes())
	seconds := int(dur.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
