package dashboard

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/internal/auth"
	"github.com/deskbot/godesk/internal/desk"
	"github.com/deskbot/godesk/internal/guard"
	"github.com/deskbot/godesk/internal/journal"
	"github.com/deskbot/godesk/internal/oauth"
	"github.com/deskbot/godesk/internal/session"
	"github.com/deskbot/godesk/internal/trademode"
)

var modelLog = logrus.WithField("module", "dashboard.model")

const activityDepth = 8

// changedMsg says the core published a new state; reload and re-arm.
type changedMsg struct{}

// stateMsg carries a freshly loaded snapshot plus recent journal events.
type stateMsg struct {
	snap   desk.Snapshot
	events []journal.Event
}

// opDoneMsg reports the outcome of an operation started from a key press.
type opDoneMsg struct {
	op     string
	broker string
	err    error
}

type tickMsg time.Time

type syncTickMsg time.Time

type model struct {
	core  *desk.Core
	forms func(brokerID string) map[string]string

	brokers []string
	names   map[string]string
	cursor  int

	snap   desk.Snapshot
	events []journal.Event

	confirmLive bool
	status      string
	statusErr   bool

	width  int
	height int
}

func newModel(core *desk.Core, forms func(string) map[string]string) model {
	ids := core.Brokers()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if d, err := core.Describe(id); err == nil {
			names[id] = d.Name
		} else {
			names[id] = id
		}
	}
	return model{
		core:    core,
		forms:   forms,
		brokers: ids,
		names:   names,
		snap:    core.Snapshot(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.reload(),
		m.waitForChange(),
		m.tick(),
		m.syncTick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case changedMsg:
		return m, tea.Batch(m.reload(), m.waitForChange())
	case stateMsg:
		m.snap = msg.snap
		m.events = msg.events
		return m, nil
	case opDoneMsg:
		return m.handleOpDone(msg)
	case tickMsg:
		return m, m.tick()
	case syncTickMsg:
		return m, tea.Batch(m.refreshCmd(), m.syncTick())
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "ctrl+c", "q":
		// Bubble Tea intercepts Ctrl+C, so the outer process would never
		// see a SIGINT. Send one to ourselves so the whole program exits
		// through the normal shutdown chain.
		_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
		return m, tea.Quit
	}

	if m.confirmLive {
		switch key {
		case "y", "Y":
			m.confirmLive = false
			m.status = "switching to live trading..."
			m.statusErr = false
			return m, m.confirmLiveCmd()
		case "n", "N", "esc":
			m.confirmLive = false
			m.status = "live switch cancelled"
			m.statusErr = false
			return m, nil
		}
		return m, nil
	}

	switch key {
	case "tab", "right":
		if len(m.brokers) > 0 {
			m.cursor = (m.cursor + 1) % len(m.brokers)
		}
		return m, nil
	case "shift+tab", "left":
		if len(m.brokers) > 0 {
			m.cursor = (m.cursor + len(m.brokers) - 1) % len(m.brokers)
		}
		return m, nil
	case "c", "enter":
		if len(m.brokers) == 0 {
			return m, nil
		}
		id := m.brokers[m.cursor]
		if containsString(m.snap.Connecting, id) {
			m.status = fmt.Sprintf("a connect for %s is already running", id)
			m.statusErr = false
			return m, nil
		}
		m.status = fmt.Sprintf("connecting to %s...", id)
		m.statusErr = false
		return m, m.connectCmd(id)
	case "x":
		if !m.snap.Session.Connected {
			m.status = "not connected"
			m.statusErr = false
			return m, nil
		}
		m.status = "disconnecting..."
		m.statusErr = false
		return m, m.disconnectCmd()
	case "d":
		return m, m.setModeCmd(trademode.Demo)
	case "p":
		return m, m.setModeCmd(trademode.Paper)
	case "l":
		return m, m.setModeCmd(trademode.Live)
	case "r":
		m.status = "refreshing..."
		m.statusErr = false
		return m, m.refreshCmd()
	}
	return m, nil
}

func (m model) handleOpDone(msg opDoneMsg) (tea.Model, tea.Cmd) {
	switch msg.op {
	case "connect":
		if msg.err == nil {
			m.status = fmt.Sprintf("connected to %s", msg.broker)
			m.statusErr = false
		} else {
			m.status = describeConnectErr(msg.broker, msg.err)
			m.statusErr = true
			modelLog.WithError(msg.err).
				WithField("broker", msg.broker).
				WithField("kind", auth.KindOf(msg.err)).
				Warn("Connect failed")
		}
	case "disconnect":
		if msg.err == nil {
			m.status = "disconnected"
			m.statusErr = false
		} else {
			m.status = fmt.Sprintf("disconnect failed: %v", msg.err)
			m.statusErr = true
		}
	case "mode":
		if msg.err == nil {
			m.status = fmt.Sprintf("trading mode: %s", m.core.Snapshot().Mode)
			m.statusErr = false
			break
		}
		if errors.Is(msg.err, guard.ErrConfirmationRequired) {
			m.confirmLive = true
			m.status = ""
			m.statusErr = false
			break
		}
		var rejected *guard.RejectedError
		if errors.As(msg.err, &rejected) {
			m.status = rejected.Error()
		} else {
			m.status = fmt.Sprintf("mode change failed: %v", msg.err)
		}
		m.statusErr = true
	case "refresh":
		if msg.err != nil {
			m.status = fmt.Sprintf("refresh failed: %v", msg.err)
			m.statusErr = true
		}
	}
	return m, nil
}

// reload pulls the current snapshot and recent activity off the UI loop.
func (m model) reload() tea.Cmd {
	core := m.core
	return func() tea.Msg {
		msg := stateMsg{snap: core.Snapshot()}
		if j := core.Journal(); j != nil {
			if evs, err := j.Recent(activityDepth); err == nil {
				msg.events = evs
			}
		}
		return msg
	}
}

// waitForChange blocks until the core signals, then coalesces any burst of
// pending signals into a single reload.
func (m model) waitForChange() tea.Cmd {
	ch := m.core.Changes()
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return tea.Quit()
		}
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return tea.Quit()
				}
			default:
				return changedMsg{}
			}
		}
	}
}

func (m model) connectCmd(brokerID string) tea.Cmd {
	core := m.core
	var form map[string]string
	if m.forms != nil {
		form = m.forms(brokerID)
	}
	return func() tea.Msg {
		// No deadline here: delegated logins wait on a browser and are
		// bounded by the handshake's own timer.
		_, err := core.Connect(context.Background(), brokerID, form)
		return opDoneMsg{op: "connect", broker: brokerID, err: err}
	}
}

func (m model) disconnectCmd() tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return opDoneMsg{op: "disconnect", err: core.Disconnect(ctx)}
	}
}

func (m model) setModeCmd(requested trademode.Mode) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		return opDoneMsg{op: "mode", err: core.SetMode(requested)}
	}
}

func (m model) confirmLiveCmd() tea.Cmd {
	core := m.core
	return func() tea.Msg {
		return opDoneMsg{op: "mode", err: core.ConfirmLive()}
	}
}

func (m model) refreshCmd() tea.Cmd {
	core := m.core
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return opDoneMsg{op: "refresh", err: core.Refresh(ctx)}
	}
}

func (m model) View() string {
	availableWidth := m.width - 4
	if availableWidth < 60 {
		availableWidth = 60
	}
	leftWidth := availableWidth/2 - 1
	rightWidth := availableWidth/2 - 1

	left := m.renderLeft(leftWidth)
	right := m.renderRight(rightWidth)

	content := lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
	header := m.renderHeader()
	footer := m.renderFooter(availableWidth)
	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer)
}

func (m model) renderHeader() string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		Padding(0, 1)
	alertStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196")).
		Padding(0, 1)

	title := fmt.Sprintf("Trading Desk | Mode: %s | Time: %s",
		strings.ToUpper(m.snap.Mode.String()),
		time.Now().Format("15:04:05"))
	out := headerStyle.Render(title)
	if !m.snap.BackendHealthy {
		out = lipgloss.JoinVertical(lipgloss.Left, out,
			alertStyle.Render("⚠️ BACKEND UNREACHABLE - retrying in the background"))
	}
	return out
}

func (m model) renderLeft(width int) string {
	var lines []string
	lines = append(lines, m.renderBrokers(width))
	lines = append(lines, "")
	lines = append(lines, m.renderSession(width))
	content := strings.Join(lines, "\n")
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("39")).
		Padding(0, 1).
		Render(content)
}

func (m model) renderRight(width int) string {
	var lines []string
	lines = append(lines, m.renderMode(width))
	lines = append(lines, "")
	lines = append(lines, m.renderActivity(width))
	content := strings.Join(lines, "\n")
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("39")).
		Padding(0, 1).
		Render(content)
}

func (m model) renderBrokers(width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle := lipgloss.NewStyle().Bold(true)
	connectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	connectingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))

	var lines []string
	lines = append(lines, titleStyle.Render("Brokers"))
	lines = append(lines, strings.Repeat("─", width-4))
	for i, id := range m.brokers {
		marker := "  "
		if i == m.cursor {
			marker = "▸ "
		}
		line := marker + m.names[id]
		switch {
		case m.snap.Session.Connected && m.snap.Session.Provider == id:
			line += " " + connectedStyle.Render("● connected")
		case containsString(m.snap.Connecting, id):
			line += " " + connectingStyle.Render("◌ connecting...")
		}
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m model) renderSession(width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	simStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	liveStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	st := m.snap.Session
	var lines []string
	lines = append(lines, titleStyle.Render("Session"))
	lines = append(lines, strings.Repeat("─", width-4))
	if !st.Connected {
		lines = append(lines, dimStyle.Render("not connected"))
		lines = append(lines, dimStyle.Render("pick a broker and press c"))
		return strings.Join(lines, "\n")
	}

	lines = append(lines, fmt.Sprintf("Broker:  %s", m.names[st.Provider]))
	lines = append(lines, fmt.Sprintf("Account: %s", truncate(st.AccountID, 20)))
	if st.AccountKind == session.AccountLive {
		lines = append(lines, "Kind:    "+liveStyle.Render("real money"))
	} else {
		lines = append(lines, "Kind:    "+simStyle.Render("paper"))
	}
	if st.SimulatedCash {
		lines = append(lines, fmt.Sprintf("Cash:    $%s %s",
			st.SimulatedCashAmount.StringFixed(2), simStyle.Render("(simulated)")))
	}
	if st.BuyingPower != nil {
		lines = append(lines, fmt.Sprintf("Buying power:    $%s", st.BuyingPower.StringFixed(2)))
	}
	if st.PortfolioValue != nil {
		lines = append(lines, fmt.Sprintf("Portfolio value: $%s", st.PortfolioValue.StringFixed(2)))
	}
	if st.LastSyncAt != nil {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("synced %s ago", formatDuration(time.Since(*st.LastSyncAt)))))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderMode(width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	demoStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	paperStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	liveStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	promptStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	var lines []string
	lines = append(lines, titleStyle.Render("Trading Mode"))
	lines = append(lines, strings.Repeat("─", width-4))

	var badge string
	switch m.snap.Mode {
	case trademode.Live:
		badge = liveStyle.Render("● LIVE - real orders")
	case trademode.Paper:
		badge = paperStyle.Render("● PAPER - broker simulation")
	default:
		badge = demoStyle.Render("● DEMO - local simulation")
	}
	lines = append(lines, badge)

	if m.snap.LiveAllowed {
		lines = append(lines, okStyle.Render("live unlocked (l to switch)"))
	} else {
		lines = append(lines, dimStyle.Render("live locked: needs a connected real-money account"))
	}

	switch m.snap.Handshake {
	case oauth.StateRequesting:
		lines = append(lines, paperStyle.Render(fmt.Sprintf("starting browser login (%s)...", m.snap.HandshakeBroker)))
	case oauth.StateAwaitingCallback:
		lines = append(lines, paperStyle.Render(fmt.Sprintf("waiting for browser approval (%s)", m.snap.HandshakeBroker)))
	}

	if m.confirmLive {
		lines = append(lines, "")
		lines = append(lines, promptStyle.Render("Switch to LIVE trading?"))
		lines = append(lines, promptStyle.Render("Real orders will be placed. [y/n]"))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderActivity(width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	var lines []string
	lines = append(lines, titleStyle.Render("Activity"))
	lines = append(lines, strings.Repeat("─", width-4))
	if len(m.events) == 0 {
		lines = append(lines, dimStyle.Render("nothing yet"))
		return strings.Join(lines, "\n")
	}
	for _, ev := range m.events {
		lines = append(lines, renderEvent(ev, width))
	}
	return strings.Join(lines, "\n")
}

func renderEvent(ev journal.Event, width int) string {
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))

	label := ev.Kind
	switch ev.Kind {
	case journal.KindConnect, journal.KindRestore:
		label = okStyle.Render(label)
	case journal.KindConnectFailed, journal.KindOAuthTimeout:
		label = badStyle.Render(label)
	case journal.KindDisconnect, journal.KindModeChange:
		label = warnStyle.Render(label)
	}
	line := fmt.Sprintf("%s %s", ev.At.Local().Format("15:04:05"), label)
	if ev.Broker != "" {
		line += " " + ev.Broker
	}
	if ev.Detail != "" {
		if room := width - lipgloss.Width(line) - 4; room > 8 {
			line += " " + truncate(ev.Detail, room)
		}
	}
	return line
}

func (m model) renderFooter(width int) string {
	statusOkStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Padding(0, 1)
	statusErrStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Padding(0, 1)
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)

	var lines []string
	if m.status != "" {
		style := statusOkStyle
		if m.statusErr {
			style = statusErrStyle
		}
		lines = append(lines, style.Render(truncate(m.status, width)))
	}
	lines = append(lines, helpStyle.Render("tab broker · c connect · x disconnect · d/p/l mode · r refresh · q quit"))
	return strings.Join(lines, "\n")
}

func (m model) tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// syncTick drives the periodic balance refresh. The core debounces, so the
// cadence here only sets an upper bound on staleness.
func (m model) syncTick() tea.Cmd {
	return tea.Tick(15*time.Second, func(t time.Time) tea.Msg {
		return syncTickMsg(t)
	})
}

// describeConnectErr turns a classified connect failure into one status line.
func describeConnectErr(broker string, err error) string {
	switch auth.KindOf(err) {
	case auth.KindValidation, auth.KindUnknownBroker, auth.KindGuardRejected:
		return err.Error()
	case auth.KindTimeout:
		return fmt.Sprintf("%s: login timed out, try again", broker)
	case auth.KindCanceled:
		return fmt.Sprintf("%s: login cancelled", broker)
	case auth.KindNetwork:
		return fmt.Sprintf("%s: backend error: %v", broker, err)
	default:
		return fmt.Sprintf("%s: %v", broker, err)
	}
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
