// Package backendproc spawns and supervises the local backend sidecar.
package backendproc

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/syncgroup"
)

const (
	defaultHealthInterval = 500 * time.Millisecond
	defaultStopGrace      = 5 * time.Second
)

type Options struct {
	// Command is the argv to spawn; empty means nothing to supervise.
	Command []string
	Dir     string
	// Env entries are appended to the inherited environment.
	Env []string

	// HealthCheck is polled by WaitHealthy until it returns nil.
	HealthCheck    func(ctx context.Context) error
	HealthInterval time.Duration
	StopGrace      time.Duration
}

// Process is one spawned backend. Start it once; Stop is idempotent.
type Process struct {
	opts  Options
	log   *logrus.Entry
	group *syncgroup.SyncGroup

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool

	done    chan struct{} // closed when the child exits
	waitErr error
}

func New(opts Options) *Process {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	return &Process{
		opts:  opts,
		log:   logger.WithField("component", "backendproc"),
		group: syncgroup.New(),
		done:  make(chan struct{}),
	}
}

// Start spawns the command and begins piping its output into the log.
// The child is not waited for inline; exit is observed in the background.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("backend process already started")
	}
	if len(p.opts.Command) == 0 {
		return errors.New("no backend command configured")
	}

	cmd := exec.Command(p.opts.Command[0], p.opts.Command[1:]...)
	cmd.Dir = p.opts.Dir
	cmd.Env = append(os.Environ(), p.opts.Env...)
	// Own process group, so Stop reaches spawned workers too.
	setpgid(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", p.opts.Command[0])
	}
	p.cmd = cmd
	p.started = true
	p.log.WithField("pid", cmd.Process.Pid).Infof("spawned %s", p.opts.Command[0])

	p.group.Go(func() { p.pipe(stdout) })
	p.group.Go(func() { p.pipe(stderr) })

	go func() {
		// Wait must run after the pipe readers are done with the fds.
		p.group.Wait()
		err := cmd.Wait()

		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)

		code := 0
		if err != nil {
			code = 1
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				code = ee.ExitCode()
			}
		}
		p.log.WithField("code", code).Info("backend exited")
	}()
	return nil
}

// pipe forwards one output stream line by line into the log.
func (p *Process) pipe(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.log.Info(scanner.Text())
	}
}

// WaitHealthy polls the health check until it passes, the child exits, or
// the context ends.
func (p *Process) WaitHealthy(ctx context.Context) error {
	if p.opts.HealthCheck == nil {
		return nil
	}

	ticker := time.NewTicker(p.opts.HealthInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if err := p.opts.HealthCheck(ctx); err == nil {
			p.log.Info("backend is healthy")
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "backend never became healthy (last: %v)", lastErr)
		case <-p.done:
			p.mu.Lock()
			werr := p.waitErr
			p.mu.Unlock()
			return errors.Errorf("backend exited before becoming healthy: %v", werr)
		case <-ticker.C:
		}
	}
}

// Running reports whether the child was started and has not exited.
func (p *Process) Running() bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop terminates the child: SIGTERM, then SIGKILL after the grace
// period. It returns once the child is gone. Safe to call repeatedly.
func (p *Process) Stop() {
	p.mu.Lock()
	cmd := p.cmd
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}

	if err := signalTerm(cmd); err != nil {
		p.log.WithError(err).Warn("SIGTERM failed, killing")
		killGroup(cmd)
	}

	select {
	case <-p.done:
		return
	case <-time.After(p.opts.StopGrace):
		p.log.Warnf("backend ignored SIGTERM for %s, killing", p.opts.StopGrace)
		killGroup(cmd)
	}
	<-p.done
}
