package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/config"
	"github.com/sidekick-edu/sidekick-bridge/internal/metrics"
)

// Status is the state of the supervised broker.
type Status string

// Supervisor statuses.
const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultBinary              = "mosquitto"
	defaultRestartDelay        = 2 * time.Second
	defaultMaxRestartDelay     = time.Minute
	defaultGracefulTimeout     = 5 * time.Second
	defaultHealthCheckInterval = 15 * time.Second
	defaultReadyPoll           = 100 * time.Millisecond

	healthCheckTimeout     = 2 * time.Second
	maxConsecutiveFailures = 3
)

// ErrAlreadyRunning is returned by Start while the broker runs.
var ErrAlreadyRunning = errors.New("broker: already running")

var errStopped = errors.New("broker: stop requested")

// Logger is the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Supervisor. Zero durations take defaults.
type Options struct {
	// Binary is the broker executable. Defaults to "mosquitto".
	Binary string
	Args   []string

	// ListenAddress is the host:port the broker listens on. When set it is
	// used for health checks and WaitReady.
	ListenAddress string

	RestartOnFailure    bool
	RestartDelay        time.Duration
	MaxRestartDelay     time.Duration
	MaxRestartAttempts  int // 0 means unlimited
	GracefulTimeout     time.Duration
	HealthCheckInterval time.Duration
}

// OptionsFromConfig builds supervisor options from the broker config
// section. A config file is passed to the broker with -c.
func OptionsFromConfig(cfg config.BrokerConfig) Options {
	var args []string
	if cfg.ConfigFile != "" {
		args = append(args, "-c", cfg.ConfigFile)
	}
	args = append(args, cfg.Args...)

	return Options{
		Binary:              cfg.Binary,
		Args:                args,
		ListenAddress:       cfg.ListenAddress,
		RestartOnFailure:    cfg.RestartOnFailure,
		RestartDelay:        time.Duration(cfg.RestartDelay) * time.Second,
		MaxRestartDelay:     time.Duration(cfg.MaxRestartDelay) * time.Second,
		MaxRestartAttempts:  cfg.MaxRestartAttempts,
		GracefulTimeout:     time.Duration(cfg.GracefulTimeout) * time.Second,
		HealthCheckInterval: time.Duration(cfg.HealthCheckInterval) * time.Second,
	}
}

// Supervisor runs and restarts the broker process.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	opts   Options
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	lastError     error
	startedAt     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
}

// New creates a stopped supervisor. logger may be nil.
func New(opts Options, logger Logger) *Supervisor {
	if opts.Binary == "" {
		opts.Binary = defaultBinary
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultRestartDelay
	}
	if opts.MaxRestartDelay <= 0 {
		opts.MaxRestartDelay = defaultMaxRestartDelay
	}
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = defaultGracefulTimeout
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = defaultHealthCheckInterval
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Supervisor{
		opts:   opts,
		logger: logger,
		status: StatusStopped,
	}
}

// Start launches the broker and supervises it until Stop or ctx is done.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil && !isClosed(s.done) {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopRequested = false
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.launch(ctx); err != nil {
		s.mu.Lock()
		if errors.Is(err, errStopped) {
			s.status = StatusStopped
			err = nil
		} else {
			s.status = StatusFailed
			s.lastError = err
		}
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx)
	return nil
}

// Stop terminates the broker: SIGTERM to its process group, then SIGKILL
// after the graceful timeout. A pending restart is cancelled. Stop is a
// no-op when nothing is supervised.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil || s.stopRequested || isClosed(s.done) {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	close(s.stopCh)
	cmd := s.cmd
	running := s.status == StatusRunning
	done := s.done
	s.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping broker", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to signal broker", "error", err)
	}

	select {
	case <-done:
		s.logger.Info("broker stopped")
		return nil
	case <-time.After(s.opts.GracefulTimeout):
		s.logger.Warn("broker did not stop in time, killing", "timeout", s.opts.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing broker: %w", err)
	}
	<-done
	return nil
}

// WaitReady blocks until the broker accepts TCP connections on its listen
// address or ctx is done. Without a listen address it returns immediately.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	if s.opts.ListenAddress == "" {
		return nil
	}
	ticker := time.NewTicker(defaultReadyPoll)
	defer ticker.Stop()
	for {
		if err := s.probe(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for broker on %s: %w", s.opts.ListenAddress, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Status returns the broker status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats is a snapshot of the supervised broker.
type Stats struct {
	Status        Status `json:"status"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Restarts      int    `json:"restarts"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns the current broker statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Status: s.status, Restarts: s.restarts}
	if s.cmd != nil && s.cmd.Process != nil && s.status == StatusRunning {
		st.PID = s.cmd.Process.Pid
		st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}

func (s *Supervisor) launch(ctx context.Context) error {
	s.logger.Info("starting broker", "binary", s.opts.Binary, "args", strings.Join(s.opts.Args, " "))

	cmd := exec.CommandContext(ctx, s.opts.Binary, s.opts.Args...) //nolint:gosec // Binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Stdout = &outputWriter{logger: s.logger, stream: "stdout"}
	cmd.Stderr = &outputWriter{logger: s.logger, stream: "stderr"}

	// Held across Start so Stop never misses a process launched after it.
	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		return errStopped
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("starting broker %s: %w", s.opts.Binary, err)
	}
	s.cmd = cmd
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("broker started", "pid", cmd.Process.Pid)
	return nil
}

// outputWriter logs the broker's output at debug level.
type outputWriter struct {
	logger Logger
	stream string
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if out := strings.TrimSpace(string(p)); out != "" {
		w.logger.Debug("broker output", "stream", w.stream, "output", out)
	}
	return len(p), nil
}

func (s *Supervisor) supervise(ctx context.Context) {
	s.mu.RLock()
	done := s.done
	stopCh := s.stopCh
	s.mu.RUnlock()
	defer close(done)

	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := s.wait(ctx, cmd)

		s.mu.Lock()
		stopping := s.stopRequested
		if stopping {
			s.status = StatusStopped
		} else {
			s.status = StatusFailed
			s.lastError = err
		}
		s.mu.Unlock()

		if stopping {
			return
		}
		s.logger.Warn("broker exited unexpectedly", "error", err)

		if !s.opts.RestartOnFailure || ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.opts.MaxRestartAttempts > 0 && s.restarts >= s.opts.MaxRestartAttempts {
			s.mu.Unlock()
			s.logger.Error("broker restart attempts exhausted", "attempts", s.opts.MaxRestartAttempts)
			return
		}
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()
		metrics.BrokerRestarts.Inc()

		delay := s.backoff(attempt)
		s.logger.Info("restarting broker", "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			s.mu.Lock()
			s.status = StatusStopped
			s.mu.Unlock()
			return
		case <-time.After(delay):
		}

		if err := s.launch(ctx); err != nil {
			s.mu.Lock()
			if errors.Is(err, errStopped) {
				s.status = StatusStopped
			} else {
				s.lastError = err
			}
			s.mu.Unlock()
			if !errors.Is(err, errStopped) {
				s.logger.Error("failed to restart broker", "error", err)
			}
			return
		}
	}
}

// wait returns when the broker exits or has failed too many health checks,
// in which case it is killed.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if s.opts.ListenAddress == "" {
		return <-exited
	}

	ticker := time.NewTicker(s.opts.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ticker.C:
			if err := s.probe(ctx); err != nil {
				failures++
				s.logger.Warn("broker health check failed", "error", err, "consecutive_failures", failures)
				if failures < maxConsecutiveFailures {
					continue
				}
				s.logger.Error("broker unresponsive, killing", "failures", failures)
				//nolint:errcheck // Exit is observed on the exited channel
				cmd.Process.Kill()
				<-exited
				return fmt.Errorf("broker killed after %d failed health checks", failures)
			}
			failures = 0
		}
	}
}

// probe dials the broker's listener.
func (s *Supervisor) probe(ctx context.Context) error {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	conn, err := d.DialContext(ctx, "tcp", s.opts.ListenAddress)
	if err != nil {
		return err
	}
	return conn.Close()
}

// backoff returns the restart delay for attempt (1-based): RestartDelay
// doubled per attempt, capped at MaxRestartDelay.
func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.opts.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.opts.MaxRestartDelay {
			return s.opts.MaxRestartDelay
		}
	}
	return min(delay, s.opts.MaxRestartDelay)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
