package broker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/config"
	"github.com/sidekick-edu/sidekick-bridge/internal/metrics"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNew_Defaults(t *testing.T) {
	s := New(Options{}, nil)

	if s.opts.Binary != "mosquitto" {
		t.Errorf("Binary = %q, want %q", s.opts.Binary, "mosquitto")
	}
	if s.opts.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v, want %v", s.opts.RestartDelay, 2*time.Second)
	}
	if s.opts.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", s.opts.MaxRestartDelay, time.Minute)
	}
	if s.opts.GracefulTimeout != 5*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", s.opts.GracefulTimeout, 5*time.Second)
	}
	if s.opts.HealthCheckInterval != 15*time.Second {
		t.Errorf("HealthCheckInterval = %v, want %v", s.opts.HealthCheckInterval, 15*time.Second)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.BrokerConfig{
		Binary:             "/usr/sbin/mosquitto",
		ConfigFile:         "/etc/mosquitto/sidekick.conf",
		Args:               []string{"-v"},
		ListenAddress:      "127.0.0.1:9001",
		RestartOnFailure:   true,
		RestartDelay:       3,
		MaxRestartDelay:    30,
		MaxRestartAttempts: 4,
		GracefulTimeout:    7,
	})

	want := []string{"-c", "/etc/mosquitto/sidekick.conf", "-v"}
	if len(opts.Args) != len(want) {
		t.Fatalf("Args = %v, want %v", opts.Args, want)
	}
	for i := range want {
		if opts.Args[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, opts.Args[i], want[i])
		}
	}
	if opts.RestartDelay != 3*time.Second {
		t.Errorf("RestartDelay = %v, want 3s", opts.RestartDelay)
	}
	if opts.MaxRestartDelay != 30*time.Second {
		t.Errorf("MaxRestartDelay = %v, want 30s", opts.MaxRestartDelay)
	}
	if opts.GracefulTimeout != 7*time.Second {
		t.Errorf("GracefulTimeout = %v, want 7s", opts.GracefulTimeout)
	}
	if opts.MaxRestartAttempts != 4 || !opts.RestartOnFailure {
		t.Errorf("restart policy = (%v, %d), want (true, 4)", opts.RestartOnFailure, opts.MaxRestartAttempts)
	}
}

func TestBackoff(t *testing.T) {
	s := New(Options{RestartDelay: time.Second, MaxRestartDelay: 10 * time.Second}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := s.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestStart_InvalidBinary(t *testing.T) {
	s := New(Options{Binary: "/nonexistent/mosquitto"}, nil)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
	if s.Stats().LastError == "" {
		t.Error("Stats().LastError should be set")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() after failed start = %v", err)
	}
}

func TestStartStop(t *testing.T) {
	s := New(Options{Binary: "sleep", Args: []string{"60"}, GracefulTimeout: 2 * time.Second}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Status() != StatusRunning {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusRunning)
	}
	if st := s.Stats(); st.PID == 0 {
		t.Error("Stats().PID = 0 while running")
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() after Stop = %q, want %q", s.Status(), StatusStopped)
	}
	if st := s.Stats(); st.PID != 0 || st.Restarts != 0 {
		t.Errorf("Stats() after Stop = %+v, want no PID and no restarts", st)
	}

	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func TestRestartOnFailure(t *testing.T) {
	s := New(Options{
		Binary:             "false",
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
	}, nil)
	before := testutil.ToFloat64(metrics.BrokerRestarts)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return isClosed(s.done)
	})

	st := s.Stats()
	if st.Restarts != 2 {
		t.Errorf("Restarts = %d, want 2", st.Restarts)
	}
	if st.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", st.Status, StatusFailed)
	}
	if st.LastError == "" {
		t.Error("LastError should record the exit status")
	}
	if got := testutil.ToFloat64(metrics.BrokerRestarts) - before; got != 2 {
		t.Errorf("BrokerRestarts delta = %v, want 2", got)
	}
}

func TestNoRestartWhenDisabled(t *testing.T) {
	s := New(Options{Binary: "false"}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return s.Status() == StatusFailed })

	if st := s.Stats(); st.Restarts != 0 {
		t.Errorf("Restarts = %d, want 0", st.Restarts)
	}
}

func TestStop_CancelsPendingRestart(t *testing.T) {
	s := New(Options{
		Binary:           "false",
		RestartOnFailure: true,
		RestartDelay:     time.Minute,
		MaxRestartDelay:  time.Minute,
	}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return s.Stats().Restarts == 1 })

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not cancel the pending restart")
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}
}

func TestWaitReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	s := New(Options{ListenAddress: ln.Addr().String()}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.WaitReady(ctx); err != nil {
		t.Errorf("WaitReady() error = %v", err)
	}
}

func TestWaitReady_Timeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := New(Options{ListenAddress: addr}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := s.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady() = %v, want deadline exceeded", err)
	}
}

func TestWaitReady_NoAddress(t *testing.T) {
	s := New(Options{}, nil)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() without address = %v", err)
	}
}
