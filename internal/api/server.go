package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sidekick-edu/sidekick-bridge/internal/blocks"
	"github.com/sidekick-edu/sidekick-bridge/internal/bridge"
	"github.com/sidekick-edu/sidekick-bridge/internal/broker"
	"github.com/sidekick-edu/sidekick-bridge/internal/host"
	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/config"
	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the broker bridge the API drives.
// It is satisfied by *bridge.Bridge.
type Bridge interface {
	ToggleConnect(address string)
	ConnectPeripheral(id string)
	Disconnect()
	Snapshot() bridge.Snapshot
	Peripherals() []bridge.Peripheral
	Scan()
}

// Runtime is the program lifecycle the API drives.
// It is satisfied by *host.Runtime.
type Runtime interface {
	StartProgram() bool
	StopProgram() bool
	Running() bool
	Runs() uint64
	Subscribe(obs host.Observer) (unsubscribe func())
}

// Dispatcher runs blocks by opcode. It is satisfied by *blocks.Extension.
type Dispatcher interface {
	Dispatch(opcode string, args blocks.Args) (any, error)
}

// BrokerSupervisor reports on a managed local broker.
// It is satisfied by *broker.Supervisor.
type BrokerSupervisor interface {
	Stats() broker.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Bridge  Bridge
	Runtime Runtime
	Blocks  Dispatcher

	// Gatherer is exposed on /metrics. Optional: without it /metrics is
	// not mounted.
	Gatherer prometheus.Gatherer

	// Broker adds the managed broker to /status. Optional.
	Broker BrokerSupervisor

	// ConsoleDir serves the console from disk instead of the embedded
	// assets when set.
	ConsoleDir string

	Version string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	bridge     Bridge
	runtime    Runtime
	blocks     Dispatcher
	gatherer   prometheus.Gatherer
	broker     BrokerSupervisor
	consoleDir string
	version    string
	startTime  time.Time
	server     *http.Server
	serving    atomic.Bool
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
	unobserve  func()             // detaches the hub from runtime notifications
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bridge, runtime, blocks)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if deps.Blocks == nil {
		return nil, fmt.Errorf("blocks are required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		bridge:     deps.Bridge,
		runtime:    deps.Runtime,
		blocks:     deps.Blocks,
		gatherer:   deps.Gatherer,
		broker:     deps.Broker,
		consoleDir: deps.ConsoleDir,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port already in use is
// reported to the caller. The WebSocket hub, the runtime relay and the
// serve loop then run in background goroutines until Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}
	s.server = srv
	s.serving.Store(true)

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unobserve = s.runtime.Subscribe(s.relayEvent)

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.serving.Store(false)
	if s.unobserve != nil {
		s.unobserve()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is bound and serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if !s.serving.Load() {
		return fmt.Errorf("api server not serving")
	}

	return nil
}
