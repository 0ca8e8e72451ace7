// SIDEKICK Bridge - MQTT bridge for classroom block programming
//
// sidekickd connects a block-program host to the SIDEKICK boxes and buttons
// through an MQTT broker. It serves the block operations, the program
// lifecycle and peripheral notifications over HTTP and WebSocket, plus an
// embedded console for trying things out without a block editor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sidekick-edu/sidekick-bridge/internal/api"
	"github.com/sidekick-edu/sidekick-bridge/internal/blocks"
	"github.com/sidekick-edu/sidekick-bridge/internal/bridge"
	"github.com/sidekick-edu/sidekick-bridge/internal/broker"
	"github.com/sidekick-edu/sidekick-bridge/internal/host"
	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/config"
	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/logging"
	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/mqtt"
	"github.com/sidekick-edu/sidekick-bridge/internal/metrics"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SIDEKICK bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var supervisor *broker.Supervisor
	if cfg.Broker.Managed {
		supervisor, err = startBroker(ctx, cfg.Broker, log.With("component", "broker"))
		if err != nil {
			return fmt.Errorf("starting broker: %w", err)
		}
		defer func() {
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping broker", "error", stopErr)
			}
		}()
	}

	runtime := host.New(log.With("component", "host"))

	dialer := mqtt.NewDialer(cfg.MQTT, log.With("component", "mqtt"))
	b, err := bridge.New(bridge.Options{
		Dialer:      mqttDialer{dialer: dialer},
		Lifecycle:   runtime,
		Notifier:    runtime,
		Peripherals: peripheralsFromConfig(cfg.MQTT.Peripherals),
		Logger:      log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	defer func() {
		log.Info("closing bridge")
		b.Close()
	}()
	log.Info("bridge initialised", "peripherals", len(cfg.MQTT.Peripherals))

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Bridge:     b,
		Runtime:    runtime,
		Blocks:     blocks.New(b),
		Gatherer:   metrics.Registry,
		ConsoleDir: cfg.API.ConsoleDir,
		Version:    version,
	}
	if supervisor != nil {
		deps.Broker = supervisor
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if id := cfg.MQTT.AutoConnect; id != "" {
		if p, ok := cfg.MQTT.Peripheral(id); ok {
			log.Info("auto-connecting", "peripheral", id, "broker", p.BrokerAddress)
		}
		b.ConnectPeripheral(id)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// A running program is stopped first so its subscriptions are released
	// while the connection is still up.
	runtime.StopProgram()

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Bridge (and its broker connection)
	// 3. Managed broker, if any
	log.Info("SIDEKICK bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SIDEKICK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SIDEKICK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBroker launches the managed broker and waits for its listener.
// A broker that is not ready in time is logged and left to its supervisor:
// the bridge reports connect failures on its own.
func startBroker(ctx context.Context, cfg config.BrokerConfig, log *logging.Logger) (*broker.Supervisor, error) {
	sup := broker.New(broker.OptionsFromConfig(cfg), log)
	// The broker outlives the signal context so Stop can terminate it
	// gracefully.
	if err := sup.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}

	readyCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ReadyTimeout)*time.Second)
	defer cancel()
	if err := sup.WaitReady(readyCtx); err != nil {
		log.Warn("broker not ready", "error", err)
	} else {
		log.Info("broker ready", "address", cfg.ListenAddress)
	}
	return sup, nil
}

// peripheralsFromConfig converts configured brokers to bridge peripherals.
func peripheralsFromConfig(cfgs []config.PeripheralConfig) []bridge.Peripheral {
	out := make([]bridge.Peripheral, 0, len(cfgs))
	for _, p := range cfgs {
		out = append(out, bridge.Peripheral{
			ID:            p.ID,
			Name:          p.Name,
			RSSI:          p.RSSI,
			BrokerAddress: p.BrokerAddress,
		})
	}
	return out
}

// mqttDialer adapts mqtt.Dialer to bridge.Dialer.
type mqttDialer struct {
	dialer *mqtt.Dialer
}

func (d mqttDialer) Dial(address string, cb bridge.Callbacks) bridge.Conn {
	c := d.dialer.Dial(address, mqtt.Handlers{
		OnConnect:        cb.OnConnect,
		OnConnectFailed:  cb.OnConnectFailed,
		OnConnectionLost: cb.OnConnectionLost,
		OnMessage:        cb.OnMessage,
	})
	if c == nil {
		return nil
	}
	return c
}
