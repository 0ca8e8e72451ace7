package mqtt

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds the handshake when the config leaves it unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout is the maximum time to wait for a SUBACK, UNSUBACK
	// or PUBACK before logging the operation as failed.
	defaultAckTimeout = 5 * time.Second

	// defaultKeepAlive is the keepalive interval when the config leaves it unset.
	defaultKeepAlive = 60 * time.Second

	// forcedDisconnect is the quiesce period for Close: none.
	forcedDisconnect = 0

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// subscribeRejected is the SUBACK return code for a refused filter.
	subscribeRejected = 0x80

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options for one connection attempt.
//
// This configures:
//   - Broker URL, passed through as given (tcp, ssl, ws or wss)
//   - Client ID for identification
//   - Clean session mode
//   - No auto-reconnect and no connect retry: reconnection is caller-driven
//   - TLS configuration for ssl:// and wss:// brokers
func buildClientOptions(cfg config.MQTTConfig, address, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(address)
	opts.SetClientID(clientID)

	// Clean session - a program run never resumes a previous run's subscriptions
	opts.SetCleanSession(true)

	// One attempt per Dial; the caller decides when to try again
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Per-topic delivery order keeps the most recent message last
	opts.SetOrderMatters(true)

	connectTimeout := defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		connectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if isSecure(address) {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// isSecure reports whether the broker URL uses a TLS transport.
func isSecure(address string) bool {
	scheme, _, found := strings.Cut(address, "://")
	if !found {
		return false
	}
	switch strings.ToLower(scheme) {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}

// newClientID returns a broker-unique client ID. Every connection attempt
// gets a fresh ID so a half-closed previous session is never taken over.
func newClientID(prefix string) string {
	if prefix == "" {
		prefix = "sidekick"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
