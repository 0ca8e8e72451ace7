package mqtt

import (
	"fmt"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/config"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handlers receive connection events and inbound messages. They are called
// from paho's goroutines and must not block for extended periods.
type Handlers struct {
	// OnConnect is called once the broker accepts the connection.
	OnConnect func()

	// OnConnectFailed is called if the handshake fails. The error wraps
	// ErrConnectionFailed.
	OnConnectFailed func(err error)

	// OnConnectionLost is called when an established connection drops.
	// The error wraps ErrConnectionLost. It is not called after Close.
	OnConnectionLost func(err error)

	// OnMessage is called for every inbound message, in arrival order.
	OnMessage func(topic string, payload []byte)
}

// Dialer opens non-blocking broker connections.
type Dialer struct {
	cfg    config.MQTTConfig
	logger Logger

	// newClient builds the paho client. Tests replace it.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// NewDialer creates a dialer using cfg for every connection.
// logger may be nil.
func NewDialer(cfg config.MQTTConfig, logger Logger) *Dialer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dialer{
		cfg:       cfg,
		logger:    logger,
		newClient: pahomqtt.NewClient,
	}
}

// Dial starts connecting to address and returns immediately. The outcome is
// reported through h.OnConnect or h.OnConnectFailed. There is exactly one
// attempt; a failed Client is discarded by the caller.
func (d *Dialer) Dial(address string, h Handlers) *Client {
	c := &Client{
		clientID: newClientID(d.cfg.ClientIDPrefix),
		address:  address,
		qos:      byte(d.cfg.QoS),
		handlers: h.withDefaults(),
		logger:   d.logger,
	}

	opts := buildClientOptions(d.cfg, address, c.clientID)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetDefaultPublishHandler(c.wrapHandler())

	c.client = d.newClient(opts)

	d.logger.Debug("dialling MQTT broker", "broker", address, "client_id", c.clientID)
	token := c.client.Connect()
	go c.awaitConnect(token)

	return c
}

// Client is one broker connection.
//
// Every method is fire-and-forget: it hands the packet to paho and returns
// without waiting for the broker. Failures are logged.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	clientID string
	address  string
	qos      byte
	handlers Handlers
	logger   Logger

	closed atomic.Bool
}

// ClientID returns the MQTT client ID used for this connection.
func (c *Client) ClientID() string {
	return c.clientID
}

// Address returns the broker URL this client dialled.
func (c *Client) Address() string {
	return c.address
}

// IsConnected reports whether the connection is up and not closed.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.client.IsConnected()
}

// Close terminates the connection immediately, without a quiesce period.
// It is safe to call more than once and while the handshake is pending.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.client.Disconnect(forcedDisconnect)
	c.logger.Debug("MQTT client closed", "broker", c.address, "client_id", c.clientID)
}

// awaitConnect waits for the handshake and reports its outcome.
func (c *Client) awaitConnect(token pahomqtt.Token) {
	token.Wait()
	if err := token.Error(); err != nil {
		c.handlers.OnConnectFailed(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		return
	}
	c.handlers.OnConnect()
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	if c.closed.Load() {
		return
	}
	c.handlers.OnConnectionLost(fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

// wrapHandler wraps the message handler with panic recovery and logging.
func (c *Client) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		c.handlers.OnMessage(msg.Topic(), msg.Payload())
	}
}

// await waits for an acknowledgement in the background and logs failures.
func (c *Client) await(token pahomqtt.Token, sentinel error, args ...any) {
	go func() {
		if err := waitToken(token, sentinel); err != nil {
			c.logger.Warn("MQTT operation failed", append(args, "error", err)...)
		}
	}()
}

// waitToken waits up to defaultAckTimeout and wraps any failure in sentinel.
func waitToken(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, defaultAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (h Handlers) withDefaults() Handlers {
	if h.OnConnect == nil {
		h.OnConnect = func() {}
	}
	if h.OnConnectFailed == nil {
		h.OnConnectFailed = func(error) {}
	}
	if h.OnConnectionLost == nil {
		h.OnConnectionLost = func(error) {}
	}
	if h.OnMessage == nil {
		h.OnMessage = func(string, []byte) {}
	}
	return h
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
