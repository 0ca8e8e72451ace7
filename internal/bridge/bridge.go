package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/sidekick-edu/sidekick-bridge/internal/metrics"
)

const (
	// defaultSourceID identifies the bridge in peripheral-error notifications.
	defaultSourceID = "sidekick"

	// defaultScanDelay defers the peripheral list update after Scan.
	defaultScanDelay = 200 * time.Millisecond
)

// Options holds configuration for creating a bridge.
type Options struct {
	// Dialer opens broker connections. Required.
	Dialer Dialer

	// Lifecycle delivers program start/stop events. Optional: without it
	// the caller invokes OnProgramStart/OnProgramStop directly.
	Lifecycle Lifecycle

	// Notifier receives host notifications. Optional.
	Notifier Notifier

	// Peripherals are the broker presets offered to the host.
	Peripherals []Peripheral

	// SourceID is reported in peripheral-error notifications.
	// Defaults to "sidekick".
	SourceID string

	// Logger is optional structured logger.
	Logger Logger

	// ScanDelay overrides the deferral of Scan's list update.
	ScanDelay time.Duration
}

// Bridge owns one broker connection and the registry of subscribed topics,
// and exposes edge-triggered and level-triggered reads of topic state to a
// program that polls it once per tick.
//
// Every public method is non-blocking and never fails: while the bridge is
// disconnected or the program is not running, reads return false or "" and
// publishes are dropped.
//
// Thread Safety: All methods are safe for concurrent use. Transport
// callbacks and host calls are serialised by a single mutex.
type Bridge struct {
	dialer      Dialer
	notifier    Notifier
	logger      Logger
	sourceID    string
	peripherals []Peripheral
	scanDelay   time.Duration

	mu      sync.Mutex
	state   *connState
	conn    Conn
	address string

	// generation increments whenever the connection is replaced or dropped.
	// Callbacks from older connections are ignored.
	generation uint64

	armed bool

	// epoch increments on every registry clear. Subscribe acks for an older
	// epoch are ignored.
	epoch  uint64
	topics map[string]*topicState

	scanTimer *time.Timer
}

// New creates a bridge and registers it with the host lifecycle.
// It emits the initial peripheral list immediately.
func New(opts Options) (*Bridge, error) {
	if opts.Dialer == nil {
		return nil, ErrDialerRequired
	}

	b := &Bridge{
		dialer:      opts.Dialer,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		sourceID:    opts.SourceID,
		peripherals: append([]Peripheral(nil), opts.Peripherals...),
		scanDelay:   opts.ScanDelay,
		topics:      make(map[string]*topicState),
	}
	if b.notifier == nil {
		b.notifier = nopNotifier{}
	}
	if b.logger == nil {
		b.logger = nopLogger{}
	}
	if b.sourceID == "" {
		b.sourceID = defaultSourceID
	}
	if b.scanDelay <= 0 {
		b.scanDelay = defaultScanDelay
	}
	b.state = newConnState(b.logger)

	if opts.Lifecycle != nil {
		opts.Lifecycle.OnStart(b.OnProgramStart)
		opts.Lifecycle.OnStop(b.OnProgramStop)
	}

	b.emitPeripheralList()

	return b, nil
}

// Connect starts a connection attempt to address and returns immediately.
//
// It is a no-op while a connection is pending or established; call
// Disconnect first to switch brokers. A failed connection is discarded and
// replaced. The outcome is reported as a peripheral-connected or
// peripheral-error notification. There is no automatic retry.
func (b *Bridge) Connect(address string) {
	b.dial(address, false)
}

// ConnectPeripheral connects to the broker preset with the given ID.
func (b *Bridge) ConnectPeripheral(id string) {
	for _, p := range b.peripherals {
		if p.ID == id {
			b.Connect(p.BrokerAddress)
			return
		}
	}
	b.logger.Warn("unknown peripheral", "peripheral", id)
	b.emitError(fmt.Errorf("%w: %q", ErrUnknownPeripheral, id))
}

// Disconnect force-closes the connection, discards all topic state and
// emits peripheral-disconnected. Safe to call without a connection.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	conn := b.conn
	address := b.address
	b.conn = nil
	b.address = ""
	b.generation++
	b.clearTopicsLocked()
	b.state.fire(eventClose)
	b.mu.Unlock()

	if conn != nil {
		conn.Close()
		b.logger.Info("disconnected from broker", "broker", address)
	}
	b.notify(Event{Kind: EventDisconnected})
}

// IsConnected reports whether the broker handshake has completed and the
// connection has not been lost or closed since.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.status() == StatusConnected
}

// ToggleConnect is the single user-facing connect control: it disconnects
// an established connection and otherwise connects to address. A pending
// attempt is abandoned and restarted, so a caller that gave up waiting can
// retry by toggling again.
func (b *Bridge) ToggleConnect(address string) {
	b.mu.Lock()
	status := b.state.status()
	b.mu.Unlock()

	switch status {
	case StatusConnected:
		b.Disconnect()
	case StatusConnecting:
		b.dial(address, true)
	default:
		b.Connect(address)
	}
}

// OnProgramStart arms the bridge. Publishes and reads are only served
// while armed.
func (b *Bridge) OnProgramStart() {
	b.mu.Lock()
	b.armed = true
	b.mu.Unlock()
	b.logger.Debug("program started, bridge armed")
}

// OnProgramStop disarms the bridge, unsubscribes every registered topic at
// the broker and clears the registry in one step.
func (b *Bridge) OnProgramStop() {
	b.mu.Lock()
	b.armed = false
	var topics []string
	conn := b.conn
	if conn != nil && b.state.status() == StatusConnected {
		topics = make([]string, 0, len(b.topics))
		for topic := range b.topics {
			topics = append(topics, topic)
		}
	}
	b.clearTopicsLocked()
	b.mu.Unlock()

	if len(topics) > 0 {
		b.logger.Debug("program stopped, unsubscribing", "topics", len(topics))
		conn.Unsubscribe(topics...)
	}
}

// Publish sends payload on topic. It is dropped silently unless the bridge
// is connected and armed: block programs must keep running through
// connectivity loss.
func (b *Bridge) Publish(topic, payload string) {
	b.mu.Lock()
	conn, ok := b.readyLocked()
	b.mu.Unlock()

	if !ok {
		metrics.Publishes.WithLabelValues(metrics.ResultDropped).Inc()
		return
	}
	conn.Publish(topic, payload)
	metrics.Publishes.WithLabelValues(metrics.ResultSent).Inc()
}

// Status returns the connection status.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.status()
}

// Snapshot returns the connection status, broker address, armed flag and
// registry size read under one lock.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Status:        b.state.status(),
		BrokerAddress: b.address,
		Armed:         b.armed,
		Topics:        len(b.topics),
	}
}

// Peripherals returns the configured broker presets.
func (b *Bridge) Peripherals() []Peripheral {
	return append([]Peripheral(nil), b.peripherals...)
}

// Scan emits a peripheral-list-update shortly after the call.
func (b *Bridge) Scan() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scanTimer != nil {
		b.scanTimer.Stop()
	}
	b.scanTimer = time.AfterFunc(b.scanDelay, b.emitPeripheralList)
}

// Close shuts the bridge down at process exit.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.scanTimer != nil {
		b.scanTimer.Stop()
	}
	idle := b.conn == nil && b.state.status() == StatusDisconnected
	b.mu.Unlock()

	if !idle {
		b.Disconnect()
	}
}

// dial starts a new connection attempt. Unless force is set, it is a no-op
// while a connection is pending or established.
func (b *Bridge) dial(address string, force bool) {
	b.mu.Lock()
	status := b.state.status()
	if !force && (status == StatusConnecting || status == StatusConnected) {
		current := b.address
		b.mu.Unlock()
		b.logger.Debug("connect ignored, connection exists", "broker", current, "status", string(status))
		return
	}

	stale := b.conn
	b.conn = nil
	b.clearTopicsLocked()
	b.generation++
	gen := b.generation
	b.address = address
	if status == StatusConnecting {
		b.state.fire(eventClose)
	}
	b.state.fire(eventDial)
	b.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	metrics.ConnectAttempts.WithLabelValues(metrics.ResultStarted).Inc()
	b.logger.Info("connecting to broker", "broker", address)

	conn := b.dialer.Dial(address, b.callbacks(gen))
	if conn == nil {
		b.handleConnectFailed(gen, fmt.Errorf("dialer returned no connection for %s", address))
		return
	}

	b.mu.Lock()
	if b.generation != gen {
		// Disconnected or replaced while dialling.
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()
}

// callbacks binds transport callbacks to connection generation gen.
func (b *Bridge) callbacks(gen uint64) Callbacks {
	return Callbacks{
		OnConnect: func() {
			b.handleConnect(gen)
		},
		OnConnectFailed: func(err error) {
			b.handleConnectFailed(gen, err)
		},
		OnConnectionLost: func(err error) {
			b.handleConnectionLost(gen, err)
		},
		OnMessage: func(topic string, payload []byte) {
			b.handleMessage(gen, topic, payload)
		},
	}
}

func (b *Bridge) handleConnect(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || !b.state.fire(eventEstablish) {
		b.mu.Unlock()
		return
	}
	address := b.address
	b.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues(metrics.ResultSucceeded).Inc()
	b.logger.Info("connected to broker", "broker", address)
	b.notify(Event{Kind: EventConnected})
}

func (b *Bridge) handleConnectFailed(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.generation || b.state.status() != StatusConnecting || !b.state.fire(eventFail) {
		b.mu.Unlock()
		return
	}
	address := b.address
	b.mu.Unlock()

	metrics.ConnectAttempts.WithLabelValues(metrics.ResultFailed).Inc()
	b.logger.Warn("broker connection failed", "broker", address, "error", err)
	b.emitError(fmt.Errorf("%w: %s: %w", ErrConnectionFailed, address, err))
}

func (b *Bridge) handleConnectionLost(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.generation || b.state.status() != StatusConnected || !b.state.fire(eventFail) {
		b.mu.Unlock()
		return
	}
	address := b.address
	b.mu.Unlock()

	b.logger.Warn("broker connection lost", "broker", address, "error", err)
	b.emitError(fmt.Errorf("%w: %s: %w", ErrConnectionLost, address, err))
}

// readyLocked returns the connection if publishes and reads may be served.
func (b *Bridge) readyLocked() (Conn, bool) {
	if !b.armed || b.conn == nil || b.state.status() != StatusConnected {
		return nil, false
	}
	return b.conn, true
}

func (b *Bridge) emitPeripheralList() {
	b.notify(Event{Kind: EventListUpdate, Peripherals: b.Peripherals()})
}

func (b *Bridge) emitError(err error) {
	b.notify(Event{
		Kind:     EventError,
		Message:  err.Error(),
		SourceID: b.sourceID,
		Err:      err,
	})
}

func (b *Bridge) notify(ev Event) {
	b.notifier.Notify(ev)
}
