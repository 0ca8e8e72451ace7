package bridge

// Dialer opens broker connections. Dial must not block on the network:
// it returns immediately and reports the outcome through the callbacks.
// It must never return nil.
type Dialer interface {
	Dial(address string, cb Callbacks) Conn
}

// Callbacks are invoked by the transport from its own goroutines.
type Callbacks struct {
	// OnConnect is called once the broker handshake succeeds.
	OnConnect func()

	// OnConnectFailed is called when the handshake fails.
	OnConnectFailed func(err error)

	// OnConnectionLost is called when an established connection drops.
	OnConnectionLost func(err error)

	// OnMessage is called for every inbound message.
	OnMessage func(topic string, payload []byte)
}

// Conn is one broker connection. All methods are fire-and-forget.
type Conn interface {
	// Subscribe requests a subscription. ack is called once the broker
	// answers, with a non-nil error if the subscription was rejected.
	Subscribe(topic string, ack func(err error))

	// Unsubscribe tears down subscriptions in one request.
	Unsubscribe(topics ...string)

	// Publish sends payload on topic.
	Publish(topic, payload string)

	// Close terminates the connection immediately, without a graceful
	// quiesce period.
	Close()
}

// Lifecycle is the host's program lifecycle. The bridge registers its
// start/stop handlers on construction.
type Lifecycle interface {
	OnStart(handler func())
	OnStop(handler func())
}

// Notifier receives host notifications produced by the bridge.
// Notify is never called with the bridge lock held.
type Notifier interface {
	Notify(ev Event)
}

// Logger is the logging interface used by the bridge.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// EventKind names a host notification.
type EventKind string

// Host notifications.
const (
	EventConnected    EventKind = "peripheral-connected"
	EventDisconnected EventKind = "peripheral-disconnected"
	EventError        EventKind = "peripheral-error"
	EventListUpdate   EventKind = "peripheral-list-update"
)

// Event is a notification for the host UI.
type Event struct {
	Kind EventKind `json:"kind"`

	// Message and SourceID are set for EventError.
	Message  string `json:"message,omitempty"`
	SourceID string `json:"source_id,omitempty"`

	// Err is the underlying error for EventError.
	Err error `json:"-"`

	// Peripherals is set for EventListUpdate.
	Peripherals []Peripheral `json:"peripherals,omitempty"`
}

// Peripheral is a broker the host can offer in its device list.
type Peripheral struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RSSI          int    `json:"rssi"`
	BrokerAddress string `json:"broker_address"`
}

// Snapshot is a consistent read of the bridge's connection state.
type Snapshot struct {
	Status        Status `json:"status"`
	BrokerAddress string `json:"broker_address,omitempty"`
	Armed         bool   `json:"armed"`
	Topics        int    `json:"topics"`
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
