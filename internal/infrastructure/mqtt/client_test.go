package mqtt

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		ClientIDPrefix: "sidekick-test",
		QoS:            1,
		KeepAlive:      30,
		ConnectTimeout: 2,
	}
}

// =============================================================================
// Mocks
// =============================================================================

// mockToken implements pahomqtt.Token.
type mockToken struct {
	err  error
	done chan struct{}
}

// completedToken returns a token that has already finished with err.
func completedToken(err error) *mockToken {
	t := &mockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

// pendingToken returns a token that never completes.
func pendingToken() *mockToken {
	return &mockToken{done: make(chan struct{})}
}

func (t *mockToken) Wait() bool {
	<-t.done
	return true
}

func (t *mockToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *mockToken) Done() <-chan struct{} { return t.done }
func (t *mockToken) Error() error          { return t.err }

// mockPahoClient implements pahomqtt.Client.
type mockPahoClient struct {
	mu           sync.Mutex
	opts         *pahomqtt.ClientOptions
	connectToken pahomqtt.Token
	subToken     pahomqtt.Token
	connected    bool
	disconnects  []uint
	published    []mockPublish
	subscribed   []string
	unsubscribed [][]string
	handlers     map[string]pahomqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  string
}

func newMockPahoClient(opts *pahomqtt.ClientOptions) *mockPahoClient {
	return &mockPahoClient{
		opts:         opts,
		connectToken: completedToken(nil),
		subToken:     completedToken(nil),
		handlers:     make(map[string]pahomqtt.MessageHandler),
	}
}

func (m *mockPahoClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPahoClient) IsConnectionOpen() bool { return m.IsConnected() }

func (m *mockPahoClient) Connect() pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.connectToken.(*mockToken); ok {
		select {
		case <-t.done:
			m.connected = t.err == nil
		default:
		}
	}
	return m.connectToken
}

func (m *mockPahoClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, quiesce)
	m.connected = false
}

func (m *mockPahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, QoS: qos, Retained: retained, Payload: payload.(string)})
	return completedToken(nil)
}

func (m *mockPahoClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, topic)
	m.handlers[topic] = callback
	return m.subToken
}

func (m *mockPahoClient) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for topic, qos := range filters {
		m.Subscribe(topic, qos, callback)
	}
	return completedToken(nil)
}

func (m *mockPahoClient) Unsubscribe(topics ...string) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topics)
	return completedToken(nil)
}

func (m *mockPahoClient) AddRoute(topic string, callback pahomqtt.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = callback
}

func (m *mockPahoClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// SimulateMessage delivers a message through the subscription handler.
func (m *mockPahoClient) SimulateMessage(topic, payload string) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(m, &mockMessage{topic: topic, payload: []byte(payload)})
	}
}

// SimulateConnectionLost invokes the configured connection-lost handler.
func (m *mockPahoClient) SimulateConnectionLost(err error) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.opts.OnConnectionLost(m, err)
}

func (m *mockPahoClient) getPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *mockPahoClient) getUnsubscribed() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.unsubscribed...)
}

func (m *mockPahoClient) getDisconnects() []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint(nil), m.disconnects...)
}

// mockMessage implements pahomqtt.Message.
type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

// recorder collects Handlers callbacks.
type recorder struct {
	mu        sync.Mutex
	connected chan struct{}
	failed    chan error
	lost      []error
	messages  []string
}

func newRecorder() *recorder {
	return &recorder{
		connected: make(chan struct{}, 1),
		failed:    make(chan error, 1),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnect: func() {
			r.connected <- struct{}{}
		},
		OnConnectFailed: func(err error) {
			r.failed <- err
		},
		OnConnectionLost: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.lost = append(r.lost, err)
		},
		OnMessage: func(topic string, payload []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, topic+"="+string(payload))
		},
	}
}

func (r *recorder) getMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recorder) getLost() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.lost...)
}

// newTestDialer returns a dialer whose clients are mocks. The configure
// hook adjusts each mock before Connect is called.
func newTestDialer(t *testing.T, configure func(*mockPahoClient)) (*Dialer, *[]*mockPahoClient) {
	t.Helper()
	var clients []*mockPahoClient
	d := NewDialer(testConfig(), nil)
	d.newClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		m := newMockPahoClient(opts)
		if configure != nil {
			configure(m)
		}
		clients = append(clients, m)
		return m
	}
	return d, &clients
}

// dialConnected dials and waits for OnConnect.
func dialConnected(t *testing.T) (*Client, *mockPahoClient, *recorder) {
	t.Helper()
	d, clients := newTestDialer(t, nil)
	rec := newRecorder()
	c := d.Dial("ws://test:9001", rec.handlers())

	select {
	case <-rec.connected:
	case err := <-rec.failed:
		t.Fatalf("OnConnectFailed(%v), want OnConnect", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for OnConnect")
	}
	return c, (*clients)[0], rec
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(testConfig(), "ws://10.42.0.1:9001", "sidekick-test-1")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ws://10.42.0.1:9001" {
		t.Errorf("Servers = %v, want [ws://10.42.0.1:9001]", opts.Servers)
	}
	if opts.ClientID != "sidekick-test-1" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if !opts.Order {
		t.Error("Order = false, want true")
	}
	if opts.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", opts.ConnectTimeout)
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set for ws:// broker")
	}
}

func TestBuildClientOptionsDefaults(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{}, "tcp://127.0.0.1:1883", "id")

	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want %d", opts.KeepAlive, int64(defaultKeepAlive/time.Second))
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	tests := []struct {
		address string
		secure  bool
	}{
		{"ws://10.42.0.1:9001", false},
		{"tcp://127.0.0.1:1883", false},
		{"wss://broker.example.com:443", true},
		{"ssl://broker.example.com:8883", true},
		{"mqtts://broker.example.com:8883", true},
		{"WSS://broker.example.com:443", true},
		{"broker.example.com:1883", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			if got := isSecure(tt.address); got != tt.secure {
				t.Errorf("isSecure(%q) = %v, want %v", tt.address, got, tt.secure)
			}
			if !tt.secure {
				return
			}
			opts := buildClientOptions(testConfig(), tt.address, "id")
			if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
				t.Errorf("TLSConfig = %+v, want MinVersion TLS 1.2", opts.TLSConfig)
			}
		})
	}
}

func TestNewClientID(t *testing.T) {
	a := newClientID("sidekick-test")
	b := newClientID("sidekick-test")

	if a == b {
		t.Errorf("newClientID() returned %q twice", a)
	}
	if !strings.HasPrefix(a, "sidekick-test-") {
		t.Errorf("newClientID() = %q, want sidekick-test- prefix", a)
	}
	if got := newClientID(""); !strings.HasPrefix(got, "sidekick-") {
		t.Errorf("newClientID(\"\") = %q, want sidekick- prefix", got)
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestDial(t *testing.T) {
	c, m, _ := dialConnected(t)

	if !c.IsConnected() {
		t.Error("IsConnected() = false after OnConnect")
	}
	if c.Address() != "ws://test:9001" {
		t.Errorf("Address() = %q", c.Address())
	}
	if !strings.HasPrefix(c.ClientID(), "sidekick-test-") {
		t.Errorf("ClientID() = %q", c.ClientID())
	}
	if m.opts.ClientID != c.ClientID() {
		t.Errorf("paho ClientID = %q, want %q", m.opts.ClientID, c.ClientID())
	}
}

func TestDialFreshClientIDPerAttempt(t *testing.T) {
	d, _ := newTestDialer(t, nil)
	a := d.Dial("ws://test:9001", Handlers{})
	b := d.Dial("ws://test:9001", Handlers{})
	if a.ClientID() == b.ClientID() {
		t.Errorf("two dials shared client ID %q", a.ClientID())
	}
}

func TestDialFailure(t *testing.T) {
	d, _ := newTestDialer(t, func(m *mockPahoClient) {
		m.connectToken = completedToken(errors.New("network Error : dial tcp: connection refused"))
	})
	rec := newRecorder()
	c := d.Dial("ws://test:19999", rec.handlers())

	select {
	case err := <-rec.failed:
		if !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("OnConnectFailed(%v), want ErrConnectionFailed", err)
		}
	case <-rec.connected:
		t.Fatal("OnConnect called for refused connection")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for OnConnectFailed")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failure")
	}
}

func TestDialDoesNotBlock(t *testing.T) {
	d, _ := newTestDialer(t, func(m *mockPahoClient) {
		m.connectToken = pendingToken()
	})

	done := make(chan struct{})
	go func() {
		d.Dial("ws://blackhole:9001", Handlers{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dial() blocked on a pending handshake")
	}
}

func TestConnectionLost(t *testing.T) {
	_, m, rec := dialConnected(t)

	m.SimulateConnectionLost(errors.New("EOF"))

	lost := rec.getLost()
	if len(lost) != 1 || !errors.Is(lost[0], ErrConnectionLost) {
		t.Errorf("lost = %v, want one ErrConnectionLost", lost)
	}
}

func TestClose(t *testing.T) {
	c, m, rec := dialConnected(t)

	c.Close()
	c.Close()

	if got := m.getDisconnects(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Disconnect calls = %v, want one forced disconnect", got)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	m.SimulateConnectionLost(errors.New("closed"))
	if n := len(rec.getLost()); n != 0 {
		t.Errorf("OnConnectionLost called %d times after Close", n)
	}
}

func TestNilHandlers(t *testing.T) {
	d, clients := newTestDialer(t, nil)
	c := d.Dial("ws://test:9001", Handlers{})

	// None of these may panic.
	(*clients)[0].SimulateConnectionLost(errors.New("EOF"))
	c.Subscribe("t", nil)
	(*clients)[0].SimulateMessage("t", "x")
	c.Close()
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribe(t *testing.T) {
	c, m, rec := dialConnected(t)

	acked := make(chan error, 1)
	c.Subscribe("sidekick/box/1/hand", func(err error) { acked <- err })

	select {
	case err := <-acked:
		if err != nil {
			t.Fatalf("ack error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ack")
	}

	m.SimulateMessage("sidekick/box/1/hand", "detected")
	if got := rec.getMessages(); len(got) != 1 || got[0] != "sidekick/box/1/hand=detected" {
		t.Errorf("messages = %v", got)
	}
}

func TestSubscribeEmptyTopic(t *testing.T) {
	c, m, _ := dialConnected(t)

	var ackErr error
	c.Subscribe("", func(err error) { ackErr = err })

	if !errors.Is(ackErr, ErrInvalidTopic) || !errors.Is(ackErr, ErrSubscribeFailed) {
		t.Errorf("ack error = %v, want ErrSubscribeFailed wrapping ErrInvalidTopic", ackErr)
	}
	if len(m.subscribed) != 0 {
		t.Errorf("subscribed = %v, want none", m.subscribed)
	}
}

func TestSubscribeRejected(t *testing.T) {
	d, _ := newTestDialer(t, func(m *mockPahoClient) {
		m.subToken = completedToken(errors.New("not authorised"))
	})
	c := d.Dial("ws://test:9001", Handlers{})

	acked := make(chan error, 1)
	c.Subscribe("t", func(err error) { acked <- err })

	select {
	case err := <-acked:
		if !errors.Is(err, ErrSubscribeFailed) {
			t.Errorf("ack error = %v, want ErrSubscribeFailed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ack")
	}
}

func TestSubscribeDoesNotBlock(t *testing.T) {
	d, _ := newTestDialer(t, func(m *mockPahoClient) {
		m.subToken = pendingToken()
	})
	c := d.Dial("ws://test:9001", Handlers{})

	done := make(chan struct{})
	go func() {
		c.Subscribe("t", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe() blocked on a pending SUBACK")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	d, clients := newTestDialer(t, nil)
	c := d.Dial("ws://test:9001", Handlers{
		OnMessage: func(string, []byte) {
			panic("boom")
		},
	})
	c.Subscribe("t", nil)

	// Must not propagate the panic.
	(*clients)[0].SimulateMessage("t", "x")
}

func TestUnsubscribe(t *testing.T) {
	c, m, _ := dialConnected(t)

	c.Unsubscribe("a", "", "b")
	c.Unsubscribe()
	c.Unsubscribe("")

	got := m.getUnsubscribed()
	if len(got) != 1 {
		t.Fatalf("Unsubscribe requests = %v, want one", got)
	}
	if len(got[0]) != 2 || got[0][0] != "a" || got[0][1] != "b" {
		t.Errorf("Unsubscribe topics = %v, want [a b]", got[0])
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	c, m, _ := dialConnected(t)

	c.Publish("sidekick/box/1/led", "#00ff00")

	got := m.getPublished()
	if len(got) != 1 {
		t.Fatalf("published = %v, want one", got)
	}
	want := mockPublish{Topic: "sidekick/box/1/led", QoS: 1, Retained: false, Payload: "#00ff00"}
	if got[0] != want {
		t.Errorf("published = %+v, want %+v", got[0], want)
	}
}

func TestPublishDropped(t *testing.T) {
	c, m, _ := dialConnected(t)

	c.Publish("", "x")
	c.Publish("t", strings.Repeat("x", maxPayloadSize+1))

	if got := m.getPublished(); len(got) != 0 {
		t.Errorf("published = %v, want none", got)
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		qos     byte
		wantErr error
	}{
		{"valid", "t", "x", 0, nil},
		{"empty payload", "t", "", 1, nil},
		{"max payload", "t", strings.Repeat("x", maxPayloadSize), 2, nil},
		{"empty topic", "", "x", 0, ErrInvalidTopic},
		{"invalid qos", "t", "x", 3, ErrInvalidQoS},
		{"oversize payload", "t", strings.Repeat("x", maxPayloadSize+1), 0, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validatePublish() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Topic Builder Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BoxHand", topics.BoxHand("1"), "sidekick/box/1/hand"},
		{"BoxLED", topics.BoxLED("9"), "sidekick/box/9/led"},
		{"BoxLED all", topics.BoxLED("all"), "sidekick/box/all/led"},
		{"ButtonState", topics.ButtonState("4"), "sidekick/button/4/state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}
