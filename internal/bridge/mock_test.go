package bridge

import (
	"sync"
)

// MockDialer implements Dialer for testing. Every Dial returns a new
// MockConn that records the callbacks it was given.
type MockDialer struct {
	mu        sync.Mutex
	conns     []*MockConn
	addresses []string
	loopback  bool
	nilConn   bool
}

func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

func (d *MockDialer) Dial(address string, cb Callbacks) Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses = append(d.addresses, address)
	if d.nilConn {
		return nil
	}
	c := &MockConn{
		cb:       cb,
		loopback: d.loopback,
		subs:     make(map[string]bool),
		acks:     make(map[string]func(error)),
	}
	d.conns = append(d.conns, c)
	return c
}

// Last returns the most recently dialled connection.
func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *MockDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addresses)
}

// MockConn implements Conn for testing.
type MockConn struct {
	mu           sync.Mutex
	cb           Callbacks
	loopback     bool
	subs         map[string]bool
	acks         map[string]func(error)
	subscribed   []string
	unsubscribed []string
	published    []mockPublish
	closed       bool
}

type mockPublish struct {
	Topic   string
	Payload string
}

func (c *MockConn) Subscribe(topic string, ack func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	c.subs[topic] = true
	c.acks[topic] = ack
}

func (c *MockConn) Unsubscribe(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	for _, t := range topics {
		delete(c.subs, t)
	}
}

func (c *MockConn) Publish(topic, payload string) {
	c.mu.Lock()
	c.published = append(c.published, mockPublish{Topic: topic, Payload: payload})
	deliver := c.loopback && c.subs[topic]
	c.mu.Unlock()

	if deliver {
		c.cb.OnMessage(topic, []byte(payload))
	}
}

func (c *MockConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// SimulateConnect completes the broker handshake.
func (c *MockConn) SimulateConnect() {
	c.cb.OnConnect()
}

// SimulateConnectFailed fails the broker handshake.
func (c *MockConn) SimulateConnectFailed(err error) {
	c.cb.OnConnectFailed(err)
}

// SimulateConnectionLost drops an established connection.
func (c *MockConn) SimulateConnectionLost(err error) {
	c.cb.OnConnectionLost(err)
}

// SimulateMessage delivers an inbound message.
func (c *MockConn) SimulateMessage(topic, payload string) {
	c.cb.OnMessage(topic, []byte(payload))
}

// SimulateAck answers the pending subscribe request for topic.
func (c *MockConn) SimulateAck(topic string, err error) {
	c.mu.Lock()
	ack, ok := c.acks[topic]
	c.mu.Unlock()
	if ok {
		ack(err)
	}
}

// AckFunc returns the ack callback recorded for topic, even after
// Unsubscribe, to simulate a late acknowledgement.
func (c *MockConn) AckFunc(topic string) func(error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks[topic]
}

func (c *MockConn) GetSubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

func (c *MockConn) GetUnsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

func (c *MockConn) GetPublished() []mockPublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mockPublish(nil), c.published...)
}

func (c *MockConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MockNotifier implements Notifier for testing.
type MockNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *MockNotifier) Notify(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *MockNotifier) GetEvents() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

// Count returns the number of events of the given kind.
func (n *MockNotifier) Count(kind EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, ev := range n.events {
		if ev.Kind == kind {
			count++
		}
	}
	return count
}

// MockLifecycle implements Lifecycle for testing.
type MockLifecycle struct {
	mu    sync.Mutex
	start []func()
	stop  []func()
}

func (l *MockLifecycle) OnStart(handler func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = append(l.start, handler)
}

func (l *MockLifecycle) OnStop(handler func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop = append(l.stop, handler)
}

func (l *MockLifecycle) Start() {
	l.mu.Lock()
	handlers := append([]func(){}, l.start...)
	l.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (l *MockLifecycle) Stop() {
	l.mu.Lock()
	handlers := append([]func(){}, l.stop...)
	l.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}
