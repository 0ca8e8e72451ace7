package bridge

import (
	"fmt"

	"github.com/sidekick-edu/sidekick-bridge/internal/metrics"
)

// topicState is the registry entry for one subscribed topic.
type topicState struct {
	lastMessage   string
	hasNewMessage bool

	// epoch is the registry epoch the entry was created in.
	epoch uint64
}

// SubscribeEdge ensures topic is subscribed and reports whether a message
// arrived since the last edge read of topic. Each message is reported once.
// Messages arriving between two polls collapse into one true.
//
// Returns false without side effects unless connected and armed.
func (b *Bridge) SubscribeEdge(topic string) bool {
	b.mu.Lock()
	conn, ok := b.readyLocked()
	if !ok {
		b.mu.Unlock()
		return false
	}
	ts, sub := b.ensureTopicLocked(topic)
	fired := ts.hasNewMessage
	ts.hasNewMessage = false
	b.mu.Unlock()

	b.subscribe(conn, sub)
	if fired {
		metrics.ReadsFired.WithLabelValues(metrics.ReadEdge).Inc()
	}
	return fired
}

// SubscribeForValue is SubscribeEdge filtered on payload: a new message is
// consumed only if it equals expected at the time of the call. A new message
// with another payload is left unconsumed for other matchers on the same
// topic, so the first matching caller wins.
func (b *Bridge) SubscribeForValue(topic, expected string) bool {
	b.mu.Lock()
	conn, ok := b.readyLocked()
	if !ok {
		b.mu.Unlock()
		return false
	}
	ts, sub := b.ensureTopicLocked(topic)
	fired := ts.hasNewMessage && ts.lastMessage == expected
	if fired {
		ts.hasNewMessage = false
	}
	b.mu.Unlock()

	b.subscribe(conn, sub)
	if fired {
		metrics.ReadsFired.WithLabelValues(metrics.ReadValue).Inc()
	}
	return fired
}

// Peek ensures topic is subscribed and returns its last message without
// consuming it. Returns "" unless connected and armed, and until the first
// message arrives.
func (b *Bridge) Peek(topic string) string {
	b.mu.Lock()
	conn, ok := b.readyLocked()
	if !ok {
		b.mu.Unlock()
		return ""
	}
	ts, sub := b.ensureTopicLocked(topic)
	msg := ts.lastMessage
	b.mu.Unlock()

	b.subscribe(conn, sub)
	return msg
}

// Message returns the last message of an already subscribed topic. Unlike
// Peek it never subscribes.
func (b *Bridge) Message(topic string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.readyLocked(); !ok {
		return ""
	}
	if ts, ok := b.topics[topic]; ok {
		return ts.lastMessage
	}
	return ""
}

// BrokerAddress returns the target of the current or last pending
// connection, or "" after Disconnect.
func (b *Bridge) BrokerAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

// Armed reports whether the program is running.
func (b *Bridge) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

// TopicCount returns the number of registered topics.
func (b *Bridge) TopicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// pendingSubscribe describes a subscribe request to send after the lock is
// released.
type pendingSubscribe struct {
	topic string
	gen   uint64
	epoch uint64
}

// ensureTopicLocked returns the entry for topic, creating it if needed.
// The returned request is non-nil only when the entry was just created.
func (b *Bridge) ensureTopicLocked(topic string) (*topicState, *pendingSubscribe) {
	if ts, ok := b.topics[topic]; ok {
		return ts, nil
	}
	ts := &topicState{epoch: b.epoch}
	b.topics[topic] = ts
	metrics.RegisteredTopics.Set(float64(len(b.topics)))
	return ts, &pendingSubscribe{topic: topic, gen: b.generation, epoch: b.epoch}
}

// clearTopicsLocked empties the registry and starts a new epoch.
func (b *Bridge) clearTopicsLocked() {
	b.epoch++
	if len(b.topics) == 0 {
		return
	}
	b.topics = make(map[string]*topicState)
	metrics.RegisteredTopics.Set(0)
}

func (b *Bridge) subscribe(conn Conn, req *pendingSubscribe) {
	if req == nil {
		return
	}
	b.logger.Debug("subscribing", "topic", req.topic)
	conn.Subscribe(req.topic, func(err error) {
		b.handleSubscribeAck(req, err)
	})
}

// handleSubscribeAck drops the entry of a rejected subscription. Acks for a
// replaced connection or a cleared registry are ignored.
func (b *Bridge) handleSubscribeAck(req *pendingSubscribe, err error) {
	if err == nil {
		return
	}

	b.mu.Lock()
	ts, ok := b.topics[req.topic]
	stale := req.gen != b.generation || req.epoch != b.epoch || !ok || ts.epoch != req.epoch
	if !stale {
		delete(b.topics, req.topic)
		metrics.RegisteredTopics.Set(float64(len(b.topics)))
	}
	b.mu.Unlock()

	if stale {
		return
	}
	b.logger.Warn("subscription rejected", "topic", req.topic,
		"error", fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, req.topic, err))
}

// handleMessage records an inbound message. Messages for unregistered
// topics, from a replaced connection, or while disarmed are dropped.
func (b *Bridge) handleMessage(gen uint64, topic string, payload []byte) {
	b.mu.Lock()
	ts, ok := b.topics[topic]
	accept := ok && b.armed && gen == b.generation
	if accept {
		ts.lastMessage = string(payload)
		ts.hasNewMessage = true
	}
	b.mu.Unlock()

	if !accept {
		metrics.MessagesReceived.WithLabelValues(metrics.ResultDropped).Inc()
		return
	}
	metrics.MessagesReceived.WithLabelValues(metrics.ResultAccepted).Inc()
}
