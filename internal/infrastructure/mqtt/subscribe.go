package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe requests a subscription to topic and returns immediately.
//
// ack, if non-nil, is called exactly once from another goroutine when the
// broker answers: nil on success, or an error wrapping ErrSubscribeFailed if
// the request timed out or the broker refused the filter. For an invalid
// topic ack is called before Subscribe returns.
//
// Messages for the topic are delivered to Handlers.OnMessage.
func (c *Client) Subscribe(topic string, ack func(err error)) {
	if ack == nil {
		ack = func(error) {}
	}
	if topic == "" {
		ack(fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrInvalidTopic))
		return
	}

	token := c.client.Subscribe(topic, c.qos, c.wrapHandler())
	go func() {
		err := awaitSubscribe(topic, token)
		if err != nil {
			c.logger.Warn("MQTT subscribe failed", "topic", topic, "error", err)
		}
		ack(err)
	}()
}

// awaitSubscribe waits for the SUBACK and checks the granted QoS.
func awaitSubscribe(topic string, token pahomqtt.Token) error {
	if err := waitToken(token, ErrSubscribeFailed); err != nil {
		return err
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subscribeRejected {
			return fmt.Errorf("%w: broker refused %q", ErrSubscribeFailed, topic)
		}
	}
	return nil
}

// Unsubscribe tears down subscriptions in a single request and returns
// immediately. Empty topics are skipped.
func (c *Client) Unsubscribe(topics ...string) {
	filtered := make([]string, 0, len(topics))
	for _, t := range topics {
		if t != "" {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return
	}

	token := c.client.Unsubscribe(filtered...)
	c.await(token, ErrUnsubscribeFailed, "op", "unsubscribe", "topics", filtered)
}
