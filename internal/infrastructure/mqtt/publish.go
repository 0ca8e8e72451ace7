package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload on topic with the configured QoS, not retained, and
// returns immediately. Invalid input is logged and dropped.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
func (c *Client) Publish(topic, payload string) {
	if err := validatePublish(topic, payload, c.qos); err != nil {
		c.logger.Warn("MQTT publish dropped", "topic", topic, "error", err)
		return
	}

	token := c.client.Publish(topic, c.qos, false, payload)
	c.await(token, ErrPublishFailed, "op", "publish", "topic", topic)
}

// validatePublish checks a publish before it is handed to paho.
func validatePublish(topic, payload string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
