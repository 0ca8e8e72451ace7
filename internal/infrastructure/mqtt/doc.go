// Package mqtt provides the MQTT transport for the SIDEKICK bridge.
//
// This package manages:
//   - Non-blocking connection attempts to a broker (tcp, ssl, ws, wss)
//   - Fire-and-forget publish, subscribe and unsubscribe
//   - Panic-safe delivery of inbound messages
//   - Topic builders for the SIDEKICK device namespace
//
// # Architecture
//
// Block programs poll the bridge once per tick and must never wait on the
// network. Every Client method therefore hands its packet to paho and
// returns; acknowledgements are awaited on background goroutines and
// failures are logged or reported through callbacks.
//
//	Block program → Bridge → mqtt.Client ↔ Broker ↔ SIDEKICK devices
//
// # Reconnection
//
// Auto-reconnect and connect-retry are disabled. A Client makes exactly one
// connection attempt; after a failure or a lost connection the caller dials
// again with a fresh client ID.
//
// # Usage
//
//	dialer := mqtt.NewDialer(cfg.MQTT, logger)
//	client := dialer.Dial("ws://10.42.0.1:9001", mqtt.Handlers{
//	    OnConnect: func() {
//	        log.Println("connected")
//	    },
//	    OnMessage: func(topic string, payload []byte) {
//	        log.Printf("Received: %s = %s", topic, payload)
//	    },
//	})
//	defer client.Close()
//
//	client.Subscribe(mqtt.Topics{}.BoxHand("1"), nil)
//	client.Publish(mqtt.Topics{}.BoxLED("1"), "#00ff00")
package mqtt
