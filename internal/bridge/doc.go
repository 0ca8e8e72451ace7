// Package bridge connects a tick-driven block program to an MQTT broker.
//
// A Bridge owns one broker connection and a registry of subscribed topics.
// The program polls it synchronously, once per tick, through two kinds of
// read:
//
//   - Edge-triggered: SubscribeEdge and SubscribeForValue return true once
//     per inbound message, then reset.
//   - Level-triggered: Peek and Message return the latest payload and leave
//     it unconsumed.
//
// The transport delivers messages and connection transitions on its own
// goroutines. The bridge merges them under a single mutex, so a read
// never observes a half-applied update.
//
// # Program lifecycle
//
// Reads and publishes are served only while the program is running
// ("armed"). OnProgramStop unsubscribes every topic and clears the registry,
// so nothing leaks into the next run:
//
//	b, _ := bridge.New(bridge.Options{Dialer: dialer, Lifecycle: runtime})
//	b.Connect("ws://10.42.0.1:9001")
//	runtime.StartProgram()
//	if b.SubscribeEdge("sidekick/box/1/hand") {
//	    b.Publish("sidekick/box/1/led", "#00ff00")
//	}
//
// # Failure handling
//
// No public method returns an error or blocks on the network. Connection
// failures move the bridge to StatusFailed and are reported to the host as
// peripheral-error notifications. Reconnection is caller-driven through
// ToggleConnect; there is no automatic retry.
package bridge
