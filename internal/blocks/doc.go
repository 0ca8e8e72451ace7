// Package blocks implements the SIDEKICK block operations over the bridge.
//
// Each block maps onto one bridge call and a SIDEKICK topic:
//
//	whenHandDetected   SubscribeEdge(sidekick/box/{BOX}/hand)
//	isHandDetected     Peek(sidekick/box/{BOX}/hand) == "detected"
//	setLedColor        Publish(sidekick/box/{BOX}/led, "#rrggbb")
//	setLedColorPreset  Publish(sidekick/box/{BOX}/led, preset)
//	setLedOff          Publish(sidekick/box/{BOX}/led, "off")
//	whenButtonAction   SubscribeForValue(sidekick/button/{BUTTON}/state, ACTION)
//	isButtonState      Peek(sidekick/button/{BUTTON}/state) == ACTION
//
// plus the generic connection, publish, subscribe and message blocks.
//
// Dispatch runs a block by opcode with JSON-decoded arguments, for hosts
// that drive the blocks over the HTTP API.
package blocks
