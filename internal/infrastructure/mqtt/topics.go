package mqtt

import "fmt"

// TopicPrefix is the root of every SIDEKICK device topic.
//
// Device topics follow {domain}/{deviceKind}/{deviceId}/{attribute}. The
// payload conventions belong to the device firmware:
//   - box hand sensors publish "detected"
//   - buttons publish "pressed" or "released"
//   - box LEDs accept "#rrggbb", a colour preset name, or "off"
const TopicPrefix = "sidekick"

// Payloads published by SIDEKICK firmware.
const (
	PayloadHandDetected  = "detected"
	PayloadButtonPressed = "pressed"
	PayloadButtonRelease = "released"
	PayloadLEDOff        = "off"
)

// Topics provides builders for SIDEKICK MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	ledTopic := topics.BoxLED("3")
//	// Returns: "sidekick/box/3/led"
type Topics struct{}

// BoxHand returns the topic a box's hand sensor publishes on.
//
// Example: sidekick/box/1/hand
func (Topics) BoxHand(box string) string {
	return fmt.Sprintf("%s/box/%s/hand", TopicPrefix, box)
}

// BoxLED returns the command topic for a box's LED. box may be "all".
//
// Example: sidekick/box/all/led
func (Topics) BoxLED(box string) string {
	return fmt.Sprintf("%s/box/%s/led", TopicPrefix, box)
}

// ButtonState returns the topic a button publishes its state on.
//
// Example: sidekick/button/2/state
func (Topics) ButtonState(button string) string {
	return fmt.Sprintf("%s/button/%s/state", TopicPrefix, button)
}
