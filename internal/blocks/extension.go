package blocks

import (
	"fmt"

	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/mqtt"
)

// Bridge is the part of the broker bridge the blocks use.
// It is satisfied by *bridge.Bridge.
type Bridge interface {
	ToggleConnect(address string)
	SubscribeEdge(topic string) bool
	SubscribeForValue(topic, expected string) bool
	Peek(topic string) string
	Message(topic string) string
	Publish(topic, payload string)
}

// Kind is how the host renders and schedules a block.
type Kind string

// Block kinds.
const (
	// KindCommand blocks perform an action and return nothing.
	KindCommand Kind = "command"

	// KindHat blocks are edge-triggered: the host polls them every tick and
	// starts the attached script when one returns true.
	KindHat Kind = "hat"

	// KindBoolean blocks report a level-triggered condition.
	KindBoolean Kind = "boolean"

	// KindReporter blocks report a value.
	KindReporter Kind = "reporter"
)

// Argument describes one block argument.
type Argument struct {
	Name    string   `json:"name"`
	Default string   `json:"default,omitempty"`
	Menu    []string `json:"menu,omitempty"`
}

// Block describes one block opcode.
type Block struct {
	Opcode    string     `json:"opcode"`
	Kind      Kind       `json:"kind"`
	Arguments []Argument `json:"arguments,omitempty"`

	run func(e *Extension, args Args) (any, error)
}

// Extension implements the SIDEKICK blocks over a bridge.
//
// Hat blocks map to edge-triggered reads, boolean blocks to level-triggered
// reads. No block returns an error because of connectivity: while the
// bridge is disconnected or the program is stopped, hats and booleans
// report false, reporters report "" and commands do nothing.
type Extension struct {
	bridge Bridge
	topics mqtt.Topics
}

// New creates the block extension.
func New(b Bridge) *Extension {
	return &Extension{bridge: b}
}

// Connection toggles the broker connection.
func (e *Extension) Connection(broker string) {
	e.bridge.ToggleConnect(broker)
}

// WhenHandDetected fires once per hand detection at box.
func (e *Extension) WhenHandDetected(box string) bool {
	return e.bridge.SubscribeEdge(e.topics.BoxHand(box))
}

// IsHandDetected reports whether box's last hand message was a detection.
func (e *Extension) IsHandDetected(box string) bool {
	return e.bridge.Peek(e.topics.BoxHand(box)) == mqtt.PayloadHandDetected
}

// SetLedColor sets box's LED to a "#rrggbb" colour.
func (e *Extension) SetLedColor(box, hex string) {
	e.bridge.Publish(e.topics.BoxLED(box), hex)
}

// SetLedColorPreset sets box's LED to a named colour.
func (e *Extension) SetLedColorPreset(box, preset string) {
	e.bridge.Publish(e.topics.BoxLED(box), preset)
}

// SetLedOff switches box's LED off.
func (e *Extension) SetLedOff(box string) {
	e.bridge.Publish(e.topics.BoxLED(box), mqtt.PayloadLEDOff)
}

// WhenButtonAction fires once per button message equal to action.
func (e *Extension) WhenButtonAction(button, action string) bool {
	return e.bridge.SubscribeForValue(e.topics.ButtonState(button), action)
}

// IsButtonState reports whether button's last state equals action.
func (e *Extension) IsButtonState(button, action string) bool {
	return e.bridge.Peek(e.topics.ButtonState(button)) == action
}

// Publish sends message on topic.
func (e *Extension) Publish(topic, message string) {
	e.bridge.Publish(topic, message)
}

// Subscribe fires once per message on topic.
func (e *Extension) Subscribe(topic string) bool {
	return e.bridge.SubscribeEdge(topic)
}

// Message reports the last message on an already subscribed topic.
func (e *Extension) Message(topic string) string {
	return e.bridge.Message(topic)
}

// Blocks returns the block catalogue in display order.
func Blocks() []Block {
	out := make([]Block, len(catalogue))
	copy(out, catalogue)
	return out
}

// Dispatch runs the block with the given opcode. It returns the block's
// value: a bool for hat and boolean blocks, a string for reporters and nil
// for commands. Errors are returned only for unknown opcodes and malformed
// arguments.
func (e *Extension) Dispatch(opcode string, args Args) (any, error) {
	block, ok := lookup[opcode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOpcode, opcode)
	}
	if args == nil {
		args = Args{}
	}
	return block.run(e, args)
}

var (
	argBox       = Argument{Name: "BOX", Default: "1", Menu: BoxNumbers}
	argBoxAll    = Argument{Name: "BOX", Default: "1", Menu: BoxNumbersWithAll}
	argButton    = Argument{Name: "BUTTON", Default: "1", Menu: ButtonNumbers}
	argAction    = Argument{Name: "ACTION", Default: mqtt.PayloadButtonPressed, Menu: ButtonActions}
	argPreset    = Argument{Name: "COLOR", Default: "green", Menu: ColorPresets}
	argColor     = Argument{Name: "COLOR", Default: "#00ff00"}
	argBroker    = Argument{Name: "BROKER", Default: "ws://10.42.0.1:9001"}
	argTopic     = Argument{Name: "TOPIC", Default: "sidekick/box/1/hand"}
	argMessageIn = Argument{Name: "MESSAGE", Default: "on"}
)

var catalogue = []Block{
	{
		Opcode:    "connection",
		Kind:      KindCommand,
		Arguments: []Argument{argBroker},
		run: func(e *Extension, args Args) (any, error) {
			broker, err := args.text("BROKER")
			if err != nil {
				return nil, err
			}
			e.Connection(broker)
			return nil, nil
		},
	},
	{
		Opcode:    "whenHandDetected",
		Kind:      KindHat,
		Arguments: []Argument{argBox},
		run: func(e *Extension, args Args) (any, error) {
			box, err := args.menu("BOX", BoxNumbers)
			if err != nil {
				return nil, err
			}
			return e.WhenHandDetected(box), nil
		},
	},
	{
		Opcode:    "isHandDetected",
		Kind:      KindBoolean,
		Arguments: []Argument{argBox},
		run: func(e *Extension, args Args) (any, error) {
			box, err := args.menu("BOX", BoxNumbers)
			if err != nil {
				return nil, err
			}
			return e.IsHandDetected(box), nil
		},
	},
	{
		Opcode:    "setLedColor",
		Kind:      KindCommand,
		Arguments: []Argument{argBoxAll, argColor},
		run: func(e *Extension, args Args) (any, error) {
			box, err := args.menu("BOX", BoxNumbersWithAll)
			if err != nil {
				return nil, err
			}
			raw, ok := args["COLOR"]
			if !ok || raw == nil {
				return nil, fmt.Errorf("%w: COLOR", ErrMissingArgument)
			}
			hex, err := HexColor(raw)
			if err != nil {
				return nil, err
			}
			e.SetLedColor(box, hex)
			return nil, nil
		},
	},
	{
		Opcode:    "setLedColorPreset",
		Kind:      KindCommand,
		Arguments: []Argument{argBoxAll, argPreset},
		run: func(e *Extension, args Args) (any, error) {
			box, err := args.menu("BOX", BoxNumbersWithAll)
			if err != nil {
				return nil, err
			}
			preset, err := args.menu("COLOR", ColorPresets)
			if err != nil {
				return nil, err
			}
			e.SetLedColorPreset(box, preset)
			return nil, nil
		},
	},
	{
		Opcode:    "setLedOff",
		Kind:      KindCommand,
		Arguments: []Argument{argBoxAll},
		run: func(e *Extension, args Args) (any, error) {
			box, err := args.menu("BOX", BoxNumbersWithAll)
			if err != nil {
				return nil, err
			}
			e.SetLedOff(box)
			return nil, nil
		},
	},
	{
		Opcode:    "whenButtonAction",
		Kind:      KindHat,
		Arguments: []Argument{argButton, argAction},
		run: func(e *Extension, args Args) (any, error) {
			button, action, err := buttonArgs(args)
			if err != nil {
				return nil, err
			}
			return e.WhenButtonAction(button, action), nil
		},
	},
	{
		Opcode:    "isButtonState",
		Kind:      KindBoolean,
		Arguments: []Argument{argButton, argAction},
		run: func(e *Extension, args Args) (any, error) {
			button, action, err := buttonArgs(args)
			if err != nil {
				return nil, err
			}
			return e.IsButtonState(button, action), nil
		},
	},
	{
		Opcode:    "publish",
		Kind:      KindCommand,
		Arguments: []Argument{argTopic, argMessageIn},
		run: func(e *Extension, args Args) (any, error) {
			topic, err := args.text("TOPIC")
			if err != nil {
				return nil, err
			}
			message, err := args.text("MESSAGE")
			if err != nil {
				return nil, err
			}
			e.Publish(topic, message)
			return nil, nil
		},
	},
	{
		Opcode:    "subscribe",
		Kind:      KindHat,
		Arguments: []Argument{argTopic},
		run: func(e *Extension, args Args) (any, error) {
			topic, err := args.text("TOPIC")
			if err != nil {
				return nil, err
			}
			return e.Subscribe(topic), nil
		},
	},
	{
		Opcode:    "message",
		Kind:      KindReporter,
		Arguments: []Argument{argTopic},
		run: func(e *Extension, args Args) (any, error) {
			topic, err := args.text("TOPIC")
			if err != nil {
				return nil, err
			}
			return e.Message(topic), nil
		},
	},
}

var lookup = func() map[string]Block {
	m := make(map[string]Block, len(catalogue))
	for _, b := range catalogue {
		m[b.Opcode] = b
	}
	return m
}()

func buttonArgs(args Args) (button, action string, err error) {
	button, err = args.menu("BUTTON", ButtonNumbers)
	if err != nil {
		return "", "", err
	}
	action, err = args.menu("ACTION", ButtonActions)
	if err != nil {
		return "", "", err
	}
	return button, action, nil
}
