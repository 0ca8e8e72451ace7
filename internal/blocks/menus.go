package blocks

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/sidekick-edu/sidekick-bridge/internal/infrastructure/mqtt"
)

// Menu values accepted by the SIDEKICK blocks.
var (
	// BoxNumbers are the SmartBox IDs.
	BoxNumbers = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"}

	// BoxNumbersWithAll are the LED targets: every box, or all at once.
	BoxNumbersWithAll = append(slices.Clone(BoxNumbers), "all")

	// ButtonNumbers are the button IDs.
	ButtonNumbers = []string{"1", "2", "3", "4"}

	// ButtonActions are the button states a button publishes.
	ButtonActions = []string{mqtt.PayloadButtonPressed, mqtt.PayloadButtonRelease}

	// ColorPresets are the LED colour names the firmware understands.
	ColorPresets = []string{"red", "green", "blue", "yellow", "white", "orange", "purple", "cyan", "pink"}
)

// Args are the arguments of one block invocation, keyed by argument name
// (BOX, COLOR, ...). Values are JSON-decoded: strings or numbers.
type Args map[string]any

// text returns argument name as text.
func (a Args) text(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	s, ok := toText(v)
	if !ok {
		return "", fmt.Errorf("%w: %s has type %T", ErrInvalidArgument, name, v)
	}
	return s, nil
}

// menu returns argument name if it is one of items.
func (a Args) menu(name string, items []string) (string, error) {
	s, err := a.text(name)
	if err != nil {
		return "", err
	}
	if !slices.Contains(items, s) {
		return "", fmt.Errorf("%w: %s=%q, want one of %s", ErrInvalidArgument, name, s, strings.Join(items, ", "))
	}
	return s, nil
}

// toText converts a JSON-decoded scalar to its text form. Integral numbers
// have no fractional part, so a numeric menu value 3 becomes "3".
func toText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// HexColor converts a colour-picker value to "#rrggbb".
//
// Accepted forms: a number (0xRRGGBB as decimal, e.g. 16711680 for red), a
// decimal string, or "#rrggbb" in either case.
func HexColor(v any) (string, error) {
	var n int64
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return "", fmt.Errorf("%w: colour %v is not an integer", ErrInvalidArgument, x)
		}
		if x < 0 || x >= math.MaxInt64 {
			return "", fmt.Errorf("%w: colour %v out of range", ErrInvalidArgument, x)
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return "", fmt.Errorf("%w: colour %q: %w", ErrInvalidArgument, x, err)
		}
		n = i
	case string:
		if hex, ok := strings.CutPrefix(x, "#"); ok {
			if len(hex) != 6 {
				return "", fmt.Errorf("%w: colour %q is not #rrggbb", ErrInvalidArgument, x)
			}
			if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
				return "", fmt.Errorf("%w: colour %q is not #rrggbb", ErrInvalidArgument, x)
			}
			return "#" + strings.ToLower(hex), nil
		}
		i, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: colour %q: %w", ErrInvalidArgument, x, err)
		}
		n = i
	default:
		return "", fmt.Errorf("%w: colour has type %T", ErrInvalidArgument, v)
	}

	if n < 0 {
		return "", fmt.Errorf("%w: colour %d is negative", ErrInvalidArgument, n)
	}
	// Keep the low six hex digits, as the colour picker does.
	return fmt.Sprintf("#%06x", n&0xffffff), nil
}
