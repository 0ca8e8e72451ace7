package blocks

import "errors"

// Domain errors for block dispatch. They describe malformed requests from
// the host; block operations themselves never fail.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownOpcode is returned when no block has the requested opcode.
	ErrUnknownOpcode = errors.New("blocks: unknown opcode")

	// ErrMissingArgument is returned when a required argument is absent.
	ErrMissingArgument = errors.New("blocks: missing argument")

	// ErrInvalidArgument is returned when an argument is outside its menu or
	// cannot be converted to text.
	ErrInvalidArgument = errors.New("blocks: invalid argument")
)
