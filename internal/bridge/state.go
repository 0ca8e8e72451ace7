package bridge

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/sidekick-edu/sidekick-bridge/internal/metrics"
)

// Status is the broker connection status.
type Status string

// Connection statuses.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

// Connection state machine events.
const (
	eventDial      = "dial"
	eventEstablish = "establish"
	eventFail      = "fail"
	eventClose     = "close"
)

// connState tracks the connection status. Callers serialise access with the
// bridge mutex.
type connState struct {
	fsm *fsm.FSM
}

func newConnState(logger Logger) *connState {
	events := fsm.Events{
		{Name: eventDial, Src: []string{string(StatusDisconnected), string(StatusFailed)}, Dst: string(StatusConnecting)},
		{Name: eventEstablish, Src: []string{string(StatusConnecting)}, Dst: string(StatusConnected)},
		{Name: eventFail, Src: []string{string(StatusConnecting), string(StatusConnected)}, Dst: string(StatusFailed)},
		{Name: eventClose, Src: []string{string(StatusConnecting), string(StatusConnected), string(StatusFailed)}, Dst: string(StatusDisconnected)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			metrics.ConnectionState.WithLabelValues(e.Src).Set(0)
			metrics.ConnectionState.WithLabelValues(e.Dst).Set(1)
			logger.Debug("connection state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
		},
	}

	metrics.ConnectionState.WithLabelValues(string(StatusDisconnected)).Set(1)

	return &connState{
		fsm: fsm.NewFSM(string(StatusDisconnected), events, callbacks),
	}
}

// fire applies event and reports whether a transition happened.
func (s *connState) fire(event string) bool {
	if !s.fsm.Can(event) {
		return false
	}
	return s.fsm.Event(context.Background(), event) == nil
}

func (s *connState) status() Status {
	return Status(s.fsm.Current())
}
