package host

import (
	"sync"
	"time"

	"github.com/sidekick-edu/sidekick-bridge/internal/bridge"
)

// Logger is the logging interface used by the runtime.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Observer receives every notification the bridge produces.
type Observer func(ev bridge.Event)

// Runtime is the host side of the bridge: it owns the program lifecycle
// and fans bridge notifications out to observers.
//
// It satisfies bridge.Lifecycle and bridge.Notifier.
//
// Thread Safety: All methods are safe for concurrent use. Lifecycle
// handlers run on the caller's goroutine, one transition at a time.
type Runtime struct {
	logger Logger

	// transition serialises StartProgram and StopProgram so handlers of
	// two transitions never interleave.
	transition sync.Mutex

	mu        sync.Mutex
	running   bool
	runs      uint64
	startedAt time.Time
	onStart   []func()
	onStop    []func()
	observers map[uint64]Observer
	nextID    uint64
}

// New creates a runtime with no program running. logger may be nil.
func New(logger Logger) *Runtime {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Runtime{
		logger:    logger,
		observers: make(map[uint64]Observer),
	}
}

// OnStart registers a program-start handler.
func (r *Runtime) OnStart(handler func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStart = append(r.onStart, handler)
}

// OnStop registers a program-stop handler.
func (r *Runtime) OnStop(handler func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStop = append(r.onStop, handler)
}

// StartProgram fires program-start. It returns false, without firing, if a
// program is already running.
func (r *Runtime) StartProgram() bool {
	r.transition.Lock()
	defer r.transition.Unlock()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return false
	}
	r.running = true
	r.runs++
	r.startedAt = time.Now()
	run := r.runs
	handlers := append([]func(){}, r.onStart...)
	r.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	r.logger.Info("program started", "run", run)
	return true
}

// StopProgram fires program-stop. It returns false, without firing, if no
// program is running.
func (r *Runtime) StopProgram() bool {
	r.transition.Lock()
	defer r.transition.Unlock()

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	r.running = false
	run := r.runs
	elapsed := time.Since(r.startedAt)
	handlers := append([]func(){}, r.onStop...)
	r.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	r.logger.Info("program stopped", "run", run, "duration", elapsed.String())
	return true
}

// Running reports whether a program is running.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Runs returns the number of programs started since the runtime was created.
func (r *Runtime) Runs() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Subscribe registers an observer for bridge notifications and returns a
// function that removes it.
func (r *Runtime) Subscribe(obs Observer) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.observers[id] = obs
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

// Notify delivers ev to every observer.
func (r *Runtime) Notify(ev bridge.Event) {
	r.mu.Lock()
	observers := make([]Observer, 0, len(r.observers))
	for _, obs := range r.observers {
		observers = append(observers, obs)
	}
	r.mu.Unlock()

	switch ev.Kind {
	case bridge.EventError:
		r.logger.Warn("peripheral error", "message", ev.Message, "source", ev.SourceID)
	default:
		r.logger.Debug("peripheral notification", "kind", string(ev.Kind))
	}

	for _, obs := range observers {
		obs(ev)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
