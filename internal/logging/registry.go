package logging

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotInitialized is returned by Register before Init.
var ErrNotInitialized = errors.New("logging: not initialized")

// registry is the process-wide logging state. It is created by Init and torn
// down by Shutdown; coordinators only ever see it through a Handle.
type registry struct {
	base    zerolog.Logger
	cfg     Config
	handles map[string]*Handle
}

var (
	regMu sync.Mutex
	reg   *registry
)

// Init configures the process-wide base logger. Calling Init again replaces
// the base logger for handles registered afterwards.
func Init(cfg Config) {
	regMu.Lock()
	defer regMu.Unlock()

	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	base := New(cfg)
	if reg == nil {
		reg = &registry{handles: make(map[string]*Handle)}
	}
	reg.base = base
	reg.cfg = cfg
}

// Shutdown closes every open handle and drops the base logger.
func Shutdown() {
	regMu.Lock()
	r := reg
	reg = nil
	regMu.Unlock()

	if r == nil {
		return
	}
	for _, h := range r.handles {
		h.closed.Store(true)
	}
}

// Initialized reports whether Init has run since the last Shutdown.
func Initialized() bool {
	regMu.Lock()
	defer regMu.Unlock()
	return reg != nil
}

// SetLevel changes the base level for every handle that has no override.
func SetLevel(level zerolog.Level) {
	regMu.Lock()
	defer regMu.Unlock()

	if reg == nil {
		return
	}
	reg.cfg.Level = level
	reg.base = reg.base.Level(level)
	for _, h := range reg.handles {
		if !h.override.Load() {
			h.level.Store(int32(level))
		}
	}
}

// Register creates a handle for one coordinator instance. The handle carries
// its own id and can have its level changed without touching other instances.
func Register(component string) (*Handle, error) {
	regMu.Lock()
	defer regMu.Unlock()

	if reg == nil {
		return nil, ErrNotInitialized
	}

	id := uuid.NewString()
	h := &Handle{id: id, component: component}
	h.logger = reg.base.Level(zerolog.TraceLevel).With().
		Str("component", component).
		Str("instance", id[:8]).
		Logger().
		Hook(levelGate{h})
	h.level.Store(int32(reg.cfg.Level))
	reg.handles[id] = h
	return h, nil
}

// Registered returns the number of open handles.
func Registered() int {
	regMu.Lock()
	defer regMu.Unlock()
	if reg == nil {
		return 0
	}
	return len(reg.handles)
}

// Handle is an instance's view of the logging registry.
type Handle struct {
	id        string
	component string
	logger    zerolog.Logger

	level    atomic.Int32
	override atomic.Bool
	closed   atomic.Bool
}

// ID returns the unique instance id.
func (h *Handle) ID() string {
	return h.id
}

// Logger returns the handle's logger. Level changes made later through
// SetLevel apply to loggers already handed out; after Close they discard
// everything.
func (h *Handle) Logger() zerolog.Logger {
	if h == nil || h.closed.Load() {
		return zerolog.Nop()
	}
	return h.logger
}

// SetLevel overrides the level for this instance only.
func (h *Handle) SetLevel(level zerolog.Level) {
	h.level.Store(int32(level))
	h.override.Store(true)
}

// Level returns the handle's current level.
func (h *Handle) Level() zerolog.Level {
	return zerolog.Level(h.level.Load())
}

// Close unregisters the handle. Further Logger calls return a disabled logger.
func (h *Handle) Close() {
	if h == nil || h.closed.Swap(true) {
		return
	}
	regMu.Lock()
	defer regMu.Unlock()
	if reg != nil {
		delete(reg.handles, h.id)
	}
}

// levelGate filters events against the handle's live level.
type levelGate struct{ h *Handle }

func (g levelGate) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if g.h.closed.Load() || level < zerolog.Level(g.h.level.Load()) {
		e.Discard()
	}
}
