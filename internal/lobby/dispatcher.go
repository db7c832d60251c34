package lobby

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/protocol"
)

// ErrRejected marks a game-rule violation. Handlers wrap it so the
// dispatcher logs the rejection at debug level instead of as a failure.
var ErrRejected = errors.New("action rejected")

// Event is a typed payload addressed by name on the wire.
type Event interface {
	EventName() string
}

// Ready is emitted after a client is seated and has received READY.
type Ready struct{}

func (Ready) EventName() string { return "READY_EVENT" }

// Leave is emitted after a client is removed from the lobby, for any reason.
type Leave struct{}

func (Leave) EventName() string { return "LEAVE_EVENT" }

var internalEvents = map[string]bool{
	Ready{}.EventName(): true,
	Leave{}.EventName(): true,
}

type handler func(ev any, from Client) error

type entry struct {
	decode   func(json.RawMessage) (any, error)
	handlers []handler
}

// Dispatcher routes named events to the handlers registered for them.
// Registration happens once while the lobby is built; after that the table
// is only read from the lobby loop.
type Dispatcher struct {
	entries map[string]*entry
	log     *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{entries: make(map[string]*entry), log: log}
}

// On appends fn to the handlers for E. Handlers for one event run in the
// order they were registered.
func On[E Event](d *Dispatcher, fn func(E, Client) error) {
	var zero E
	name := zero.EventName()

	e, ok := d.entries[name]
	if !ok {
		e = &entry{decode: func(raw json.RawMessage) (any, error) {
			var ev E
			if len(raw) == 0 {
				return ev, nil
			}
			err := json.Unmarshal(raw, &ev)
			return ev, err
		}}
		d.entries[name] = e
	}
	e.handlers = append(e.handlers, func(ev any, from Client) error {
		typed, ok := ev.(E)
		if !ok {
			return fmt.Errorf("event %s: handler wants %T, got %T", name, zero, ev)
		}
		return fn(typed, from)
	})
}

// Handles reports whether any handler is registered for name.
func (d *Dispatcher) Handles(name string) bool {
	_, ok := d.entries[name]
	return ok
}

// Dispatch decodes an inbound DISPATCH envelope and runs its handlers.
// Unknown and internal event names are dropped; so is a payload that does
// not decode.
func (d *Dispatcher) Dispatch(env protocol.Envelope, from Client) {
	if internalEvents[env.Type] {
		d.log.Debug("dropping internal event sent by client", zap.String("event", env.Type), zap.String("session", from.ID()))
		return
	}
	e, ok := d.entries[env.Type]
	if !ok {
		return
	}
	ev, err := e.decode(env.Data)
	if err != nil {
		d.log.Warn("failed to decode event payload",
			zap.String("event", env.Type),
			zap.String("session", from.ID()),
			zap.Error(err))
		return
	}
	d.run(env.Type, e, ev, from)
}

// Emit runs the handlers for an event produced by the server itself.
func (d *Dispatcher) Emit(ev Event, from Client) {
	e, ok := d.entries[ev.EventName()]
	if !ok {
		return
	}
	d.run(ev.EventName(), e, ev, from)
}

func (d *Dispatcher) run(name string, e *entry, ev any, from Client) {
	for i, h := range e.handlers {
		d.invoke(name, i, h, ev, from)
	}
}

func (d *Dispatcher) invoke(name string, i int, h handler, ev any, from Client) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked",
				zap.String("event", name),
				zap.Int("handler", i),
				zap.String("session", from.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	err := h(ev, from)
	switch {
	case err == nil:
	case errors.Is(err, ErrRejected):
		d.log.Debug("event rejected", zap.String("event", name), zap.String("session", from.ID()), zap.Error(err))
	default:
		d.log.Error("event handler failed",
			zap.String("event", name),
			zap.Int("handler", i),
			zap.String("session", from.ID()),
			zap.Error(err))
	}
}
