// Package progress defines the observer contract operations report through.
package progress

import (
	"time"

	"github.com/rs/zerolog"
)

// Phase names a stage of an operation.
type Phase string

const (
	PhaseDispatch   Phase = "dispatch"
	PhasePoll       Phase = "poll"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
	PhaseTimeout    Phase = "timeout"
	PhaseCompensate Phase = "compensate"
	PhaseDeposit    Phase = "deposit"
	PhaseSpawn      Phase = "spawn"
)

// Terminal reports whether the phase ends an operation.
func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseError || p == PhaseTimeout
}

// Event is one progress notification.
type Event struct {
	Phase     Phase     `json:"phase"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Processing is true until a terminal phase is reached.
func (e Event) Processing() bool { return !e.Phase.Terminal() }

// Success is true only for the success phase.
func (e Event) Success() bool { return e.Phase == PhaseSuccess }

// Observer receives progress events. Implementations must not block.
type Observer interface {
	Progress(Event)
}

// Func adapts a function to Observer.
type Func func(Event)

func (f Func) Progress(e Event) { f(e) }

type nop struct{}

func (nop) Progress(Event) {}

// Nop discards events.
func Nop() Observer { return nop{} }

// Multi fans events out to every observer in order.
type Multi []Observer

func (m Multi) Progress(e Event) {
	for _, o := range m {
		if o != nil {
			o.Progress(e)
		}
	}
}

// Logger writes events through a zerolog logger.
type Logger struct{ log zerolog.Logger }

// NewLogger returns an Observer logging at info, or warn for error/timeout.
func NewLogger(log zerolog.Logger) *Logger { return &Logger{log: log} }

func (l *Logger) Progress(e Event) {
	ev := l.log.Info()
	if e.Phase == PhaseError || e.Phase == PhaseTimeout {
		ev = l.log.Warn()
	}
	ev.Str("op", e.Operation).Str("phase", string(e.Phase)).Msg(e.Message)
}

// Emit stamps and delivers an event. A nil observer is ignored.
func Emit(o Observer, phase Phase, operation, message string) {
	if o == nil {
		return
	}
	o.Progress(Event{Phase: phase, Operation: operation, Message: message, At: time.Now().UTC()})
}
