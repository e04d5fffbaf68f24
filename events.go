package aurora

import "github.com/aurora-build/aurora/internal/model"

// Stream distinguishes a captured output line's origin. The concrete type
// lives in internal/model so internal/plugin (which emits PluginLog
// events from the host's log host function) doesn't import this root
// package back.
type Stream = model.Stream

const (
	Stdout = model.Stdout
	Stderr = model.Stderr
)

// Event is the common interface for everything delivered to a run's
// EventSink. A type switch on the concrete type (BeamStart, BeamComplete,
// Output, PluginLog) is the intended consumption pattern.
type Event = model.Event

// BeamStart is emitted when a beam's task begins, before condition
// evaluation or cache lookup.
type BeamStart = model.BeamStart

// BeamComplete is emitted exactly once per dispatched beam, after its
// state has become terminal.
type BeamComplete = model.BeamComplete

// Output is a single captured stdout/stderr line, tagged with the beam and
// stream it came from. Between beams there is no ordering guarantee; within
// a beam, Output events are emitted strictly between that beam's
// BeamStart and BeamComplete.
type Output = model.Output

// PluginLog is a log line a plugin emitted via its log host function.
type PluginLog = model.PluginLog

// EventSink receives events as a run progresses. Implementations must be
// safe for concurrent use: beams dispatch on independent goroutines and
// each may emit events concurrently with any other.
type EventSink = model.EventSink

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc = model.EventSinkFunc

// OutputSink receives raw output lines as commands run. Most callers can
// use EventSink's Output events instead; OutputSink exists for callers
// that want a narrower, higher-frequency channel without filtering the
// full event stream.
type OutputSink = model.OutputSink

// OutputSinkFunc adapts a plain function to OutputSink.
type OutputSinkFunc = model.OutputSinkFunc

// discardSink is used when no EventSink/OutputSink is supplied.
type discardSink struct{}

func (discardSink) Emit(Event) {}

func (discardSink) Write(string, Stream, string) {}
