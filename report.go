package aurora

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxLogLines bounds the captured log lines retained per beam in a
// BeamReport.
const maxLogLines = 500

// BeamReport is one beam's final record within a RunReport. Fields are
// only safe to read after the beam's state has become Terminal; while a
// beam is running, use RunReport.Beam or RunReport.All for a consistent
// read.
type BeamReport struct {
	mu sync.Mutex

	Name      string
	State     BeamState
	Duration  time.Duration
	ExitCodes []int
	CacheHit  bool
	Lines     []LogLine
	Err       error
}

// LogLine is one bounded, captured output line.
type LogLine struct {
	Stream Stream
	Line   string
}

func (r *BeamReport) appendLine(stream Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Lines) >= maxLogLines {
		return
	}
	r.Lines = append(r.Lines, LogLine{Stream: stream, Line: line})
}

func (r *BeamReport) finish(state BeamState, dur time.Duration, exitCodes []int, cacheHit bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = state
	r.Duration = dur
	r.ExitCodes = exitCodes
	r.CacheHit = cacheHit
	r.Err = err
}

func (r *BeamReport) snapshot() BeamReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]LogLine, len(r.Lines))
	copy(lines, r.Lines)
	return BeamReport{
		Name:      r.Name,
		State:     r.State,
		Duration:  r.Duration,
		ExitCodes: append([]int(nil), r.ExitCodes...),
		CacheHit:  r.CacheHit,
		Lines:     lines,
		Err:       r.Err,
	}
}

// RunReport is the shared-writer, per-beam-locked result of a Run: a
// concurrent mapping keyed by beam name with per-entry locking, not a
// single mutex over the whole report, since independent beams finish
// independently and shouldn't contend with each other to record it.
type RunReport struct {
	// ID uniquely identifies this run, for correlating its emitted events
	// and log lines (including plugin log lines) across an external
	// aggregator that may be watching several runs at once.
	ID uuid.UUID

	entries sync.Map // string -> *BeamReport
}

func newRunReport(beamNames []string) *RunReport {
	rr := &RunReport{ID: uuid.New()}
	for _, name := range beamNames {
		rr.entries.Store(name, &BeamReport{Name: name, State: Pending})
	}
	return rr
}

func (rr *RunReport) entry(name string) *BeamReport {
	v, ok := rr.entries.Load(name)
	if !ok {
		return nil
	}
	return v.(*BeamReport)
}

// Beam returns a point-in-time snapshot of a single beam's report.
func (rr *RunReport) Beam(name string) (BeamReport, bool) {
	e := rr.entry(name)
	if e == nil {
		return BeamReport{}, false
	}
	return e.snapshot(), true
}

// All returns a point-in-time snapshot of every beam's report.
func (rr *RunReport) All() map[string]BeamReport {
	out := make(map[string]BeamReport)
	rr.entries.Range(func(k, v any) bool {
		out[k.(string)] = v.(*BeamReport).snapshot()
		return true
	})
	return out
}

// Failed reports whether the run's overall exit status is failure: any
// beam terminated in Failed or Blocked.
func (rr *RunReport) Failed() bool {
	failed := false
	rr.entries.Range(func(_, v any) bool {
		switch v.(*BeamReport).snapshot().State {
		case Failed, Blocked:
			failed = true
			return false
		}
		return true
	})
	return failed
}
