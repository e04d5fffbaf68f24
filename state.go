package aurora

import "github.com/aurora-build/aurora/internal/model"

// BeamState is a beam's execution state within a single run. The
// concrete type lives in internal/model so internal/plugin (whose guest
// ABI passes a beam's terminal status to on_beam_complete) doesn't have
// to import this root package back.
type BeamState = model.BeamState

const (
	Pending           = model.Pending
	Ready             = model.Ready
	Running           = model.Running
	Succeeded         = model.Succeeded
	SkippedCached     = model.SkippedCached
	SkippedCondition  = model.SkippedCondition
	Failed            = model.Failed
	Blocked           = model.Blocked
)
