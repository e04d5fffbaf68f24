package aurora

import "time"

// RunOptions configures a Run. The zero value is not valid: call
// DefaultRunOptions and override fields from there.
type RunOptions struct {
	// MaxParallelism bounds the number of beams executing concurrently.
	// Must be >= 1.
	MaxParallelism int

	// DryRun replaces command/hook/plugin execution with "would execute"
	// events; the cache is neither read nor written.
	DryRun bool

	// CacheEnabled turns the content-addressed cache on. When false, every
	// beam runs unconditionally and no cache record is written.
	CacheEnabled bool

	// CacheDir is where the on-disk cache index lives. Empty means
	// <WorkingDir>/.aurora/cache.
	CacheDir string

	// PluginManifests lists plugin.json paths to load before the run
	// starts. Plugins are invoked in this order for lifecycle hooks.
	PluginManifests []string

	// PluginDeadline bounds every individual plugin guest invocation.
	// Zero means unbounded (not recommended outside tests).
	PluginDeadline time.Duration

	// VarOverrides supplies values that take precedence over a Variable's
	// DefaultValue, as if passed by the external collaborator's -D-style
	// command-line assignments.
	VarOverrides map[string]string

	// Env seeds the process environment overlay every beam's Env entries
	// are layered on top of. Nil means os.Environ().
	Env map[string]string

	// WorkingDir is the directory beams without an explicit WorkingDir run
	// in, and input/output globs are resolved against. Required.
	WorkingDir string

	EventSink  EventSink
	OutputSink OutputSink
}

// DefaultRunOptions returns RunOptions with every documented default
// applied: single-threaded, caching on, no plugins.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxParallelism: 1,
		CacheEnabled:   true,
	}
}

// Validate checks RunOptions' own invariants, independent of any
// Beamfile. N is clamped to at least 1 rather than silently rejected,
// except N == 0, which is an explicit caller error.
func (o *RunOptions) Validate() error {
	if o.MaxParallelism == 0 {
		return &ConfigError{Reason: "max_parallelism must be >= 1"}
	}
	if o.MaxParallelism < 0 {
		o.MaxParallelism = 1
	}
	if o.WorkingDir == "" {
		return &ConfigError{Reason: "working_dir must be set"}
	}
	return nil
}

func (o *RunOptions) eventSink() EventSink {
	if o.EventSink == nil {
		return discardSink{}
	}
	return o.EventSink
}

func (o *RunOptions) outputSink() OutputSink {
	if o.OutputSink == nil {
		return discardSink{}
	}
	return o.OutputSink
}
