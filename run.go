package aurora

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/aurora-build/aurora/internal/cache"
	"github.com/aurora-build/aurora/internal/condition"
	"github.com/aurora-build/aurora/internal/ctxlog"
	"github.com/aurora-build/aurora/internal/dag"
	"github.com/aurora-build/aurora/internal/executor"
	"github.com/aurora-build/aurora/internal/fingerprint"
	"github.com/aurora-build/aurora/internal/interp"
	"github.com/aurora-build/aurora/internal/plugin"
	"github.com/aurora-build/aurora/internal/shell"
)

// Run is a single execution of a target beam (and its transitive
// dependencies) against a validated Beamfile. Its Beamfile and derived
// DAG are immutable for its lifetime; it owns the cache store, the
// interpolation ctx namespace, and the plugin registry, all scoped to
// this one run.
type Run struct {
	bf     *Beamfile
	graph  *dag.Graph
	target string
	opts   RunOptions

	cacheStore *cache.Store
	pluginHost *plugin.Host
	pluginList []string
	ctxStore   *plugin.CtxStore
	varValues  map[string]cty.Value
	baseEnv    map[string]string

	report *RunReport
}

// NewRun validates bf and opts, resolves the target, builds the DAG, and
// loads any declared plugins. It performs no execution; call Execute to
// run it.
func NewRun(ctx context.Context, bf *Beamfile, requestedTarget string, opts RunOptions) (*Run, error) {
	if err := bf.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	target, err := bf.ResolveTarget(requestedTarget)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(bf.Beams))
	deps := make(map[string][]string, len(bf.Beams))
	for name, beam := range bf.Beams {
		names = append(names, name)
		deps[name] = beam.DependsOn
	}
	// Beam map iteration order is random; sort so the graph's own
	// declaration order (used for layer tie-breaking) is deterministic
	// across runs of the same Beamfile.
	sort.Strings(names)

	graph, err := dag.New(names, deps)
	if err != nil {
		return nil, err
	}
	if cycle := graph.DetectCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	varValues := make(map[string]cty.Value, len(bf.Variables))
	for _, v := range bf.Variables {
		value := v.DefaultValue
		if override, ok := opts.VarOverrides[v.Name]; ok {
			value = override
		}
		varValues[v.Name] = cty.StringVal(value)
	}

	baseEnv := opts.Env
	if baseEnv == nil {
		baseEnv = environToMap(os.Environ())
	}

	run := &Run{
		bf:        bf,
		graph:     graph,
		target:    target,
		opts:      opts,
		ctxStore:  plugin.NewCtxStore(),
		varValues: varValues,
		baseEnv:   baseEnv,
	}

	if !opts.DryRun && opts.CacheEnabled {
		cacheDir := opts.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(opts.WorkingDir, ".aurora", "cache")
		}
		cachePath := filepath.Join(cacheDir, "index")
		store, err := cache.Open(cachePath, 0)
		if err != nil {
			return nil, err
		}
		run.cacheStore = store
	} else {
		run.cacheStore = cache.Disabled()
	}

	if len(opts.PluginManifests) > 0 {
		host := plugin.NewHost(ctx, run.ctxStore, run.lookupVar, opts.eventSink(), opts.PluginDeadline)
		for _, manifestPath := range opts.PluginManifests {
			m, err := host.Load(ctx, manifestPath)
			if err != nil {
				host.Close(ctx)
				return nil, err
			}
			run.pluginList = append(run.pluginList, m.Name)
		}
		run.pluginHost = host
	}

	return run, nil
}

// Close releases the run's plugin host, if one was loaded. Callers should
// defer it after NewRun succeeds.
func (r *Run) Close(ctx context.Context) error {
	if r.pluginHost == nil {
		return nil
	}
	return r.pluginHost.Close(ctx)
}

func (r *Run) lookupVar(name string) (string, bool) {
	v, ok := r.varValues[name]
	if !ok {
		return "", false
	}
	return v.AsString(), true
}

// Execute runs the target and its transitive dependencies to completion
// and returns the resulting RunReport. The returned error is non-nil only
// for failures that abort the run before or independent of per-beam
// execution (context cancellation propagated from the scheduler); a beam
// that merely fails is reflected in the RunReport, not in this error.
func (r *Run) Execute(ctx context.Context) (*RunReport, error) {
	targets, err := r.graph.Ancestors([]string{r.target})
	if err != nil {
		return nil, err
	}

	r.report = newRunReport(targets)
	sink := r.opts.eventSink()

	dispatch := func(ctx context.Context, name string) executor.Outcome {
		state := r.dispatchBeam(ctx, name)
		if state == Failed {
			return executor.OutcomeBlocking
		}
		return executor.OutcomeOK
	}

	onBlocked := func(name string) {
		entry := r.report.entry(name)
		entry.finish(Blocked, 0, nil, false, fmt.Errorf("blocked: upstream dependency did not succeed"))
		sink.Emit(BeamComplete{Name: name, State: Blocked})
	}

	if err := executor.Run(ctx, r.graph, targets, r.opts.MaxParallelism, dispatch, onBlocked); err != nil {
		return r.report, err
	}
	return r.report, nil
}

// dispatchBeam runs C8 steps (a)-(g) for a single beam and returns its
// terminal state.
func (r *Run) dispatchBeam(ctx context.Context, name string) BeamState {
	beam := r.bf.Beams[name]
	entry := r.report.entry(name)
	sink := r.opts.eventSink()
	logger := ctxlog.FromContext(ctx).With("beam", name)
	started := runNow()

	sink.Emit(BeamStart{Name: name})

	// The manifest doesn't scope which plugin observes which beam; every
	// loaded plugin observes every beam, in load order, and each gets its
	// own fresh guest instance for this beam's lifetime.
	// A dry run invokes no plugin guest at all.
	var pluginInsts []*plugin.Instance
	if r.pluginHost != nil && !r.opts.DryRun {
		for _, pname := range r.pluginList {
			inst, err := r.pluginHost.Instantiate(ctx, pname)
			if err != nil {
				logger.Warn("plugin instantiation failed", "plugin", pname, "error", err)
				continue
			}
			pluginInsts = append(pluginInsts, inst)
			if err := inst.OnBeamStart(ctx, name); err != nil {
				logger.Warn("plugin on_beam_start failed", "plugin", pname, "error", err)
			}
		}
		defer func() {
			for _, inst := range pluginInsts {
				inst.Close(ctx)
			}
		}()
	}

	finalize := func(state BeamState, exitCodes []int, cacheHit bool, beamErr error) BeamState {
		dur := runSince(started)
		entry.finish(state, dur, exitCodes, cacheHit, beamErr)
		for _, inst := range pluginInsts {
			if err := inst.OnBeamComplete(ctx, name, state); err != nil {
				logger.Warn("plugin on_beam_complete failed", "error", err)
			}
		}
		sink.Emit(BeamComplete{Name: name, State: state, Duration: dur, CacheHit: cacheHit, ExitCodes: exitCodes})
		return state
	}

	if r.opts.DryRun {
		sink.Emit(Output{Beam: name, Stream: Stdout, Line: fmt.Sprintf("would execute %d command(s)", len(beam.Run.Commands))})
		return finalize(Succeeded, nil, false, nil)
	}

	workingDir := beam.Run.WorkingDir
	if workingDir == "" {
		workingDir = r.opts.WorkingDir
	}

	interpCtx := &interp.Context{
		Var:      r.varValues,
		Env:      r.baseEnv,
		BeamName: name,
		Ctx:      ctxCtxStore{r.ctxStore},
	}

	env, err := r.resolveEnv(beam, interpCtx)
	if err != nil {
		return finalize(Failed, nil, false, err)
	}
	// From here on, ${env.*} resolves against the beam's own overlay, not
	// just the process environment it was built from.
	interpCtx.Env = env

	interpolatedWorkingDir, err := interp.Interpolate(workingDir, interpCtx)
	if err != nil {
		return finalize(Failed, nil, false, err)
	}

	cond, err := condition.InterpolateTree(beam.Condition, func(s string) (string, error) {
		return interp.Interpolate(s, interpCtx)
	})
	if err != nil {
		return finalize(Failed, nil, false, &ConditionError{Beam: name, Err: err})
	}
	admit, err := condition.Evaluate(cond, interpolatedWorkingDir, env)
	if err != nil {
		return finalize(Failed, nil, false, &ConditionError{Beam: name, Err: err})
	}
	if !admit {
		return finalize(SkippedCondition, nil, false, nil)
	}

	allLines, err := r.interpolateAllCommands(beam, interpCtx)
	if err != nil {
		return finalize(Failed, nil, false, err)
	}

	var fp fingerprint.Fingerprint
	var inputs []fingerprint.Input
	if r.opts.CacheEnabled {
		inputs, err = fingerprint.ExpandInputs(beam.Inputs, interpolatedWorkingDir)
		if err != nil {
			return finalize(Failed, nil, false, err)
		}
		fp, err = fingerprint.Compute(name, allLines, inputs, env)
		if err != nil {
			return finalize(Failed, nil, false, err)
		}
		if rec, hit, lookupErr := r.cacheStore.Lookup(fp); lookupErr == nil && hit {
			if rec.OutputsValid(interpolatedWorkingDir) {
				return finalize(SkippedCached, rec.ExitCodes, true, nil)
			}
			logger.Warn("cache hit outputs missing or modified; re-executing")
		} else if lookupErr != nil {
			logger.Warn("cache lookup failed", "error", lookupErr)
		}
	}

	exitCodes, runErr := r.runBlocks(ctx, name, beam, env, interpolatedWorkingDir, pluginInsts, sink, entry)
	if runErr != nil {
		return finalize(Failed, exitCodes, false, runErr)
	}

	if r.opts.CacheEnabled {
		outputHashes, err := fingerprint.HashOutputs(beam.Outputs, interpolatedWorkingDir)
		if err != nil {
			logger.Warn("hashing beam outputs failed; cache record will not verify outputs", "error", err)
		}
		rec := cache.Record{
			BeamName:  name,
			ExitCodes: exitCodes,
			Recorded:  runNow(),
			Outputs:   cache.OutputsFromHashes(outputHashes),
		}
		if err := r.cacheStore.Record(fp, rec); err != nil {
			logger.Warn("cache record failed", "error", err)
		}
	}

	return finalize(Succeeded, exitCodes, false, nil)
}

// runBlocks runs pre-hook, run, and post-hook in order, honoring each
// block's fail_fast setting independently.
func (r *Run) runBlocks(ctx context.Context, name string, beam *Beam, env map[string]string, workingDir string, pluginInsts []*plugin.Instance, sink EventSink, entry *BeamReport) ([]int, error) {
	var allExitCodes []int
	outSink := r.opts.outputSink()

	blocks := []*RunBlock{}
	if beam.PreHook != nil {
		blocks = append(blocks, beam.PreHook)
	}
	blocks = append(blocks, &beam.Run)
	if beam.PostHook != nil {
		blocks = append(blocks, beam.PostHook)
	}

	envSlice := mapToEnviron(env)

	for _, block := range blocks {
		for _, command := range block.Commands {
			finalCommand := command
			for _, inst := range pluginInsts {
				transformed, err := inst.TransformCommand(ctx, name, finalCommand)
				if err != nil {
					return allExitCodes, err
				}
				finalCommand = transformed
			}

			code, err := shell.Run(ctx, block.Shell, workingDir, envSlice, finalCommand, func(stderr bool, line string) {
				stream := Stdout
				if stderr {
					stream = Stderr
				}
				entry.appendLine(stream, line)
				outSink.Write(name, stream, line)
				sink.Emit(Output{Beam: name, Stream: stream, Line: line})
			})
			if err != nil {
				return allExitCodes, err
			}
			allExitCodes = append(allExitCodes, code)

			if code != 0 {
				if block.FailFast {
					return allExitCodes, &RunError{Beam: name, Command: finalCommand, ExitCode: code}
				}
			}
		}
		// A non-fail-fast block still fails the beam overall if any of its
		// commands exited non-zero.
		if !block.FailFast {
			for _, code := range allExitCodes {
				if code != 0 {
					return allExitCodes, &RunError{Beam: name, Command: "", ExitCode: code}
				}
			}
		}
	}
	return allExitCodes, nil
}

// resolveEnv interpolates and merges the beam's own env block on top of
// the run's base environment.
func (r *Run) resolveEnv(beam *Beam, interpCtx *interp.Context) (map[string]string, error) {
	out := make(map[string]string, len(r.baseEnv)+len(beam.Env))
	for k, v := range r.baseEnv {
		out[k] = v
	}
	resolved, err := interp.InterpolateMap(beam.Env, interpCtx)
	if err != nil {
		return nil, err
	}
	for k, v := range resolved {
		out[k] = v
	}
	return out, nil
}

func (r *Run) interpolateAllCommands(beam *Beam, interpCtx *interp.Context) ([]string, error) {
	var lines []string
	if beam.PreHook != nil {
		resolved, err := interp.InterpolateAll(beam.PreHook.Commands, interpCtx)
		if err != nil {
			return nil, err
		}
		lines = append(lines, resolved...)
	}
	resolved, err := interp.InterpolateAll(beam.Run.Commands, interpCtx)
	if err != nil {
		return nil, err
	}
	lines = append(lines, resolved...)
	if beam.PostHook != nil {
		resolved, err := interp.InterpolateAll(beam.PostHook.Commands, interpCtx)
		if err != nil {
			return nil, err
		}
		lines = append(lines, resolved...)
	}
	return lines, nil
}

// ctxCtxStore adapts *plugin.CtxStore (string values) to interp.CtxStore
// (cty.Value reads), since the interpolator's ctx namespace must yield
// typed values even though the plugin ABI only ever deals in strings.
type ctxCtxStore struct {
	store *plugin.CtxStore
}

func (c ctxCtxStore) Get(key string) (cty.Value, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return cty.NilVal, false
	}
	return cty.StringVal(v), true
}

func environToMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func mapToEnviron(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// runNow and runSince are indirections over time.Now so execution timing
// has a single seam; nothing in this package needs to fake the clock
// today, but duration arithmetic is centralized here rather than spread
// across every finalize call.
func runNow() time.Time { return time.Now() }

func runSince(t time.Time) time.Duration { return time.Since(t) }
