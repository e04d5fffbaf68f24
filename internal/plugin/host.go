// Package plugin hosts sandboxed WebAssembly plugins that observe a
// beam's lifecycle and may rewrite its commands before they run. Guest
// modules are compiled once per manifest and instantiated fresh per beam
// execution, so no plugin can carry mutable state across beams unless a
// future manifest mode explicitly asks for it.
//
// Host<->guest strings cross the boundary as a (ptr, len) pair into the
// guest's linear memory: the guest exports alloc/dealloc for the host to
// place call arguments, and packs its own return strings as a single
// uint64 (ptr<<32 | len) the host unpacks after the call returns.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/aurora-build/aurora/internal/model"
)

// CtxStore is the plugin-writable side of the interpolation ctx
// namespace: set_var publishes here, get_var and the interpolator both
// read from here. A single instance is shared by every plugin and every
// beam within one run.
type CtxStore struct {
	mu   sync.RWMutex
	vals map[string]string
}

// NewCtxStore returns an empty, concurrency-safe ctx store.
func NewCtxStore() *CtxStore {
	return &CtxStore{vals: make(map[string]string)}
}

func (s *CtxStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

func (s *CtxStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
}

// VarLookup resolves get_var's "Beamfile variable or ctx value" contract:
// ctx wins if both are set, since it reflects the most recent write.
type VarLookup func(name string) (string, bool)

// Host loads plugin manifests and runs their compiled modules. One Host
// is scoped to a single run.
type Host struct {
	ctx      *CtxStore
	vars     VarLookup
	sink     model.EventSink
	deadline time.Duration

	mu     sync.Mutex
	loaded map[string]*loadedPlugin
}

// loadedPlugin owns its own wazero runtime (and therefore its own module
// namespace). Every guest import namespace is named "env" regardless of
// which plugin it belongs to, so two plugins sharing one runtime would
// collide trying to instantiate a second host module under the same
// name; a runtime per plugin keeps capability gating and host-module
// naming independent across plugins.
type loadedPlugin struct {
	manifest *Manifest
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// NewHost creates a plugin host. deadline bounds every guest invocation;
// vars resolves get_var reads that miss the ctx store; sink receives
// PluginLog events.
func NewHost(ctx context.Context, ctxStore *CtxStore, vars VarLookup, sink model.EventSink, deadline time.Duration) *Host {
	if sink == nil {
		sink = discardEventSink{}
	}
	return &Host{
		ctx:      ctxStore,
		vars:     vars,
		sink:     sink,
		deadline: deadline,
		loaded:   make(map[string]*loadedPlugin),
	}
}

// Close releases every loaded plugin's wazero runtime.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, lp := range h.loaded {
		if err := lp.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Load compiles a plugin's module from its manifest under its own
// runtime. Compilation happens once; Instantiate is called fresh per
// beam.
func (h *Host) Load(ctx context.Context, manifestPath string) (*Manifest, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	wasmPath := m.EntryPath(filepath.Dir(manifestPath))
	code, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, &model.PluginError{Plugin: m.Name, Reason: "reading module", Err: err}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		runtime.Close(ctx)
		return nil, &model.PluginError{Plugin: m.Name, Reason: "compiling module", Err: err}
	}

	lp := &loadedPlugin{manifest: m, runtime: runtime, compiled: compiled}
	if err := h.registerHostModule(ctx, lp); err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	h.mu.Lock()
	h.loaded[m.Name] = lp
	h.mu.Unlock()

	return m, nil
}

// registerHostModule instantiates the "env" host module exposing
// log/get_var/set_var/get_env into lp's own runtime namespace, gated by
// the manifest's declared capabilities.
func (h *Host) registerHostModule(ctx context.Context, lp *loadedPlugin) error {
	m := lp.manifest
	builder := lp.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, level, msgPtr, msgLen uint32) {
			msg, _ := readString(mod, msgPtr, msgLen)
			h.sink.Emit(model.PluginLog{Plugin: m.Name, Level: logLevelName(level), Message: msg})
		}).
		Export("log")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint64 {
			name, _ := readString(mod, namePtr, nameLen)
			value := h.resolveVar(name)
			return writeReturnString(ctx, mod, value)
		}).
		Export("get_var")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, valPtr, valLen uint32) {
			name, _ := readString(mod, namePtr, nameLen)
			value, _ := readString(mod, valPtr, valLen)
			h.ctx.Set(name, value)
		}).
		Export("set_var")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint64 {
			if !m.Has(CapEnv) {
				// A capability violation traps the call rather than
				// returning an empty string, so it surfaces as a
				// PluginError fatal to the beam instead of masquerading
				// as an unset environment variable.
				panic(fmt.Sprintf("get_env: capability %q not granted to plugin %q", CapEnv, m.Name))
			}
			name, _ := readString(mod, namePtr, nameLen)
			return writeReturnString(ctx, mod, os.Getenv(name))
		}).
		Export("get_env")

	_, err := builder.Instantiate(ctx)
	if err != nil {
		return &model.PluginError{Plugin: m.Name, Reason: "registering host module", Err: err}
	}
	return nil
}

func (h *Host) resolveVar(name string) string {
	if v, ok := h.ctx.Get(name); ok {
		return v
	}
	if h.vars != nil {
		if v, ok := h.vars(name); ok {
			return v
		}
	}
	return ""
}

// Instance is a fresh guest instantiation for one beam's lifetime.
type Instance struct {
	manifest *Manifest
	mod      api.Module
	deadline time.Duration
}

// Instantiate creates a fresh instance of a loaded plugin, bound to this
// beam's execution only. The manifest's name/version exports are checked
// against the manifest metadata as a sanity check that the module matches
// its declared identity.
func (h *Host) Instantiate(ctx context.Context, name string) (*Instance, error) {
	h.mu.Lock()
	lp, ok := h.loaded[name]
	h.mu.Unlock()
	if !ok {
		return nil, &model.PluginError{Plugin: name, Reason: "plugin not loaded"}
	}

	cfg := wazero.NewModuleConfig().WithName(name + "-" + newInstanceSuffix())
	mod, err := lp.runtime.InstantiateModule(ctx, lp.compiled, cfg)
	if err != nil {
		return nil, &model.PluginError{Plugin: name, Reason: "instantiating module", Err: err}
	}

	inst := &Instance{manifest: lp.manifest, mod: mod, deadline: h.deadline}
	if err := inst.checkIdentity(ctx); err != nil {
		mod.Close(ctx)
		return nil, err
	}
	return inst, nil
}

// Close tears down this beam's guest instance.
func (inst *Instance) Close(ctx context.Context) error {
	return inst.mod.Close(ctx)
}

func (inst *Instance) checkIdentity(ctx context.Context) error {
	name, ok, err := inst.callExportedName(ctx, "plugin_name")
	if err != nil {
		return err
	}
	if ok && name != inst.manifest.Name {
		return &model.PluginError{
			Plugin: inst.manifest.Name,
			Reason: fmt.Sprintf("plugin_name export %q does not match manifest name %q", name, inst.manifest.Name),
		}
	}
	version, ok, err := inst.callExportedName(ctx, "plugin_version")
	if err != nil {
		return err
	}
	if ok && version != inst.manifest.Version {
		return &model.PluginError{
			Plugin: inst.manifest.Name,
			Reason: fmt.Sprintf("plugin_version export %q does not match manifest version %q", version, inst.manifest.Version),
		}
	}
	return nil
}

func (inst *Instance) callExportedName(ctx context.Context, export string) (string, bool, error) {
	fn := inst.mod.ExportedFunction(export)
	if fn == nil {
		return "", false, nil
	}
	results, err := fn.Call(ctx)
	if err != nil {
		return "", false, &model.PluginError{Plugin: inst.manifest.Name, Reason: export, Err: err}
	}
	if len(results) != 1 {
		return "", false, nil
	}
	s, _ := unpackReturnString(inst.mod, results[0])
	return s, true, nil
}

// withDeadline bounds a single guest invocation, per the host's
// configured plugin deadline. A zero deadline means no bound.
func (inst *Instance) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if inst.deadline <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, inst.deadline)
}

// OnBeamStart invokes the guest's optional on_beam_start export.
func (inst *Instance) OnBeamStart(ctx context.Context, beamName string) error {
	fn := inst.mod.ExportedFunction("on_beam_start")
	if fn == nil {
		return nil
	}
	ctx, cancel := inst.withDeadline(ctx)
	defer cancel()
	ptr, length, err := writeGuestString(ctx, inst.mod, beamName)
	if err != nil {
		return &model.PluginError{Plugin: inst.manifest.Name, Reason: "on_beam_start", Err: err}
	}
	defer freeGuestString(ctx, inst.mod, ptr, length)
	if _, err := fn.Call(ctx, uint64(ptr), uint64(length)); err != nil {
		return &model.PluginError{Plugin: inst.manifest.Name, Reason: "on_beam_start trapped", Err: err}
	}
	return nil
}

// OnBeamComplete invokes the guest's optional on_beam_complete export.
// status mirrors model.BeamState so plugins can branch on the outcome.
func (inst *Instance) OnBeamComplete(ctx context.Context, beamName string, status model.BeamState) error {
	fn := inst.mod.ExportedFunction("on_beam_complete")
	if fn == nil {
		return nil
	}
	ctx, cancel := inst.withDeadline(ctx)
	defer cancel()
	ptr, length, err := writeGuestString(ctx, inst.mod, beamName)
	if err != nil {
		return &model.PluginError{Plugin: inst.manifest.Name, Reason: "on_beam_complete", Err: err}
	}
	defer freeGuestString(ctx, inst.mod, ptr, length)
	if _, err := fn.Call(ctx, uint64(ptr), uint64(length), uint64(status)); err != nil {
		return &model.PluginError{Plugin: inst.manifest.Name, Reason: "on_beam_complete trapped", Err: err}
	}
	return nil
}

// TransformCommand invokes the guest's optional transform_command export.
// A plugin missing this export leaves the command unchanged.
func (inst *Instance) TransformCommand(ctx context.Context, beamName, command string) (string, error) {
	fn := inst.mod.ExportedFunction("transform_command")
	if fn == nil {
		return command, nil
	}

	ctx, cancel := inst.withDeadline(ctx)
	defer cancel()

	beamPtr, beamLen, err := writeGuestString(ctx, inst.mod, beamName)
	if err != nil {
		return "", &model.PluginError{Plugin: inst.manifest.Name, Reason: "transform_command", Err: err}
	}
	defer freeGuestString(ctx, inst.mod, beamPtr, beamLen)

	cmdPtr, cmdLen, err := writeGuestString(ctx, inst.mod, command)
	if err != nil {
		return "", &model.PluginError{Plugin: inst.manifest.Name, Reason: "transform_command", Err: err}
	}
	defer freeGuestString(ctx, inst.mod, cmdPtr, cmdLen)

	results, err := fn.Call(ctx, uint64(beamPtr), uint64(beamLen), uint64(cmdPtr), uint64(cmdLen))
	if err != nil {
		return "", &model.PluginError{Plugin: inst.manifest.Name, Reason: "transform_command trapped", Err: err}
	}
	if len(results) != 1 {
		return command, nil
	}
	out, ok := unpackReturnString(inst.mod, results[0])
	if !ok {
		return command, nil
	}
	return out, nil
}

func logLevelName(level uint32) string {
	switch level {
	case 0:
		return "debug"
	case 1:
		return "info"
	case 2:
		return "warn"
	case 3:
		return "error"
	default:
		return "info"
	}
}

type discardEventSink struct{}

func (discardEventSink) Emit(model.Event) {}
