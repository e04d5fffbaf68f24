package aurora

import "github.com/aurora-build/aurora/internal/model"

// The error taxonomy's concrete types live in internal/model so that the
// internal packages that construct them (internal/dag, internal/cache,
// internal/fingerprint, internal/interp, internal/plugin) don't have to
// import this root package back; each is aliased here under its public
// name.

// ConfigError reports a structural problem with a Beamfile discovered before
// any beam executes: an unknown dependency, a cycle, a duplicate beam, or an
// unknown default beam.
type ConfigError = model.ConfigError

// UnknownDependencyError reports a depends_on entry naming a beam that does
// not exist in the Beamfile.
type UnknownDependencyError = model.UnknownDependencyError

// CyclicDependencyError reports a dependency cycle. Cycle is the minimal
// cycle found, ordered and closed (first element repeated as the last).
type CyclicDependencyError = model.CyclicDependencyError

// InterpolationError reports a failure resolving a ${...} placeholder.
type InterpolationError = model.InterpolationError

// InterpolationErrorKind distinguishes the three ways interpolation can fail.
type InterpolationErrorKind = model.InterpolationErrorKind

const (
	// UnknownNamespace means the placeholder's namespace (the part before
	// the first '.') is not one of var/env/beam/ctx.
	UnknownNamespace = model.UnknownNamespace
	// UnknownVariable means the namespace is recognized but the key within
	// it has no value.
	UnknownVariable = model.UnknownVariable
	// MalformedPlaceholder means the ${...} syntax itself is broken: an
	// unterminated brace or an empty key.
	MalformedPlaceholder = model.MalformedPlaceholder
)

// ConditionError reports a failure evaluating a beam's condition guard,
// after interpolation of its operand.
type ConditionError = model.ConditionError

// RunError reports a beam command that exited non-zero.
type RunError = model.RunError

// CacheError reports a cache index I/O or deserialization failure. It is
// non-fatal: the caller logs it and treats the operation as a miss (for
// reads) or a no-op (for writes).
type CacheError = model.CacheError

// PluginError reports a plugin load, trap, capability violation, or
// deadline failure. Fatal to the beam that triggered it.
type PluginError = model.PluginError

// InputMissingError reports a fingerprint computation that referenced a
// declared input file which does not exist. This is a hard failure of the
// owning beam, not a silent cache miss.
type InputMissingError = model.InputMissingError
