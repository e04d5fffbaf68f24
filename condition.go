package aurora

import "github.com/aurora-build/aurora/internal/model"

// Condition is a guard that decides whether a beam's run proceeds.
// FileExists is the baseline guard; And, Or, Not, EnvSet and EnvEquals are
// conservative extensions — all of them pure and side-effect-free. The
// concrete type lives in internal/model so the internal packages that
// build and evaluate condition trees don't have to import this root
// package back; it is aliased here under its public name.
type Condition = model.Condition

// FileExists admits iff path refers to an existing filesystem entry, after
// symlink resolution, relative to the beam's working directory. Path is the
// raw (not yet interpolated) operand; interpolation happens before
// evaluation.
type FileExists = model.FileExists

// EnvSet admits iff the named environment variable is set in the resolved
// env overlay for the beam.
type EnvSet = model.EnvSet

// EnvEquals admits iff the named environment variable is set and equals
// Value in the resolved env overlay for the beam.
type EnvEquals = model.EnvEquals

// And admits iff every one of Conditions admits. An empty And admits
// (vacuous truth), matching Or's empty-case complement.
type And = model.And

// Or admits iff at least one of Conditions admits; And/Not let callers
// build richer trees on top of it.
type Or = model.Or

// Not admits iff Inner does not.
type Not = model.Not
