// Package condition evaluates an already-interpolated Condition tree
// against the filesystem and an environment snapshot, deciding whether a
// beam should run (Admit) or be skipped (Skip). Evaluation is
// side-effect-free: no guard may run a command or mutate state.
package condition

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aurora-build/aurora/internal/model"
)

// InterpolateTree returns a copy of c with every string operand passed
// through interpolate, leaving the tree shape unchanged. A nil c returns
// nil.
func InterpolateTree(c model.Condition, interpolate func(string) (string, error)) (model.Condition, error) {
	if c == nil {
		return nil, nil
	}
	switch g := c.(type) {
	case model.FileExists:
		path, err := interpolate(g.Path)
		if err != nil {
			return nil, err
		}
		return model.FileExists{Path: path}, nil
	case model.EnvSet:
		name, err := interpolate(g.Name)
		if err != nil {
			return nil, err
		}
		return model.EnvSet{Name: name}, nil
	case model.EnvEquals:
		name, err := interpolate(g.Name)
		if err != nil {
			return nil, err
		}
		value, err := interpolate(g.Value)
		if err != nil {
			return nil, err
		}
		return model.EnvEquals{Name: name, Value: value}, nil
	case model.And:
		subs, err := interpolateAll(g.Conditions, interpolate)
		if err != nil {
			return nil, err
		}
		return model.And{Conditions: subs}, nil
	case model.Or:
		subs, err := interpolateAll(g.Conditions, interpolate)
		if err != nil {
			return nil, err
		}
		return model.Or{Conditions: subs}, nil
	case model.Not:
		inner, err := InterpolateTree(g.Inner, interpolate)
		if err != nil {
			return nil, err
		}
		return model.Not{Inner: inner}, nil
	default:
		return nil, fmt.Errorf("condition: unsupported guard type %T", c)
	}
}

func interpolateAll(conditions []model.Condition, interpolate func(string) (string, error)) ([]model.Condition, error) {
	out := make([]model.Condition, len(conditions))
	for i, c := range conditions {
		interpolated, err := InterpolateTree(c, interpolate)
		if err != nil {
			return nil, err
		}
		out[i] = interpolated
	}
	return out, nil
}

// Evaluate decides Admit (true) or Skip (false) for an already-interpolated
// condition tree, relative to workingDir. A nil Condition always admits.
func Evaluate(c model.Condition, workingDir string, env map[string]string) (bool, error) {
	if c == nil {
		return true, nil
	}
	return eval(c, workingDir, env)
}

func eval(c model.Condition, workingDir string, env map[string]string) (bool, error) {
	switch g := c.(type) {
	case model.FileExists:
		path := g.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(workingDir, path)
		}
		_, err := os.Stat(path) // os.Stat follows symlinks.
		return err == nil, nil

	case model.EnvSet:
		_, ok := env[g.Name]
		return ok, nil

	case model.EnvEquals:
		v, ok := env[g.Name]
		return ok && v == g.Value, nil

	case model.And:
		for _, sub := range g.Conditions {
			admit, err := eval(sub, workingDir, env)
			if err != nil {
				return false, err
			}
			if !admit {
				return false, nil
			}
		}
		return true, nil

	case model.Or:
		for _, sub := range g.Conditions {
			admit, err := eval(sub, workingDir, env)
			if err != nil {
				return false, err
			}
			if admit {
				return true, nil
			}
		}
		return false, nil

	case model.Not:
		admit, err := eval(g.Inner, workingDir, env)
		if err != nil {
			return false, err
		}
		return !admit, nil

	default:
		return false, fmt.Errorf("condition: unsupported guard type %T", c)
	}
}
