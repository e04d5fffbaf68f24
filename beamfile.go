package aurora

import "fmt"

// Beamfile is the validated, immutable-after-load input to a Run: an
// ordered collection of Variables, an unordered mapping of beam name to
// Beam, and an optional default beam name.
//
// This package never reads or writes Beamfile text; a Beamfile value is
// handed in fully formed by an external collaborator.
type Beamfile struct {
	Variables   []Variable
	Beams       map[string]*Beam
	DefaultBeam string // empty means no default
}

// NewBeamfile returns an empty Beamfile ready for Variables/Beams to be
// populated directly.
func NewBeamfile() *Beamfile {
	return &Beamfile{Beams: make(map[string]*Beam)}
}

// Validate checks the structural invariants that hold on a Beamfile as a
// whole: unique variable names, unique beam names (guaranteed by the map
// but checked for belt-and-suspenders against construction bugs), every
// beam individually valid, every depends_on entry resolvable, and a
// default beam (if named) that exists. It does not check for cycles —
// that is the DAG builder's job, since cycle detection needs graph
// construction anyway.
func (bf *Beamfile) Validate() error {
	seen := make(map[string]bool, len(bf.Variables))
	for _, v := range bf.Variables {
		if v.Name == "" {
			return &ConfigError{Reason: "variable name must not be empty"}
		}
		if seen[v.Name] {
			return &ConfigError{Reason: fmt.Sprintf("duplicate variable name %q", v.Name)}
		}
		seen[v.Name] = true
	}

	for name, beam := range bf.Beams {
		if beam.Name != name {
			return &ConfigError{Reason: fmt.Sprintf("beam map key %q does not match beam name %q", name, beam.Name)}
		}
		if err := beam.Validate(); err != nil {
			return err
		}
		for _, dep := range beam.DependsOn {
			if _, ok := bf.Beams[dep]; !ok {
				return &UnknownDependencyError{From: name, To: dep}
			}
		}
	}

	if bf.DefaultBeam != "" {
		if _, ok := bf.Beams[bf.DefaultBeam]; !ok {
			return &ConfigError{Reason: fmt.Sprintf("unknown default beam %q", bf.DefaultBeam)}
		}
	}

	return nil
}

// Variable looks up a variable by name.
func (bf *Beamfile) Variable(name string) (Variable, bool) {
	for _, v := range bf.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// ResolveTarget returns the beam name to run: the explicitly requested
// name if non-empty, otherwise the Beamfile's default beam. Returns an
// error if neither is available or the requested beam does not exist.
func (bf *Beamfile) ResolveTarget(requested string) (string, error) {
	name := requested
	if name == "" {
		name = bf.DefaultBeam
	}
	if name == "" {
		return "", &ConfigError{Reason: "no target beam requested and no default beam configured"}
	}
	if _, ok := bf.Beams[name]; !ok {
		return "", &ConfigError{Reason: fmt.Sprintf("unknown beam %q", name)}
	}
	return name, nil
}
