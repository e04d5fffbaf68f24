package aurora

// RunBlock is an ordered sequence of shell lines executed together, used
// for a beam's main run and for its pre/post hooks.
type RunBlock struct {
	Commands   []string
	Shell      string // empty means platform default
	WorkingDir string // empty means the Beamfile directory
	FailFast   bool
}

// DefaultRunBlock returns a RunBlock with the documented defaults
// (fail_fast true, platform shell, Beamfile-directory working dir) applied
// to the given commands.
func DefaultRunBlock(commands ...string) RunBlock {
	return RunBlock{Commands: commands, FailFast: true}
}
