package aurora

// Variable is a Beamfile-level variable available to the interpolator's
// var namespace. Name must be non-empty and unique within a Beamfile.
type Variable struct {
	Name         string
	DefaultValue string
	Description  string
}
