package molseg

import "fmt"

//DegenerateInputError is returned when a frame does not contain enough usable
//data to build a model: fewer than 3 distinct points for triangulation, or no
//prior centers falling inside the frame.
type DegenerateInputError struct {
	Frame  int // frame identifier, -1 when not frame-scoped
	Reason string
}

func (e *DegenerateInputError) Error() string {
	if e.Frame >= 0 {
		return fmt.Sprintf("frame %d: degenerate input: %s", e.Frame, e.Reason)
	}
	return "degenerate input: " + e.Reason
}

//InconsistencyError reports a violated internal invariant between the
//assignment vector and per-component sample counts. It indicates a bug in an
//initialization path, not bad user input, and aborts the fit for the frame.
type InconsistencyError struct {
	Component int
	NSamples  int
	Assigned  int
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("component %d: n_samples=%d but assignment vector holds %d molecules",
		e.Component, e.NSamples, e.Assigned)
}

//InvalidConfigurationError is returned for configuration values that cannot
//parameterize a valid model (negative weights, degenerate covariance inputs).
type InvalidConfigurationError struct {
	Option string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.Option, e.Reason)
}
