package common

import "errors"

// Error taxonomy shared by every pipeline stage. Stages wrap one of these
// with fmt.Errorf("%w: ...") so callers can test with errors.Is.
var (
	// ErrAcquisition: remote unreachable, bad HTTP status, or local write failure.
	ErrAcquisition = errors.New("data acquisition failed")

	// ErrMalformedInput: raster missing required metadata, wrong shape, or non-finite data.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvalidConfig: parameters outside the domain the solver or tracer accepts.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSolver: internal failure of the PFSS solver backend.
	ErrSolver = errors.New("pfss solver failed")

	// ErrTracer: internal failure of the field-line tracer backend.
	ErrTracer = errors.New("field-line tracer failed")

	// ErrFrameMismatch: seeds and model are not in the same frame and epoch.
	ErrFrameMismatch = errors.New("coordinate frame mismatch")
)
