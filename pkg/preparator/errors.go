package preparator

import "errors"

var (
	// ErrInputRejected marks an input the pipeline cannot process: wrong
	// dimensionality, an out-of-range channel, or too little memory. The task
	// is skipped and the batch continues.
	ErrInputRejected = errors.New("input rejected")

	// ErrConfigInvalid marks missing or contradictory parameters. It is
	// raised before any task starts.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrBackendUnavailable marks a neural segmentation backend that is not
	// installed or cannot load its model.
	ErrBackendUnavailable = errors.New("segmentation backend unavailable")
)
