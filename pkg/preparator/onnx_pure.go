//go:build purego || js

package preparator

import "fmt"

// NewInstanceBackend is unavailable without the onnxruntime bindings.
func NewInstanceBackend(cfg NeuralConfig) (InstanceBackend, error) {
	return nil, fmt.Errorf("%w: neural segmentation of %q needs the native build", ErrBackendUnavailable, cfg.Model)
}
