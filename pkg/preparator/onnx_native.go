//go:build !purego && !js

package preparator

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// modelDivisor is the spatial size multiple StarDist networks require.
const modelDivisor = 16

var (
	ortOnce sync.Once
	ortErr  error
)

func initOnnxRuntime(library string) error {
	ortOnce.Do(func() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

type onnxBackend struct {
	session *ort.DynamicAdvancedSession
	options *ort.SessionOptions
	nchw    bool
}

// NewInstanceBackend loads a StarDist model exported to ONNX. The model
// takes one normalized grayscale image and returns one tensor holding the
// probability followed by the ray distances per grid cell.
func NewInstanceBackend(cfg NeuralConfig) (InstanceBackend, error) {
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("%w: model %q: %v", ErrBackendUnavailable, cfg.Model, err)
	}
	if err := initOnnxRuntime(cfg.Library); err != nil {
		return nil, fmt.Errorf("%w: onnxruntime: %v", ErrBackendUnavailable, err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: reading model info: %v", ErrBackendUnavailable, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("%w: model %q has no inputs or outputs", ErrBackendUnavailable, cfg.Model)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	_ = options.SetIntraOpNumThreads(runtime.NumCPU())
	_ = options.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(cfg.Model,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		options.Destroy()
		return nil, fmt.Errorf("%w: creating session: %v", ErrBackendUnavailable, err)
	}

	dims := inputs[0].Dimensions
	nchw := len(dims) == 4 && dims[1] == 1 && dims[3] != 1
	return &onnxBackend{session: session, options: options, nchw: nchw}, nil
}

func (b *onnxBackend) Predict(ctx context.Context, tile []float32, rows, cols int) (StarDistOutput, error) {
	if err := ctx.Err(); err != nil {
		return StarDistOutput{}, err
	}
	pr := (rows + modelDivisor - 1) / modelDivisor * modelDivisor
	pc := (cols + modelDivisor - 1) / modelDivisor * modelDivisor
	padded := make([]float32, pr*pc)
	for r := 0; r < pr; r++ {
		sr := reflectPad(r, rows)
		for c := 0; c < pc; c++ {
			padded[r*pc+c] = tile[sr*cols+reflectPad(c, cols)]
		}
	}

	shape := ort.NewShape(1, int64(pr), int64(pc), 1)
	if b.nchw {
		shape = ort.NewShape(1, 1, int64(pr), int64(pc))
	}
	input, err := ort.NewTensor(shape, padded)
	if err != nil {
		return StarDistOutput{}, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{input}, outputs); err != nil {
		return StarDistOutput{}, fmt.Errorf("running model: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return StarDistOutput{}, fmt.Errorf("%w: model output is not float32", ErrBackendUnavailable)
	}
	data := tensor.GetData()
	outShape := tensor.GetShape()
	if len(outShape) != 4 {
		return StarDistOutput{}, fmt.Errorf("%w: unexpected output shape %v", ErrBackendUnavailable, outShape)
	}
	// NHWC: [1, h, w, 1+rays]
	gh, gw, ch := int(outShape[1]), int(outShape[2]), int(outShape[3])
	if gh == 0 || gw == 0 || ch < 4 {
		return StarDistOutput{}, fmt.Errorf("%w: unexpected output shape %v", ErrBackendUnavailable, outShape)
	}
	grid := pr / gh
	out := StarDistOutput{
		Rows:  (rows + grid - 1) / grid,
		Cols:  (cols + grid - 1) / grid,
		Grid:  grid,
		NRays: ch - 1,
	}
	out.Prob = make([]float32, out.Rows*out.Cols)
	out.Dist = make([]float32, out.Rows*out.Cols*out.NRays)
	for r := 0; r < out.Rows; r++ {
		for c := 0; c < out.Cols; c++ {
			src := data[(r*gw+c)*ch : (r*gw+c+1)*ch]
			i := r*out.Cols + c
			out.Prob[i] = src[0]
			copy(out.Dist[i*out.NRays:(i+1)*out.NRays], src[1:])
		}
	}
	return out, nil
}

func (b *onnxBackend) Close() error {
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	if b.options != nil {
		b.options.Destroy()
		b.options = nil
	}
	return nil
}

// reflectPad mirrors indices past the end of a tile back into it.
func reflectPad(i, n int) int {
	for i >= n {
		i = 2*n - 2 - i
		if n == 1 || i < 0 {
			return 0
		}
	}
	return i
}
