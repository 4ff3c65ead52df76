//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"errors"
	"syscall/js"

	"adipoprep/pkg/config"
	"adipoprep/pkg/imageio"
	"adipoprep/pkg/preparator"
)

var lastPreview []byte

func main() {
	js.Global().Set("prepareImage", js.FuncOf(prepareImage))
	js.Global().Set("renderPreview", js.FuncOf(renderPreview))
	select {} // block forever
}

// memorySink keeps the outputs of the single task in memory.
type memorySink struct {
	tiff    []byte
	report  string
	preview []byte
	stats   []interface{}
}

func (s *memorySink) Write(task preparator.Task, res *preparator.TaskResult, report []byte) error {
	var buf bytes.Buffer
	if err := imageio.Encode(&buf, res.Output); err != nil {
		return err
	}
	s.tiff = buf.Bytes()
	s.report = string(report)
	if preview, err := imageio.PreviewBytes(res); err == nil {
		s.preview = preview
	}
	for _, r := range res.Results {
		data := r.Seg.Data.DataFloat32()[:res.Output.Width*res.Output.Height]
		area := 0
		for _, v := range data {
			if v != 0 {
				area++
			}
		}
		s.stats = append(s.stats, map[string]interface{}{
			"channel": r.Source(),
			"kind":    r.Seg.Kind.String(),
			"low":     r.Bounds.Low,
			"high":    r.Bounds.High,
			"count":   r.Seg.Count,
			"area":    area,
		})
	}
	return nil
}

// prepareImage(fileBytes, configYAML) runs the preparation on one TIFF or
// FITS image and returns the output TIFF, the report and per-channel
// statistics.
func prepareImage(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("usage: prepareImage(fileBytes, configYAML)")
	}

	jsBytes := args[0]
	length := jsBytes.Get("length").Int()
	fileBytes := make([]byte, length)
	js.CopyBytesToGo(fileBytes, jsBytes)

	cfg := config.DefaultConfig()
	if len(args) >= 2 && args[1].Type() == js.TypeString {
		if err := config.Decode([]byte(args[1].String()), cfg); err != nil {
			return errorResult("config error: " + err.Error())
		}
	}

	name := "image.tif"
	if len(args) >= 3 && args[2].Type() == js.TypeString {
		name = args[2].String()
	}
	task := preparator.Task{
		Path:        name,
		Name:        name,
		Series:      1,
		TotalSeries: 1,
		Load:        func() (*preparator.Raster, error) { return decodeImage(fileBytes, name) },
	}

	sink := &memorySink{}
	batch := &preparator.Batch{
		Configs:      cfg.Channels,
		Compose:      cfg.Composition,
		NumberFormat: cfg.NumberFormat(),
		Sink:         sink,
		Memory:       func(uint64) error { return nil },
	}
	sum, err := batch.Run(context.Background(), []preparator.Task{task})
	if err != nil {
		return errorResult(err.Error())
	}
	if len(sum.Errors) > 0 {
		return errorResult(sum.Errors[0].Error())
	}
	lastPreview = sink.preview

	tiff := js.Global().Get("Uint8Array").New(len(sink.tiff))
	js.CopyBytesToJS(tiff, sink.tiff)
	return js.ValueOf(map[string]interface{}{
		"tiff":     tiff,
		"report":   sink.report,
		"channels": sink.stats,
	})
}

func decodeImage(data []byte, name string) (*preparator.Raster, error) {
	var r *preparator.Raster
	var err error
	if bytes.HasPrefix(data, []byte("SIMPLE  =")) {
		r, _, err = imageio.DecodeFITS(bytes.NewReader(data))
	} else {
		r, err = imageio.Decode(bytes.NewReader(data), int64(len(data)))
		if errors.Is(err, imageio.ErrNotTIFF) {
			err = errors.Join(preparator.ErrInputRejected, err)
		}
	}
	if err != nil {
		return nil, err
	}
	r.Title = name
	return r, nil
}

func renderPreview(this js.Value, args []js.Value) interface{} {
	if lastPreview == nil {
		return js.Null()
	}

	// Create Uint8Array and copy bytes
	uint8Array := js.Global().Get("Uint8Array").New(len(lastPreview))
	js.CopyBytesToJS(uint8Array, lastPreview)
	return uint8Array
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}
