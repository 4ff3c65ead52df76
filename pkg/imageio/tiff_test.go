package imageio

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"adipoprep/pkg/preparator"
)

func testRaster(depth int, values ...[]float32) *preparator.Raster {
	r := preparator.NewRaster("test", 3, 2, depth, len(values))
	for i, v := range values {
		copy(r.Channels[i].Data.DataFloat32(), v)
	}
	return r
}

func roundTrip(t *testing.T, r *preparator.Raster) *preparator.Raster {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, r); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	t.Cleanup(got.Close)
	return got
}

func samples(m preparator.Mat) []float32 {
	return m.DataFloat32()[:m.Rows()*m.Cols()]
}

func TestRoundTripDepths(t *testing.T) {
	tests := []struct {
		name  string
		depth int
		in    []float32
		want  []float32
	}{
		{"8-bit", 8, []float32{0, 1, 127, 128, 254, 255}, []float32{0, 1, 127, 128, 254, 255}},
		{"8-bit clamped", 8, []float32{-4, 300, 1.4, 1.6, 0, 0}, []float32{0, 255, 1, 2, 0, 0}},
		{"16-bit", 16, []float32{0, 256, 4095, 65535, 70000, 12.5}, []float32{0, 256, 4095, 65535, 65535, 13}},
		{"32-bit", 32, []float32{-1.5, 0, 3.25, 1e-3, 1e6, 0.1}, []float32{-1.5, 0, 3.25, 1e-3, 1e6, 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRaster(tt.depth, tt.in)
			defer r.Close()
			got := roundTrip(t, r)
			if got.BitDepth != tt.depth || got.Width != 3 || got.Height != 2 || got.NumChannels() != 1 {
				t.Fatalf("read %dx%d %d-bit with %d channels", got.Width, got.Height, got.BitDepth, got.NumChannels())
			}
			for i, v := range samples(got.Channels[0].Data) {
				if v != tt.want[i] {
					t.Errorf("sample %d = %v, want %v", i, v, tt.want[i])
				}
			}
		})
	}
}

func TestRoundTripChannelsLabelsLUTs(t *testing.T) {
	r := testRaster(16, []float32{1, 2, 3, 4, 5, 6}, []float32{60, 50, 40, 30, 20, 10}, []float32{0, 0, 0, 0, 0, 65535})
	defer r.Close()
	r.Channels[0].Label = "DAPI"
	r.Channels[1].Label = "Perilipin µ"
	r.Channels[0].LUT = preparator.PrimaryLUT("Green", false, true, false)
	r.Calibration = preparator.Calibration{PixelWidth: 0.5, PixelHeight: 0.25, Unit: "µm"}

	got := roundTrip(t, r)
	if got.NumChannels() != 3 || got.Slices != 1 || got.Frames != 1 {
		t.Fatalf("read %d channels, %d slices, %d frames", got.NumChannels(), got.Slices, got.Frames)
	}
	if err := got.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	for c := range r.Channels {
		want, have := samples(r.Channels[c].Data), samples(got.Channels[c].Data)
		for i := range want {
			if want[i] != have[i] {
				t.Fatalf("channel %d sample %d = %v, want %v", c+1, i, have[i], want[i])
			}
		}
	}
	if got.Channels[0].Label != "DAPI" || got.Channels[1].Label != "Perilipin µ" || got.Channels[2].Label != "" {
		t.Errorf("labels %q %q %q", got.Channels[0].Label, got.Channels[1].Label, got.Channels[2].Label)
	}
	green := preparator.PrimaryLUT("Green", false, true, false)
	if lut := got.Channels[0].LUT; lut == nil || lut.R != green.R || lut.G != green.G || lut.B != green.B {
		t.Errorf("channel 1 LUT not preserved: %+v", lut)
	}
	if !got.Channels[1].LUT.IsGray() {
		t.Errorf("channel 2 LUT is not gray")
	}
	want := preparator.Calibration{PixelWidth: 0.5, PixelHeight: 0.25, Unit: "µm"}
	if got.Calibration != want {
		t.Errorf("calibration %v, want %v", got.Calibration, want)
	}
}

func TestRoundTripUncalibrated(t *testing.T) {
	r := testRaster(8, []float32{1, 2, 3, 4, 5, 6})
	defer r.Close()
	got := roundTrip(t, r)
	if got.Calibration.Scaled() {
		t.Errorf("uncalibrated image read as %v", got.Calibration)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	r := testRaster(8, []float32{9, 8, 7, 6, 5, 4})
	defer r.Close()
	path := filepath.Join(t.TempDir(), "cells_AQP.tif")
	if err := Write(path, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer got.Close()
	if got.Title != "cells_AQP.tif" {
		t.Errorf("title %q", got.Title)
	}
	if v := samples(got.Channels[0].Data)[0]; v != 9 {
		t.Errorf("first sample %v", v)
	}
}

func TestEncodeRejectsStacks(t *testing.T) {
	r := testRaster(8, []float32{0, 0, 0, 0, 0, 0})
	defer r.Close()
	r.Slices = 2
	if err := Encode(&bytes.Buffer{}, r); !errors.Is(err, preparator.ErrInputRejected) {
		t.Fatalf("err = %v, want ErrInputRejected", err)
	}
}

func TestDecodeRGB(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, G: 10, B: 30, A: 255})
	img.Set(1, 1, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("tiff.Encode: %v", err)
	}
	got, err := Decode(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer got.Close()
	if got.NumChannels() != 3 || got.BitDepth != 8 {
		t.Fatalf("read %d channels at %d bits", got.NumChannels(), got.BitDepth)
	}
	want := [][]float32{{200, 0, 0, 1}, {10, 0, 0, 2}, {30, 0, 0, 3}}
	for c := range want {
		for i, v := range samples(got.Channels[c].Data) {
			if v != want[c][i] {
				t.Errorf("channel %d sample %d = %v, want %v", c+1, i, v, want[c][i])
			}
		}
	}
	if got.Channels[0].LUT == nil || got.Channels[0].LUT.R[255] != 255 || got.Channels[0].LUT.G[255] != 0 {
		t.Errorf("red channel LUT %+v", got.Channels[0].LUT)
	}
}

func TestDecodeNotTIFF(t *testing.T) {
	data := []byte("P5 not a tiff at all")
	if _, err := Decode(bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrNotTIFF) {
		t.Fatalf("err = %v, want ErrNotTIFF", err)
	}
}

func TestDescriptionDims(t *testing.T) {
	tests := []struct {
		desc    string
		pages   int
		c, z, f int
	}{
		{"", 3, 1, 1, 1},
		{"ImageJ=1.54f\nimages=4\n", 4, 1, 4, 1},
		{"ImageJ=1.54f\nimages=3\nchannels=3\nhyperstack=true\n", 3, 3, 1, 1},
		{"ImageJ=1.54f\nimages=12\nchannels=2\nslices=3\nframes=2\n", 12, 2, 3, 2},
		{"ImageJ=1.54f\nimages=2\nchannels=4\n", 2, 2, 1, 1},
	}
	for _, tt := range tests {
		c, z, f := parseDescription(tt.desc).dims(tt.pages)
		if c != tt.c || z != tt.z || f != tt.f {
			t.Errorf("dims(%q) = %d,%d,%d, want %d,%d,%d", tt.desc, c, z, f, tt.c, tt.z, tt.f)
		}
	}
}

func TestUnitEscape(t *testing.T) {
	for _, unit := range []string{"micron", "µm", "cm"} {
		if got := unescapeUnit(escapeUnit(unit)); got != unit {
			t.Errorf("unit %q read back as %q", unit, got)
		}
	}
	if d := parseDescription("ImageJ=1.54f\nunit=\\u00B5m\n"); d.unit != "µm" {
		t.Errorf("escaped unit read as %q", d.unit)
	}
}

func TestWriteROI(t *testing.T) {
	roi := preparator.NewROI(4, 3)
	roi.Set(1, 0, true)
	roi.Set(3, 2, true)
	path := filepath.Join(t.TempDir(), "cells_C1_ROI.png")
	if err := WriteROI(path, roi); err != nil {
		t.Fatalf("WriteROI: %v", err)
	}
	fh, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	img, err := png.Decode(fh)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Fatalf("bounds %v", b)
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			want := uint8(0)
			if roi.Contains(x, y) {
				want = 255
			}
			if g != want {
				t.Errorf("pixel (%d,%d) = %d, want %d", x, y, g, want)
			}
		}
	}
}
