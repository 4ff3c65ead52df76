package main

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"adipoprep/internal/logger"
	"adipoprep/pkg/config"
	"adipoprep/pkg/imageio"
	"adipoprep/pkg/preparator"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif", "a_AQP.tif", ".hidden.tif", "notes.txt", "sub/c.tif", ".git/d.tif"} {
		touch(t, filepath.Join(dir, name))
	}
	extra := filepath.Join(t.TempDir(), "x_AQP.tif")
	touch(t, extra)

	tests := []struct {
		name      string
		recursive bool
		want      []string
	}{
		{"flat", false, []string{"a.tif", "b.tif", "notes.txt"}},
		{"recursive", true, []string{"a.tif", "b.tif", "notes.txt", "sub/c.tif"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectInputs([]string{dir, extra}, tt.recursive)
			if err != nil {
				t.Fatalf("collectInputs: %v", err)
			}
			var want []string
			for _, w := range tt.want {
				want = append(want, filepath.Join(dir, filepath.FromSlash(w)))
			}
			// Explicitly named files are kept even when they look like outputs.
			want = append(want, extra)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %v\nwant %v", got, want)
			}
		})
	}
}

func TestCollectInputsMissing(t *testing.T) {
	if _, err := collectInputs([]string{filepath.Join(t.TempDir(), "missing.tif")}, false); err == nil {
		t.Fatalf("missing input accepted")
	}
}

func TestBuildTasksSeriesSelection(t *testing.T) {
	paths := []string{"/data/a.tif", "/data/b.fits"}
	all := buildTasks(paths, preparator.SeriesSelection{All: true}, logger.Nop{})
	if len(all) != 2 || all[1].Name != "b.fits" || all[1].Series != 1 || all[1].TotalSeries != 1 {
		t.Fatalf("tasks %+v", all)
	}
	none := buildTasks(paths, preparator.SeriesSelection{List: []int{2}}, logger.Nop{})
	if len(none) != 0 {
		t.Fatalf("series 2 of single-series files selected: %+v", none)
	}
}

func TestLoadRasterPNG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(2, 1, color.Gray{Y: 77})
	path := filepath.Join(t.TempDir(), "plain.png")
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(fh, img); err != nil {
		t.Fatal(err)
	}
	fh.Close()

	r, err := loadRaster(path)
	if err != nil {
		t.Fatalf("loadRaster: %v", err)
	}
	defer r.Close()
	if r.NumChannels() != 1 || r.BitDepth != 8 || r.Width != 3 || r.Height != 2 {
		t.Fatalf("loaded %dx%d %d-bit, %d channels", r.Width, r.Height, r.BitDepth, r.NumChannels())
	}
	if v := r.Channels[0].Data.DataFloat32()[5]; v != 77 {
		t.Errorf("pixel (2,1) = %v, want 77", v)
	}
}

// pinholeImage is a bright disk with a small zero hole, written as TIFF.
func pinholeImage(t *testing.T, path string) {
	t.Helper()
	r := preparator.NewRaster("cells", 100, 100, 8, 1)
	defer r.Close()
	data := r.Channels[0].Data.DataFloat32()
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			dx, dy := x-50, y-50
			if dx*dx+dy*dy <= 900 && (dx < -1 || dx > 1 || dy < -1 || dy > 1) {
				data[y*100+x] = 200
			}
		}
	}
	r.Calibration = preparator.Calibration{PixelWidth: 0.5, PixelHeight: 0.5, Unit: "micron"}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := imageio.Write(path, r); err != nil {
		t.Fatalf("write input: %v", err)
	}
}

func TestRunWritesOutputs(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in")
	out := filepath.Join(t.TempDir(), "out")
	pinholeImage(t, filepath.Join(in, "cells.tif"))
	touch(t, filepath.Join(in, "cells.txt"))

	cfg := config.DefaultConfig()
	cfg.Output.SaveROI = true
	cfg.Output.SavePreview = true
	cfg.Channels[0].Segmentation.Method = "Otsu"
	cfg.Channels[0].RemoveRadius = 2.5
	cfgPath := filepath.Join(t.TempDir(), "task.yaml")
	if err := config.SaveConfig(cfg, cfgPath); err != nil {
		t.Fatal(err)
	}

	if err := run([]string{"-config", cfgPath, "-out", out, "-log-level", "error", in}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"cells_AQP.tif", "cells_AQP.txt", "cells_AQP.yaml", "cells_AQP_ROI1_C1.png", "cells_AQP_preview.jpg"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	prepared, err := imageio.Read(filepath.Join(out, "cells_AQP.tif"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	defer prepared.Close()
	// Segmentation followed by the duplicate of the original.
	if prepared.NumChannels() != 2 || prepared.Calibration.PixelWidth != 0.5 {
		t.Errorf("output has %d channels, calibration %v", prepared.NumChannels(), prepared.Calibration)
	}

	report, err := os.ReadFile(filepath.Join(out, "cells_AQP.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(report), "Image name:\tcells.tif") {
		t.Errorf("report does not name the image:\n%s", report)
	}

	saved, err := config.LoadConfig(filepath.Join(out, "cells_AQP.yaml"))
	if err != nil {
		t.Fatalf("saved config: %v", err)
	}
	if saved.Channels[0].RemoveRadius != 2.5 || saved.Output.Dir != out {
		t.Errorf("saved config %+v", saved.Channels[0])
	}
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adipoprep.yaml")
	if err := run([]string{"-init", path}); err != nil {
		t.Fatalf("run -init: %v", err)
	}
	if _, err := config.LoadConfig(path); err != nil {
		t.Fatalf("generated config: %v", err)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("version: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := run([]string{"-config", path, t.TempDir()}); err == nil {
		t.Fatalf("bad config accepted")
	}
}
