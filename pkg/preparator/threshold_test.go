package preparator

import (
	"context"
	"testing"
)

func TestBinarizePolarity(t *testing.T) {
	img := matOf(1, 10, func(x, _ int) float32 { return float32(x * 10) })
	defer img.Close()
	b := Bounds{Low: 50, High: 40}

	tests := []struct {
		name string
		dark bool
		want func(v float32) bool
	}{
		{"light background keeps v > High", false, func(v float32) bool { return float64(v) > b.High }},
		{"dark background keeps v < Low", true, func(v float32) bool { return float64(v) < b.Low }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := Binarize(img, b, tt.dark, 255)
			defer mask.Close()
			for x := 0; x < 10; x++ {
				v := pixel(img, x, 0)
				got := pixel(mask, x, 0) == 255
				if got != tt.want(v) {
					t.Errorf("v=%g: foreground=%v", v, got)
				}
			}
			assertBinary(t, mask, 255)
		})
	}
}

func TestBinarizeFloatBoundary(t *testing.T) {
	img := matOf(1, 3, func(x, _ int) float32 { return []float32{0.25, 0.5, 0.75}[x] })
	defer img.Close()
	b := Bounds{Low: 0.5, High: 0.5}

	dark := Binarize(img, b, true, 255)
	defer dark.Close()
	if pixel(dark, 0, 0) != 255 || pixel(dark, 1, 0) != 0 {
		t.Errorf("dark: got %g %g, want 255 0", pixel(dark, 0, 0), pixel(dark, 1, 0))
	}
	light := Binarize(img, b, false, 255)
	defer light.Close()
	if pixel(light, 1, 0) != 0 || pixel(light, 2, 0) != 255 {
		t.Errorf("light: got %g %g, want 0 255", pixel(light, 1, 0), pixel(light, 2, 0))
	}
}

func TestBuildHistogram(t *testing.T) {
	img := matOf(2, 4, func(x, y int) float32 { return float32(x + 4*y) })
	defer img.Close()

	h := BuildHistogram(img, 8, nil)
	if h.Total != 8 || h.Min != 0 || h.BinWidth != 1 {
		t.Fatalf("8-bit histogram %+v", h)
	}
	if h.Counts[7] != 1 {
		t.Errorf("bin 7 = %d, want 1", h.Counts[7])
	}

	roi := NewROI(4, 2)
	roi.Set(1, 1, true)
	h = BuildHistogram(img, 8, roi)
	if h.Total != 1 || h.Counts[5] != 1 {
		t.Errorf("ROI histogram total %d bin5 %d, want 1 1", h.Total, h.Counts[5])
	}

	wide := matOf(1, 2, func(x, _ int) float32 { return float32(x * 65535) })
	defer wide.Close()
	h = BuildHistogram(wide, 16, nil)
	if h.BinWidth != 256 || h.Counts[0] != 1 || h.Counts[255] != 1 {
		t.Errorf("16-bit histogram width %g bins %d/%d", h.BinWidth, h.Counts[0], h.Counts[255])
	}
}

func TestHistogramBounds(t *testing.T) {
	tests := []struct {
		name  string
		h     Histogram
		level int
		want  Bounds
	}{
		{"8-bit", Histogram{Min: 0, BinWidth: 1, Integer: true}, 99, Bounds{Low: 100, High: 99}},
		{"16-bit", Histogram{Min: 1000, BinWidth: 256, Integer: true}, 0, Bounds{Low: 1256, High: 1255}},
		{"float", Histogram{Min: 0, BinWidth: 0.25, Integer: false}, 1, Bounds{Low: 0.5, High: 0.5}},
	}
	for _, tt := range tests {
		if got := tt.h.Bounds(tt.level); got != tt.want {
			t.Errorf("%s: Bounds(%d) = %v, want %v", tt.name, tt.level, got, tt.want)
		}
	}
}

func TestHistogramStrategyOtsu(t *testing.T) {
	img := diskImage(40, 10, 0, 200, 0)
	defer img.Close()

	light := HistogramStrategy{Method: MethodOtsu}
	seg, b, err := light.Segment(context.Background(), img, 8, nil)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	defer seg.Close()
	if seg.Kind != KindMask {
		t.Fatalf("kind %v, want mask", seg.Kind)
	}
	if b.High != 0 || b.Low != 1 {
		t.Errorf("bounds %v, want {Low=1, High=0}", b)
	}
	disk := CountForeground(img)
	if got := CountForeground(seg.Data); got != disk {
		t.Errorf("light foreground %d, want %d", got, disk)
	}

	dark := HistogramStrategy{Method: MethodOtsu, DarkBackground: true}
	seg2, _, err := dark.Segment(context.Background(), img, 8, nil)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	defer seg2.Close()
	if got := CountForeground(seg2.Data); got != 40*40-disk {
		t.Errorf("dark foreground %d, want %d", got, 40*40-disk)
	}
}

func TestHistogramStrategyEmptyROI(t *testing.T) {
	img := diskImage(20, 5, 0, 200, 0)
	defer img.Close()
	seg, b, err := HistogramStrategy{Method: MethodTriangle}.Segment(context.Background(), img, 8, NewROI(20, 20))
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	defer seg.Close()
	if CountForeground(seg.Data) != 0 || b != (Bounds{}) {
		t.Errorf("empty ROI gave %d pixels, bounds %v", CountForeground(seg.Data), b)
	}
}

func TestCustomStrategy(t *testing.T) {
	img := matOf(1, 5, func(x, _ int) float32 { return float32(x * 50) })
	defer img.Close()
	seg, b, err := CustomStrategy{Value: 100}.Segment(context.Background(), img, 16, nil)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	defer seg.Close()
	if b.Low != 100 || b.High != 100 {
		t.Errorf("bounds %v", b)
	}
	// 150 and 200 are above the cutoff.
	if CountForeground(seg.Data) != 2 {
		t.Errorf("foreground %d, want 2", CountForeground(seg.Data))
	}
	assertBinary(t, seg.Data, 65535)
}
