package preparator

import (
	"context"
	"fmt"
	"math"
)

// Bounds is the pair of cutoffs produced by a threshold method. High is the
// largest value of the lower class, Low the smallest value of the upper
// class. For float data and custom cutoffs they are equal.
type Bounds struct {
	Low  float64
	High float64
}

func (b Bounds) String() string {
	return fmt.Sprintf("{Low=%g, High=%g}", b.Low, b.High)
}

// Binarize maps foreground pixels to max and everything else to 0. With a
// dark background the foreground is v < Low, otherwise v > High.
func Binarize(img Mat, b Bounds, darkBackground bool, max float32) Mat {
	dst := NewMat()
	if darkBackground {
		// v <= prev(Low) is exactly v < Low in float32.
		thresh := math.Nextafter32(float32(b.Low), float32(math.Inf(-1)))
		thresholdBinaryInv(img, &dst, thresh, max)
	} else {
		thresholdBinary(img, &dst, float32(b.High), max)
	}
	return dst
}

// ThresholdStrategy segments one preprocessed channel. roi, when non-nil,
// restricts the statistics to the valid region; pixels outside it are
// zeroed by the caller before and after segmentation.
type ThresholdStrategy interface {
	Name() string
	Segment(ctx context.Context, img Mat, depth int, roi *ROI) (Segmentation, Bounds, error)
}

// Histogram is a 256-bin intensity histogram with the mapping back to
// sample values.
type Histogram struct {
	Counts   []int
	Min      float64
	BinWidth float64
	Integer  bool
	Total    int
}

// BuildHistogram bins img, optionally restricted to roi. 8-bit data map one
// value per bin; 16-bit and float data span the [min, max] of the counted
// pixels.
func BuildHistogram(img Mat, depth int, roi *ROI) Histogram {
	h := Histogram{Counts: make([]int, 256), Integer: depth != 32}
	switch depth {
	case 8:
		h.Min, h.BinWidth = 0, 1
	case 16:
		lo, hi := minMax(img, roi)
		h.Min = float64(lo)
		h.BinWidth = (float64(hi) - float64(lo) + 1) / 256
	default:
		lo, hi := minMax(img, roi)
		h.Min = float64(lo)
		h.BinWidth = (float64(hi) - float64(lo)) / 256
	}

	data := img.DataFloat32()
	n := img.Rows() * img.Cols()
	for i := 0; i < n; i++ {
		if roi != nil && !roi.containsIndex(i) {
			continue
		}
		h.Counts[h.bin(float64(data[i]))]++
		h.Total++
	}
	return h
}

func (h Histogram) bin(v float64) int {
	if h.BinWidth <= 0 {
		return 0
	}
	b := int((v - h.Min) / h.BinWidth)
	if b < 0 {
		return 0
	}
	if b > 255 {
		return 255
	}
	return b
}

// Bounds converts a split level (last bin of the lower class) into sample
// values.
func (h Histogram) Bounds(level int) Bounds {
	if h.Integer {
		edge := h.Min + math.Ceil(float64(level+1)*h.BinWidth)
		return Bounds{Low: edge, High: edge - 1}
	}
	edge := h.Min + float64(level+1)*h.BinWidth
	return Bounds{Low: edge, High: edge}
}

// HistogramStrategy thresholds with a named global histogram method.
type HistogramStrategy struct {
	Method         ThresholdMethod
	DarkBackground bool
}

func (s HistogramStrategy) Name() string { return string(s.Method) }

func (s HistogramStrategy) Segment(_ context.Context, img Mat, depth int, roi *ROI) (Segmentation, Bounds, error) {
	h := BuildHistogram(img, depth, roi)
	if h.Total == 0 {
		empty := NewMatWithSize(img.Rows(), img.Cols())
		empty.SetToZero()
		return NewMask(empty), Bounds{}, nil
	}
	level, err := AutoThresholdLevel(s.Method, h.Counts)
	if err != nil {
		return Segmentation{}, Bounds{}, err
	}
	b := h.Bounds(level)
	return NewMask(Binarize(img, b, s.DarkBackground, MaskValue(depth))), b, nil
}

// CustomStrategy thresholds at a fixed value.
type CustomStrategy struct {
	Value          float64
	DarkBackground bool
}

func (s CustomStrategy) Name() string { return "Custom" }

func (s CustomStrategy) Segment(_ context.Context, img Mat, depth int, _ *ROI) (Segmentation, Bounds, error) {
	b := Bounds{Low: s.Value, High: s.Value}
	return NewMask(Binarize(img, b, s.DarkBackground, MaskValue(depth))), b, nil
}
