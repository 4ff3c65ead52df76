package preparator

import (
	"fmt"
	"math"
)

// Calibration is the physical size of one pixel.
type Calibration struct {
	PixelWidth  float64
	PixelHeight float64
	Unit        string
}

// DefaultCalibration is one pixel per unit, as for uncalibrated images.
var DefaultCalibration = Calibration{PixelWidth: 1, PixelHeight: 1, Unit: "pixel"}

// Scaled reports whether the calibration differs from one pixel per unit.
func (c Calibration) Scaled() bool {
	return c.PixelWidth != 1 || c.PixelHeight != 1
}

// ToPixels converts a radius in calibrated units to pixels using the mean
// of the pixel width and height.
func (c Calibration) ToPixels(radius float64) float64 {
	mean := (c.PixelWidth + c.PixelHeight) / 2
	if mean <= 0 || math.IsNaN(mean) {
		return radius
	}
	return radius / mean
}

// UnitName returns the unit, falling back to "pixel".
func (c Calibration) UnitName() string {
	if c.Unit == "" {
		return "pixel"
	}
	return c.Unit
}

func (c Calibration) String() string {
	return fmt.Sprintf("{PixelWidth=%g, PixelHeight=%g, Unit=%s}", c.PixelWidth, c.PixelHeight, c.UnitName())
}

// Channel is one plane of a Raster.
type Channel struct {
	Data  Mat
	Label string // slice label, may be empty
	LUT   *LUT   // original colour table, nil for grayscale
}

// Raster is a calibrated multi-channel image. Only single-slice,
// single-frame rasters are processed.
type Raster struct {
	Title       string
	Width       int
	Height      int
	BitDepth    int // 8, 16 or 32 (float)
	Slices      int
	Frames      int
	Channels    []Channel
	Calibration Calibration
}

// NewRaster allocates a zeroed single-slice raster.
func NewRaster(title string, width, height, bitDepth, channels int) *Raster {
	r := &Raster{
		Title:       title,
		Width:       width,
		Height:      height,
		BitDepth:    bitDepth,
		Slices:      1,
		Frames:      1,
		Calibration: DefaultCalibration,
		Channels:    make([]Channel, channels),
	}
	for i := range r.Channels {
		m := NewMatWithSize(height, width)
		m.SetToZero()
		r.Channels[i].Data = m
	}
	return r
}

// Close releases every channel buffer.
func (r *Raster) Close() {
	for i := range r.Channels {
		r.Channels[i].Data.Close()
	}
}

// NumChannels returns the channel count.
func (r *Raster) NumChannels() int { return len(r.Channels) }

// Check rejects inputs the pipeline cannot process.
func (r *Raster) Check() error {
	if r.Width < 1 || r.Height < 1 {
		return fmt.Errorf("%w: empty image %dx%d", ErrInputRejected, r.Width, r.Height)
	}
	if r.Slices > 1 {
		return fmt.Errorf("%w: %d z-slices, only single-plane images are supported", ErrInputRejected, r.Slices)
	}
	if r.Frames > 1 {
		return fmt.Errorf("%w: %d time frames, only single-frame images are supported", ErrInputRejected, r.Frames)
	}
	switch r.BitDepth {
	case 8, 16, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrInputRejected, r.BitDepth)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: image has no channels", ErrInputRejected)
	}
	for i, ch := range r.Channels {
		if ch.Data.Rows() != r.Height || ch.Data.Cols() != r.Width {
			return fmt.Errorf("%w: channel %d is %dx%d, image is %dx%d",
				ErrInputRejected, i+1, ch.Data.Cols(), ch.Data.Rows(), r.Width, r.Height)
		}
	}
	return nil
}

// SliceLabel returns the stored label of channel c (1-based) or a
// synthesized one.
func (r *Raster) SliceLabel(c int) string {
	if c >= 1 && c <= len(r.Channels) && r.Channels[c-1].Label != "" {
		return r.Channels[c-1].Label
	}
	return fmt.Sprintf("Channel %d", c)
}

// EstimatedBytes is the in-memory size of the float planes.
func (r *Raster) EstimatedBytes() uint64 {
	return uint64(r.Width) * uint64(r.Height) * uint64(len(r.Channels)) * 4
}

// MaxValue is the largest sample of an integer depth, or 1 for float data.
func MaxValue(depth int) float64 {
	switch depth {
	case 8:
		return 255
	case 16:
		return 65535
	default:
		return 1
	}
}

// MaskValue is the foreground value of a binary mask at the given depth.
func MaskValue(depth int) float32 {
	if depth == 16 {
		return 65535
	}
	return 255
}

// MatFromData copies row-major samples into a new Mat.
func MatFromData(rows, cols int, data []float32) Mat {
	m := NewMatWithSize(rows, cols)
	copy(m.DataFloat32(), data[:rows*cols])
	return m
}

// ClampToDepth clamps an integer-depth Mat to 0..MaxValue(depth) in place.
func ClampToDepth(m *Mat, depth int) {
	if depth == 32 {
		return
	}
	hi := float32(MaxValue(depth))
	data := m.DataFloat32()
	n := m.Rows() * m.Cols()
	for i := 0; i < n; i++ {
		if data[i] < 0 {
			data[i] = 0
		} else if data[i] > hi {
			data[i] = hi
		}
	}
}

// minMax returns the smallest and largest sample, optionally restricted to
// an ROI.
func minMax(m Mat, roi *ROI) (float32, float32) {
	data := m.DataFloat32()
	n := m.Rows() * m.Cols()
	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for i := 0; i < n; i++ {
		if roi != nil && !roi.containsIndex(i) {
			continue
		}
		if data[i] < lo {
			lo = data[i]
		}
		if data[i] > hi {
			hi = data[i]
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
