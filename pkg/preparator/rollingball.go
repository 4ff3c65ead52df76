package preparator

import "math"

// ball is a spherical structuring element: heights[i] is the height of the
// sphere above (dx, dy) relative to its top, so heights are <= 0.
type ball struct {
	offsets []diskOffset
	heights []float32
	half    int
}

func newBall(radius float64) ball {
	offsets, half := diskOffsets(radius)
	b := ball{offsets: offsets, heights: make([]float32, len(offsets)), half: half}
	r2 := radius * radius
	for i, o := range offsets {
		d2 := float64(o.dx*o.dx + o.dy*o.dy)
		// The disk admits r^2+1; the ring beyond r sits at the equator.
		z := math.Sqrt(math.Max(r2-d2, 0))
		b.heights[i] = float32(z - radius)
	}
	return b
}

// shrinkFactor returns the downscale used before rolling a ball of the
// given radius.
func shrinkFactor(radius float64) int {
	switch {
	case radius > 100:
		return 8
	case radius > 30:
		return 4
	case radius > 10:
		return 2
	default:
		return 1
	}
}

// ballPass applies a grayscale erosion or dilation with a non-flat ball,
// replicating edge pixels.
func ballPass(src []float32, rows, cols int, b ball, dilate bool) []float32 {
	out := make([]float32, rows*cols)
	forEachBand(rows, func(r0, r1 int) {
		for r := r0; r < r1; r++ {
			for c := 0; c < cols; c++ {
				var best float32
				for i, o := range b.offsets {
					v := src[clampIndex(r+o.dy, rows)*cols+clampIndex(c+o.dx, cols)]
					if dilate {
						v += b.heights[i]
						if i == 0 || v > best {
							best = v
						}
					} else {
						v -= b.heights[i]
						if i == 0 || v < best {
							best = v
						}
					}
				}
				out[r*cols+c] = best
			}
		}
	})
	return out
}

// RollingBallBackground estimates the background of src with a ball of the
// given radius in px. With a dark background the ball rolls under the
// surface (opening); otherwise it rolls over it (closing). Large radii are
// processed on a shrunken copy and the background enlarged back.
func RollingBallBackground(src Mat, radius float64, darkBackground bool) Mat {
	factor := shrinkFactor(radius)
	work := src
	if factor > 1 {
		// Keep the extremum the ball would touch first.
		work = poolExtremum(src, factor, !darkBackground)
		defer work.Close()
	}
	rows, cols := work.Rows(), work.Cols()
	data := work.Clone()
	defer data.Close()

	b := newBall(radius / float64(factor))
	var bg []float32
	if darkBackground {
		bg = ballPass(ballPass(data.DataFloat32()[:rows*cols], rows, cols, b, false), rows, cols, b, true)
	} else {
		bg = ballPass(ballPass(data.DataFloat32()[:rows*cols], rows, cols, b, true), rows, cols, b, false)
	}
	small := MatFromData(rows, cols, bg)
	if factor == 1 {
		return small
	}
	defer small.Close()
	out := NewMat()
	resizeLinear(small, &out, src.Rows(), src.Cols())
	return out
}

// SubtractBackground removes the rolling-ball background. Light-background
// integer images are offset by the depth maximum so the result stays in
// range; integer results are clamped.
func SubtractBackground(src Mat, depth int, radius float64, darkBackground bool) Mat {
	if radius <= 0 {
		return src.Clone()
	}
	bg := RollingBallBackground(src, radius, darkBackground)
	defer bg.Close()

	out := src.Clone()
	od := out.DataFloat32()
	bd := bg.DataFloat32()
	offset := float32(0)
	if !darkBackground && depth != 32 {
		offset = float32(MaxValue(depth))
	}
	n := out.Rows() * out.Cols()
	for i := 0; i < n; i++ {
		od[i] = od[i] - bd[i] + offset
	}
	ClampToDepth(&out, depth)
	return out
}
