package preparator

import "math"

type morphOp int

const (
	morphDilate morphOp = iota
	morphErode
)

type diskOffset struct{ dx, dy int }

// diskRadius2 follows the rank-filter convention: a pixel belongs to the
// disk when dx*dx+dy*dy <= r*r+1, so radius 1 is the 3x3 square.
func diskRadius2(radius float64) float64 {
	return radius*radius + 1
}

func diskOffsets(radius float64) ([]diskOffset, int) {
	r2 := diskRadius2(radius)
	half := int(math.Sqrt(r2 + 1e-10))
	offsets := make([]diskOffset, 0, (2*half+1)*(2*half+1))
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if float64(dx*dx+dy*dy) <= r2 {
				offsets = append(offsets, diskOffset{dx, dy})
			}
		}
	}
	return offsets, half
}

// diskHalfWidths returns, for dy = -half..half, the half-length of the
// disk's horizontal run at that row.
func diskHalfWidths(radius float64) []int {
	r2 := diskRadius2(radius)
	half := int(math.Sqrt(r2 + 1e-10))
	widths := make([]int, 2*half+1)
	for dy := -half; dy <= half; dy++ {
		widths[dy+half] = int(math.Sqrt(r2 - float64(dy*dy) + 1e-10))
	}
	return widths
}

// Dilate returns src dilated by a disk of radius px. Non-positive radii
// return a copy.
func Dilate(src Mat, radius float64) Mat {
	dst := NewMat()
	morphDisk(src, &dst, radius, morphDilate)
	return dst
}

// Erode returns src eroded by a disk of radius px.
func Erode(src Mat, radius float64) Mat {
	dst := NewMat()
	morphDisk(src, &dst, radius, morphErode)
	return dst
}

// Opening erodes then dilates by the same disk.
func Opening(src Mat, radius float64) Mat {
	eroded := Erode(src, radius)
	defer eroded.Close()
	return Dilate(eroded, radius)
}

// Closing dilates then erodes by the same disk.
func Closing(src Mat, radius float64) Mat {
	dilated := Dilate(src, radius)
	defer dilated.Close()
	return Erode(dilated, radius)
}

// FillHoles returns a copy of the binary mask with every enclosed
// background region set to fg.
func FillHoles(src Mat, fg float32) Mat {
	dst := NewMat()
	fillHoles(src, &dst, fg)
	return dst
}

// Invert maps 0 to fg and everything else to 0.
func Invert(src Mat, fg float32) Mat {
	dst := NewMat()
	thresholdBinaryInv(src, &dst, 0, fg)
	return dst
}

// And keeps a where b is non-zero, zero elsewhere.
func And(a, b Mat) Mat {
	dst := NewMatWithSize(a.Rows(), a.Cols())
	dst.SetToZero()
	matCopyToWithMask(a, &dst, b)
	return dst
}

// CountForeground returns the number of non-zero pixels.
func CountForeground(m Mat) int {
	return countNonZero(m)
}

func clampIndex(idx, size int) int {
	if idx < 0 {
		return 0
	}
	if idx >= size {
		return size - 1
	}
	return idx
}
