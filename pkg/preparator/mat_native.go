//go:build !purego && !js

package preparator

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Mat wraps gocv.Mat for the native OpenCV backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat                       { return Mat{m: gocv.NewMat()} }
func NewMatWithSize(rows, cols int) Mat { return Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)} }
func (mat Mat) Rows() int               { return mat.m.Rows() }
func (mat Mat) Cols() int               { return mat.m.Cols() }
func (mat Mat) Empty() bool             { return mat.m.Empty() }
func (mat Mat) Clone() Mat              { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()                 { mat.m.Close() }

func (mat Mat) DataFloat32() []float32 {
	data, _ := mat.m.DataPtrFloat32()
	return data
}

func (mat *Mat) SetToZero() {
	mat.m.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

func CopyMatTo(src Mat, dst *Mat) {
	src.m.CopyTo(&dst.m)
}

// --- CV operations ---

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	gocv.SepFilter2D(src.m, &dst.m, gocv.MatTypeCV32F, kernelX.m, kernelY.m, image.Pt(-1, -1), 0, gocv.BorderReflect)
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	k := gocv.GetGaussianKernel(size, sigma)
	defer k.Close()
	// GetGaussianKernel returns CV_64F; the filters run on CV_32F.
	out := gocv.NewMat()
	k.ConvertTo(&out, gocv.MatTypeCV32F)
	return Mat{m: out}
}

func medianBlur(src Mat, dst *Mat, ksize int) {
	gocv.MedianBlur(src.m, &dst.m, ksize)
}

func thresholdBinary(src Mat, dst *Mat, thresh, maxval float32) {
	gocv.Threshold(src.m, &dst.m, thresh, maxval, gocv.ThresholdBinary)
}

func thresholdBinaryInv(src Mat, dst *Mat, thresh, maxval float32) {
	gocv.Threshold(src.m, &dst.m, thresh, maxval, gocv.ThresholdBinaryInv)
}

func countNonZero(src Mat) int {
	return gocv.CountNonZero(src.m)
}

// diskKernel builds the same disk as the pure backend: every offset with
// dx*dx+dy*dy <= r*r+1.
func diskKernel(radius float64) gocv.Mat {
	offsets, half := diskOffsets(radius)
	size := 2*half + 1
	kernel := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8U)
	kernel.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for _, o := range offsets {
		kernel.SetUCharAt(o.dy+half, o.dx+half, 1)
	}
	return kernel
}

func morphDisk(src Mat, dst *Mat, radius float64, op morphOp) {
	if radius <= 0 {
		CopyMatTo(src, dst)
		return
	}
	kernel := diskKernel(radius)
	defer kernel.Close()
	cvOp := gocv.MorphDilate
	if op == morphErode {
		cvOp = gocv.MorphErode
	}
	gocv.MorphologyExWithParams(src.m, &dst.m, cvOp, kernel, 1, gocv.BorderReplicate)
}

func matCopyToWithMask(src Mat, dst *Mat, mask Mat) {
	mask8 := gocv.NewMat()
	defer mask8.Close()
	mask.m.ConvertTo(&mask8, gocv.MatTypeCV8U)
	src.m.CopyToWithMask(&dst.m, mask8)
}

// toBinary8U returns a CV_8U copy of src with 255 where src is non-zero
// (or zero, when inverted).
func toBinary8U(src Mat, inverted bool) gocv.Mat {
	bin := gocv.NewMat()
	defer bin.Close()
	if inverted {
		gocv.Threshold(src.m, &bin, 0, 255, gocv.ThresholdBinaryInv)
	} else {
		gocv.Threshold(src.m, &bin, 0, 255, gocv.ThresholdBinary)
	}
	out := gocv.NewMat()
	bin.ConvertTo(&out, gocv.MatTypeCV8U)
	return out
}

func fillHoles(src Mat, dst *Mat, fg float32) {
	rows, cols := src.Rows(), src.Cols()
	background := toBinary8U(src, true)
	defer background.Close()
	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponentsWithParams(background, &labels, 4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)
	lab, _ := labels.DataPtrInt32()

	touchesBorder := make([]bool, n)
	for c := 0; c < cols; c++ {
		touchesBorder[lab[c]] = true
		touchesBorder[lab[(rows-1)*cols+c]] = true
	}
	for r := 0; r < rows; r++ {
		touchesBorder[lab[r*cols]] = true
		touchesBorder[lab[r*cols+cols-1]] = true
	}

	srcData := src.DataFloat32()
	result := make([]float32, rows*cols)
	for i := range result {
		if srcData[i] != 0 || (lab[i] > 0 && !touchesBorder[lab[i]]) {
			result[i] = fg
		}
	}
	if dst.Rows() != rows || dst.Cols() != cols {
		dst.Close()
		*dst = NewMatWithSize(rows, cols)
	}
	copy(dst.DataFloat32(), result)
}

// labelComponents labels 8-connected foreground components 1..n-1.
func labelComponents(src Mat) ([]int32, int) {
	bin := toBinary8U(src, false)
	defer bin.Close()
	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponents(bin, &labels)
	data, _ := labels.DataPtrInt32()
	out := make([]int32, len(data))
	copy(out, data)
	return out, n
}

func resizeLinear(src Mat, dst *Mat, rows, cols int) {
	gocv.Resize(src.m, &dst.m, image.Pt(cols, rows), 0, 0, gocv.InterpolationLinear)
}

// poolExtremum shrinks src by factor, keeping the block minimum (or maximum).
func poolExtremum(src Mat, factor int, takeMax bool) Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(factor, factor))
	defer kernel.Close()
	filtered := gocv.NewMat()
	defer filtered.Close()
	op := gocv.MorphErode
	if takeMax {
		op = gocv.MorphDilate
	}
	gocv.MorphologyExWithParams(src.m, &filtered, op, kernel, 1, gocv.BorderReplicate)

	rows := int(math.Ceil(float64(src.Rows()) / float64(factor)))
	cols := int(math.Ceil(float64(src.Cols()) / float64(factor)))
	out := NewMatWithSize(rows, cols)
	fd, _ := filtered.DataPtrFloat32()
	od := out.DataFloat32()
	srcCols := src.Cols()
	for r := 0; r < rows; r++ {
		sr := min(r*factor+factor/2, src.Rows()-1)
		for c := 0; c < cols; c++ {
			sc := min(c*factor+factor/2, srcCols-1)
			od[r*cols+c] = fd[sr*srcCols+sc]
		}
	}
	return out
}

func imWriteMat(path string, m Mat) {
	gocv.IMWrite(path, m.m)
}
