package preparator

import "math"

// GaussianBlur convolves src with a separable Gaussian of the given sigma in
// px. The kernel spans 3 sigma on each side; borders are reflected.
func GaussianBlur(src Mat, sigma float64) Mat {
	dst := NewMat()
	if sigma <= 0 {
		CopyMatTo(src, &dst)
		return dst
	}
	size := 2*int(math.Ceil(3*sigma)) + 1
	kernel := getGaussianKernel1D(size, sigma)
	defer kernel.Close()
	sepFilter2DReflect(src, &dst, kernel, kernel)
	return dst
}

// HighPass subtracts a Gaussian-blurred copy of src. The result is float
// data and may be negative.
func HighPass(src Mat, sigma float64) Mat {
	out := src.Clone()
	if sigma <= 0 {
		return out
	}
	low := GaussianBlur(src, sigma)
	defer low.Close()
	od, ld := out.DataFloat32(), low.DataFloat32()
	n := out.Rows() * out.Cols()
	for i := 0; i < n; i++ {
		od[i] -= ld[i]
	}
	return out
}

// roundToDepth rounds and clamps integer-depth data in place so the
// histogram and threshold see the values an integer image would hold.
func roundToDepth(m *Mat, depth int) {
	if depth == 32 {
		return
	}
	data := m.DataFloat32()
	n := m.Rows() * m.Cols()
	for i := 0; i < n; i++ {
		data[i] = float32(math.Round(float64(data[i])))
	}
	ClampToDepth(m, depth)
}

// Preprocess runs the enabled filters in order: rolling-ball background
// subtraction, Gaussian blur, high-pass normalization. It returns a new Mat
// and the bit depth of its values, which becomes 32 after a high-pass.
func Preprocess(ch Mat, depth int, p ChannelParams) (Mat, int) {
	cur := ch.Clone()
	dark := p.Config.Segmentation.DarkBackground

	if p.BackgroundRadiusPx > 0 {
		next := SubtractBackground(cur, depth, p.BackgroundRadiusPx, dark)
		cur.Close()
		cur = next
		roundToDepth(&cur, depth)
	}
	if p.BlurSigmaPx > 0 {
		next := GaussianBlur(cur, p.BlurSigmaPx)
		cur.Close()
		cur = next
		roundToDepth(&cur, depth)
	}
	if p.HighPassSigmaPx > 0 {
		next := HighPass(cur, p.HighPassSigmaPx)
		cur.Close()
		cur = next
		depth = 32
	}
	return cur, depth
}
