package preparator

import "math"

// euclideanDistance returns the exact Euclidean distance of every nonzero
// pixel of a rows x cols image to the nearest zero pixel. Zero pixels map
// to 0.
func euclideanDistance(src []float32, rows, cols int) []float32 {
	const inf = 1e20
	sq := make([]float64, rows*cols)
	for i, v := range src[:rows*cols] {
		if v != 0 {
			sq[i] = inf
		}
	}

	n := max(rows, cols)
	f := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			f[r] = sq[r*cols+c]
		}
		edt1D(f[:rows], d[:rows], v, z)
		for r := 0; r < rows; r++ {
			sq[r*cols+c] = d[r]
		}
	}
	for r := 0; r < rows; r++ {
		copy(f[:cols], sq[r*cols:(r+1)*cols])
		edt1D(f[:cols], d[:cols], v, z)
		copy(sq[r*cols:(r+1)*cols], d[:cols])
	}

	out := make([]float32, rows*cols)
	for i, s := range sq {
		out[i] = float32(math.Sqrt(s))
	}
	return out
}

// edt1D is the Felzenszwalb-Huttenlocher lower envelope of parabolas.
func edt1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

func intersect(f []float64, q, p int) float64 {
	return ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*q-2*p)
}
