package preparator

import "testing"

// matOf builds a rows x cols Mat from f(x, y).
func matOf(rows, cols int, f func(x, y int) float32) Mat {
	m := NewMatWithSize(rows, cols)
	data := m.DataFloat32()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			data[y*cols+x] = f(x, y)
		}
	}
	return m
}

// diskImage draws a filled disk of value fg on background bg. A positive
// hole radius punches a concentric hole of value bg.
func diskImage(size int, radius, hole float64, fg, bg float32) Mat {
	c := float64(size / 2)
	return matOf(size, size, func(x, y int) float32 {
		dx, dy := float64(x)-c, float64(y)-c
		d2 := dx*dx + dy*dy
		if d2 <= radius*radius && !(hole > 0 && d2 <= hole*hole) {
			return fg
		}
		return bg
	})
}

func pixel(m Mat, x, y int) float32 {
	return m.DataFloat32()[y*m.Cols()+x]
}

// assertBinary fails unless every sample is 0 or fg.
func assertBinary(t *testing.T, m Mat, fg float32) {
	t.Helper()
	for i, v := range m.DataFloat32()[:m.Rows()*m.Cols()] {
		if v != 0 && v != fg {
			t.Fatalf("pixel %d = %g, want 0 or %g", i, v, fg)
		}
	}
}

func sameMat(a, b Mat) bool {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return false
	}
	ad, bd := a.DataFloat32(), b.DataFloat32()
	for i := 0; i < a.Rows()*a.Cols(); i++ {
		if ad[i] != bd[i] {
			return false
		}
	}
	return true
}

// components counts 8-connected foreground components.
func components(m Mat) int {
	_, n := labelComponents(m)
	return n - 1
}
