package preparator

import "testing"

func TestDeriveValidRegionOriginConsistency(t *testing.T) {
	tests := []struct {
		name string
		img  func(x, y int) float32
	}{
		{"zero origin", func(x, y int) float32 {
			if x >= 10 {
				return 100
			}
			return 0
		}},
		{"non-zero origin", func(x, y int) float32 {
			if x < 10 {
				return 100
			}
			return 0
		}},
		{"all zero", func(x, y int) float32 { return 0 }},
		{"all set", func(x, y int) float32 { return 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := matOf(20, 20, tt.img)
			defer ch.Close()
			for _, link := range []float64{0, 2} {
				roi := DeriveValidRegion(ch, link)
				want := pixel(ch, 0, 0) != 0
				if roi.Contains(0, 0) != want {
					t.Errorf("link %g: (0,0) inside=%v, source non-zero=%v", link, roi.Contains(0, 0), want)
				}
			}
		})
	}
}

func TestDeriveValidRegionClosesGaps(t *testing.T) {
	// Non-zero tissue with a one-pixel zero crack at x=10 and a zero margin.
	ch := matOf(20, 20, func(x, y int) float32 {
		if x < 3 || x == 10 {
			return 0
		}
		return 50
	})
	defer ch.Close()

	open := DeriveValidRegion(ch, 0)
	if open.Contains(10, 10) {
		t.Errorf("crack inside without gap closing")
	}
	closed := DeriveValidRegion(ch, 2)
	if !closed.Contains(10, 10) {
		t.Errorf("crack not bridged with link radius 2")
	}
	if closed.Contains(0, 10) {
		t.Errorf("zero margin selected")
	}
}

func TestApplyMask(t *testing.T) {
	m := matOf(3, 3, func(x, y int) float32 { return 9 })
	defer m.Close()

	all := ApplyMask(m, nil)
	defer all.Close()
	if CountForeground(all) != 9 {
		t.Errorf("nil ROI dropped pixels")
	}

	roi := NewROI(3, 3)
	roi.Set(1, 1, true)
	one := ApplyMask(m, roi)
	defer one.Close()
	if CountForeground(one) != 1 || pixel(one, 1, 1) != 9 {
		t.Errorf("ApplyMask kept %d pixels", CountForeground(one))
	}
	if pixel(m, 0, 0) != 9 {
		t.Errorf("input modified")
	}
}
