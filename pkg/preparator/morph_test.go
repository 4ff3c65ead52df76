package preparator

import "testing"

func TestDilateDiskSizes(t *testing.T) {
	tests := []struct {
		radius float64
		want   int
	}{
		{0, 1},
		{1, 9},  // 3x3 square
		{2, 21}, // dx*dx+dy*dy <= 5
		{3, 37}, // dx*dx+dy*dy <= 10
	}
	for _, tt := range tests {
		src := matOf(15, 15, func(x, y int) float32 {
			if x == 7 && y == 7 {
				return 255
			}
			return 0
		})
		got := Dilate(src, tt.radius)
		if n := CountForeground(got); n != tt.want {
			t.Errorf("radius %g: %d pixels, want %d", tt.radius, n, tt.want)
		}
		offsets, _ := diskOffsets(tt.radius)
		if tt.radius > 0 && len(offsets) != tt.want {
			t.Errorf("radius %g: %d offsets, want %d", tt.radius, len(offsets), tt.want)
		}
		got.Close()
		src.Close()
	}
}

func TestErodeUndoesDilateOfPoint(t *testing.T) {
	src := matOf(15, 15, func(x, y int) float32 {
		if x == 7 && y == 7 {
			return 255
		}
		return 0
	})
	defer src.Close()
	closed := Closing(src, 2)
	defer closed.Close()
	if !sameMat(src, closed) {
		t.Fatalf("closing of a single point changed it: %d pixels", CountForeground(closed))
	}
}

func TestOpeningRemovesThinStructures(t *testing.T) {
	// A 3-px wide bar next to a 15x15 block.
	src := matOf(30, 40, func(x, y int) float32 {
		if y >= 5 && y < 20 && x >= 5 && x < 20 {
			return 255
		}
		if y >= 10 && y < 13 && x >= 25 && x < 38 {
			return 255
		}
		return 0
	})
	defer src.Close()
	opened := Opening(src, 3)
	defer opened.Close()
	if pixel(opened, 30, 11) != 0 {
		t.Errorf("bar survived opening")
	}
	if pixel(opened, 12, 12) != 255 {
		t.Errorf("block centre removed by opening")
	}
	assertBinary(t, opened, 255)
}

func TestFillHoles(t *testing.T) {
	ring := diskImage(21, 8, 3, 255, 0)
	defer ring.Close()
	filled := FillHoles(ring, 255)
	defer filled.Close()
	if pixel(filled, 10, 10) != 255 {
		t.Errorf("enclosed hole not filled")
	}
	if pixel(filled, 0, 0) != 0 {
		t.Errorf("outer background filled")
	}

	// A notch open to the border is not a hole.
	notch := matOf(10, 10, func(x, y int) float32 {
		if x == 5 && y <= 5 {
			return 0
		}
		if x >= 2 && x < 8 && y < 8 {
			return 255
		}
		return 0
	})
	defer notch.Close()
	kept := FillHoles(notch, 255)
	defer kept.Close()
	if pixel(kept, 5, 3) != 0 {
		t.Errorf("border-connected notch filled")
	}
}

func TestInvertAnd(t *testing.T) {
	a := matOf(4, 4, func(x, y int) float32 { return float32(x + 1) })
	defer a.Close()
	b := matOf(4, 4, func(x, y int) float32 {
		if y < 2 {
			return 1
		}
		return 0
	})
	defer b.Close()

	and := And(a, b)
	defer and.Close()
	if pixel(and, 3, 0) != 4 || pixel(and, 3, 3) != 0 {
		t.Errorf("And = %g/%g, want 4/0", pixel(and, 3, 0), pixel(and, 3, 3))
	}

	inv := Invert(b, 255)
	defer inv.Close()
	if pixel(inv, 0, 0) != 0 || pixel(inv, 0, 3) != 255 {
		t.Errorf("Invert = %g/%g, want 0/255", pixel(inv, 0, 0), pixel(inv, 0, 3))
	}
}
