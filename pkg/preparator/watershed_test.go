package preparator

import "testing"

func twoDisks(rows, cols int, ax, bx, cy, r int) Mat {
	return matOf(rows, cols, func(x, y int) float32 {
		da, db, dy := x-ax, x-bx, y-cy
		if da*da+dy*dy <= r*r || db*db+dy*dy <= r*r {
			return 255
		}
		return 0
	})
}

func TestWatershedSplitsTouchingDisks(t *testing.T) {
	mask := twoDisks(50, 60, 20, 40, 25, 12)
	defer mask.Close()
	if components(mask) != 1 {
		t.Fatalf("fixture should be one blob, got %d", components(mask))
	}

	out := Watershed(mask, 255)
	defer out.Close()
	if n := components(out); n != 2 {
		t.Fatalf("%d components after watershed, want 2", n)
	}
	assertBinary(t, out, 255)
	if pixel(out, 20, 25) != 255 || pixel(out, 40, 25) != 255 {
		t.Errorf("disk centres lost")
	}
	if pixel(out, 30, 25) != 0 {
		t.Errorf("neck centre not cut")
	}
	lost := CountForeground(mask) - CountForeground(out)
	if lost <= 0 || lost > 40 {
		t.Errorf("watershed line removed %d px", lost)
	}
}

func TestWatershedKeepsSingleBlob(t *testing.T) {
	square := matOf(30, 30, func(x, y int) float32 {
		if x >= 5 && x < 25 && y >= 5 && y < 25 {
			return 255
		}
		return 0
	})
	defer square.Close()
	out := Watershed(square, 255)
	defer out.Close()
	if !sameMat(square, out) {
		t.Errorf("single convex blob changed: %d -> %d px", CountForeground(square), CountForeground(out))
	}
}

func TestWatershedEmpty(t *testing.T) {
	empty := matOf(10, 10, func(x, y int) float32 { return 0 })
	defer empty.Close()
	out := Watershed(empty, 255)
	defer out.Close()
	if CountForeground(out) != 0 {
		t.Errorf("empty mask produced foreground")
	}
}
