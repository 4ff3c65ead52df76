package preparator

// ROI is a pixel-membership predicate over a width x height grid.
type ROI struct {
	Width  int
	Height int
	inside []bool
}

// NewROI returns an empty ROI.
func NewROI(width, height int) *ROI {
	return &ROI{Width: width, Height: height, inside: make([]bool, width*height)}
}

// ROIFromMask selects every non-zero pixel of m.
func ROIFromMask(m Mat) *ROI {
	roi := NewROI(m.Cols(), m.Rows())
	data := m.DataFloat32()
	for i := range roi.inside {
		roi.inside[i] = data[i] != 0
	}
	return roi
}

// Contains reports whether (x, y) is inside the ROI.
func (r *ROI) Contains(x, y int) bool {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return false
	}
	return r.inside[y*r.Width+x]
}

func (r *ROI) containsIndex(i int) bool { return r.inside[i] }

// Set adds or removes (x, y).
func (r *ROI) Set(x, y int, in bool) {
	r.inside[y*r.Width+x] = in
}

// Invert flips membership of every pixel of the grid.
func (r *ROI) Invert() {
	for i := range r.inside {
		r.inside[i] = !r.inside[i]
	}
}

// Area is the number of member pixels.
func (r *ROI) Area() int {
	n := 0
	for _, in := range r.inside {
		if in {
			n++
		}
	}
	return n
}

// Mask renders the ROI as a Mat with fg inside and 0 outside.
func (r *ROI) Mask(fg float32) Mat {
	m := NewMatWithSize(r.Height, r.Width)
	data := m.DataFloat32()
	for i, in := range r.inside {
		if in {
			data[i] = fg
		} else {
			data[i] = 0
		}
	}
	return m
}

// Gray8 returns the ROI as 0/255 bytes, row-major.
func (r *ROI) Gray8() []uint8 {
	out := make([]uint8, len(r.inside))
	for i, in := range r.inside {
		if in {
			out[i] = 255
		}
	}
	return out
}

// DeriveValidRegion selects the pixels that carry data: everything above
// zero, with gaps up to linkRadius px closed. The selection is inverted when
// its membership at (0,0) contradicts the source value there, so that after
// the call (0,0) is inside exactly when the source is non-zero at (0,0).
func DeriveValidRegion(ch Mat, linkRadius float64) *ROI {
	binary := NewMat()
	defer binary.Close()
	thresholdBinary(ch, &binary, 0, 255)

	closed := Closing(binary, linkRadius)
	defer closed.Close()
	roi := ROIFromMask(closed)

	sourceNonZero := ch.DataFloat32()[0] != 0
	if roi.Contains(0, 0) != sourceNonZero {
		roi.Invert()
	}
	return roi
}

// ApplyMask returns a copy of m with every pixel outside roi set to zero.
// A nil roi keeps every pixel.
func ApplyMask(m Mat, roi *ROI) Mat {
	if roi == nil {
		return m.Clone()
	}
	keep := roi.Mask(1)
	defer keep.Close()
	return And(m, keep)
}
