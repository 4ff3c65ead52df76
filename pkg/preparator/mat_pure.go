//go:build purego || js

package preparator

import (
	"math"
	"sort"
)

// Mat is a pure Go 2D float32 matrix.
type Mat struct {
	data    []float32
	rows    int
	cols    int
	stride  int // elements per row in data
	dataOff int // offset of the first element
	owned   bool
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{
		data:   make([]float32, rows*cols),
		rows:   rows,
		cols:   cols,
		stride: cols,
		owned:  true,
	}
}

func (m Mat) Rows() int   { return m.rows }
func (m Mat) Cols() int   { return m.cols }
func (m Mat) Empty() bool { return m.data == nil || m.rows == 0 || m.cols == 0 }

func (m Mat) Clone() Mat {
	newData := make([]float32, m.rows*m.cols)
	for r := 0; r < m.rows; r++ {
		srcOff := m.dataOff + r*m.stride
		copy(newData[r*m.cols:], m.data[srcOff:srcOff+m.cols])
	}
	return Mat{data: newData, rows: m.rows, cols: m.cols, stride: m.cols, owned: true}
}

func (m *Mat) Close() {
	if m.owned {
		m.data = nil
	}
	m.rows = 0
	m.cols = 0
}

// DataFloat32 returns the backing float32 slice.
func (m Mat) DataFloat32() []float32 {
	return m.data[m.dataOff:]
}

func (m *Mat) SetToZero() {
	for r := 0; r < m.rows; r++ {
		off := m.dataOff + r*m.stride
		for c := 0; c < m.cols; c++ {
			m.data[off+c] = 0
		}
	}
}

func CopyMatTo(src Mat, dst *Mat) {
	if dst.rows != src.rows || dst.cols != src.cols || dst.data == nil {
		*dst = NewMatWithSize(src.rows, src.cols)
	}
	for r := 0; r < src.rows; r++ {
		srcOff := src.dataOff + r*src.stride
		dstOff := dst.dataOff + r*dst.stride
		copy(dst.data[dstOff:dstOff+src.cols], src.data[srcOff:srcOff+src.cols])
	}
}

func ensureSize(dst *Mat, rows, cols int) {
	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}
}

// --- Pure Go CV operations ---

func reflectIndex(idx, size int) int {
	if size == 1 {
		return 0
	}
	if idx < 0 {
		idx = -idx
	}
	for idx >= size {
		idx = 2*size - 2 - idx
		if idx < 0 {
			idx = -idx
		}
	}
	return idx
}

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	rows, cols := src.rows, src.cols
	srcData := src.Clone().DataFloat32()
	kx := kernelX.DataFloat32()
	ky := kernelY.DataFloat32()
	kxLen := kernelX.rows * kernelX.cols
	kyLen := kernelY.rows * kernelY.cols
	kxHalf := kxLen / 2
	kyHalf := kyLen / 2

	ensureSize(dst, rows, cols)
	temp := make([]float32, rows*cols)

	// Horizontal pass
	forEachBand(rows, func(r0, r1 int) {
		for r := r0; r < r1; r++ {
			rowOff := r * cols
			for c := 0; c < cols; c++ {
				var sum float32
				if c >= kxHalf && c < cols-kxHalf {
					base := rowOff + c - kxHalf
					for k := 0; k < kxLen; k++ {
						sum += srcData[base+k] * kx[k]
					}
				} else {
					for k := 0; k < kxLen; k++ {
						cc := reflectIndex(c+k-kxHalf, cols)
						sum += srcData[rowOff+cc] * kx[k]
					}
				}
				temp[rowOff+c] = sum
			}
		}
	})

	// Vertical pass
	dstData := dst.DataFloat32()
	forEachBand(rows, func(r0, r1 int) {
		rowOffs := make([]int, kyLen)
		for r := r0; r < r1; r++ {
			for k := 0; k < kyLen; k++ {
				rowOffs[k] = reflectIndex(r+k-kyHalf, rows) * cols
			}
			dstOff := r * cols
			for c := 0; c < cols; c++ {
				var sum float32
				for k := 0; k < kyLen; k++ {
					sum += temp[rowOffs[k]+c] * ky[k]
				}
				dstData[dstOff+c] = sum
			}
		}
	})
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	m := NewMatWithSize(size, 1)
	data := m.DataFloat32()
	half := size / 2
	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - half)
		val := math.Exp(-x * x / (2 * sigma * sigma))
		data[i] = float32(val)
		sum += val
	}
	for i := range data[:size] {
		data[i] = float32(float64(data[i]) / sum)
	}
	return m
}

func medianBlur(src Mat, dst *Mat, ksize int) {
	rows, cols := src.rows, src.cols
	srcData := src.Clone().DataFloat32()
	result := make([]float32, rows*cols)

	if ksize == 3 {
		// Fast path: sorting network for 9 elements
		for r := 0; r < rows; r++ {
			row0 := clampIndex(r-1, rows) * cols
			row1 := r * cols
			row2 := clampIndex(r+1, rows) * cols
			for c := 0; c < cols; c++ {
				c0 := clampIndex(c-1, cols)
				c2 := clampIndex(c+1, cols)
				p := [9]float32{
					srcData[row0+c0], srcData[row0+c], srcData[row0+c2],
					srcData[row1+c0], srcData[row1+c], srcData[row1+c2],
					srcData[row2+c0], srcData[row2+c], srcData[row2+c2],
				}
				result[r*cols+c] = median9(&p)
			}
		}
	} else {
		half := ksize / 2
		neighbors := make([]float32, ksize*ksize)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				idx := 0
				for dr := -half; dr <= half; dr++ {
					rr := clampIndex(r+dr, rows)
					for dc := -half; dc <= half; dc++ {
						neighbors[idx] = srcData[rr*cols+clampIndex(c+dc, cols)]
						idx++
					}
				}
				sort.Slice(neighbors[:idx], func(i, j int) bool { return neighbors[i] < neighbors[j] })
				result[r*cols+c] = neighbors[idx/2]
			}
		}
	}

	ensureSize(dst, rows, cols)
	copy(dst.DataFloat32(), result)
}

// median9 is the 19-exchange median network for nine values.
func median9(p *[9]float32) float32 {
	sw := func(i, j int) {
		if p[i] > p[j] {
			p[i], p[j] = p[j], p[i]
		}
	}
	sw(1, 2)
	sw(4, 5)
	sw(7, 8)
	sw(0, 1)
	sw(3, 4)
	sw(6, 7)
	sw(1, 2)
	sw(4, 5)
	sw(7, 8)
	sw(0, 3)
	sw(5, 8)
	sw(4, 7)
	sw(3, 6)
	sw(1, 4)
	sw(2, 5)
	sw(4, 7)
	sw(4, 2)
	sw(6, 4)
	sw(4, 2)
	return p[4]
}

func thresholdBinary(src Mat, dst *Mat, thresh, maxval float32) {
	n := src.rows * src.cols
	sd := src.Clone().DataFloat32()
	ensureSize(dst, src.rows, src.cols)
	dd := dst.DataFloat32()
	for i := 0; i < n; i++ {
		if sd[i] > thresh {
			dd[i] = maxval
		} else {
			dd[i] = 0
		}
	}
}

func thresholdBinaryInv(src Mat, dst *Mat, thresh, maxval float32) {
	n := src.rows * src.cols
	sd := src.Clone().DataFloat32()
	ensureSize(dst, src.rows, src.cols)
	dd := dst.DataFloat32()
	for i := 0; i < n; i++ {
		if sd[i] > thresh {
			dd[i] = 0
		} else {
			dd[i] = maxval
		}
	}
}

func countNonZero(src Mat) int {
	count := 0
	for r := 0; r < src.rows; r++ {
		off := src.dataOff + r*src.stride
		for c := 0; c < src.cols; c++ {
			if src.data[off+c] != 0 {
				count++
			}
		}
	}
	return count
}

// slidingExtremum writes into out the max (or min) of row over the window
// [x-w, x+w] clamped to the row, using a monotonic deque.
func slidingExtremum(row, out []float32, w int, takeMax bool, dq []int) []int {
	n := len(row)
	if w <= 0 {
		copy(out, row)
		return dq
	}
	better := func(a, b float32) bool {
		if takeMax {
			return a >= b
		}
		return a <= b
	}
	dq = dq[:0]
	head, next := 0, 0
	for x := 0; x < n; x++ {
		hi := min(n-1, x+w)
		for next <= hi {
			for len(dq) > head && better(row[next], row[dq[len(dq)-1]]) {
				dq = dq[:len(dq)-1]
			}
			dq = append(dq, next)
			next++
		}
		for dq[head] < x-w {
			head++
		}
		out[x] = row[dq[head]]
	}
	return dq
}

// morphDisk dilates or erodes src by a disk of the given radius. The disk is
// decomposed into horizontal runs so each output pixel costs O(radius).
// Pixels outside the image replicate the nearest edge pixel.
func morphDisk(src Mat, dst *Mat, radius float64, op morphOp) {
	rows, cols := src.rows, src.cols
	if radius <= 0 {
		CopyMatTo(src, dst)
		return
	}
	widths := diskHalfWidths(radius)
	half := len(widths) / 2
	srcData := src.Clone().DataFloat32()
	result := make([]float32, rows*cols)
	takeMax := op == morphDilate

	forEachBand(rows, func(r0, r1 int) {
		run := make([]float32, cols)
		dq := make([]int, 0, cols)
		for r := r0; r < r1; r++ {
			acc := result[r*cols : (r+1)*cols]
			for dy := -half; dy <= half; dy++ {
				rr := clampIndex(r+dy, rows)
				dq = slidingExtremum(srcData[rr*cols:(rr+1)*cols], run, widths[dy+half], takeMax, dq)
				if dy == -half {
					copy(acc, run)
					continue
				}
				for c := 0; c < cols; c++ {
					if takeMax && run[c] > acc[c] || !takeMax && run[c] < acc[c] {
						acc[c] = run[c]
					}
				}
			}
		}
	})

	ensureSize(dst, rows, cols)
	copy(dst.DataFloat32(), result)
}

func matCopyToWithMask(src Mat, dst *Mat, mask Mat) {
	n := src.rows * src.cols
	sd, dd, md := src.DataFloat32(), dst.DataFloat32(), mask.DataFloat32()
	for i := 0; i < n; i++ {
		if md[i] != 0 {
			dd[i] = sd[i]
		}
	}
}

// fillHoles sets to fg every background pixel that cannot be reached from
// the image border through 4-connected background.
func fillHoles(src Mat, dst *Mat, fg float32) {
	rows, cols := src.rows, src.cols
	srcData := src.Clone().DataFloat32()
	outside := make([]bool, rows*cols)
	queue := make([]int, 0, 2*(rows+cols))

	push := func(i int) {
		if !outside[i] && srcData[i] == 0 {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for c := 0; c < cols; c++ {
		push(c)
		push((rows-1)*cols + c)
	}
	for r := 0; r < rows; r++ {
		push(r * cols)
		push(r*cols + cols - 1)
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		r, c := i/cols, i%cols
		if r > 0 {
			push(i - cols)
		}
		if r < rows-1 {
			push(i + cols)
		}
		if c > 0 {
			push(i - 1)
		}
		if c < cols-1 {
			push(i + 1)
		}
	}

	ensureSize(dst, rows, cols)
	dd := dst.DataFloat32()
	for i := range srcData {
		if srcData[i] != 0 || !outside[i] {
			dd[i] = fg
		} else {
			dd[i] = 0
		}
	}
}

// labelComponents labels 8-connected foreground components 1..n-1.
func labelComponents(src Mat) ([]int32, int) {
	rows, cols := src.rows, src.cols
	srcData := src.Clone().DataFloat32()
	labels := make([]int32, rows*cols)
	next := int32(1)
	stack := make([]int, 0, 64)
	for i := range srcData {
		if srcData[i] == 0 || labels[i] != 0 {
			continue
		}
		labels[i] = next
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pr, pc := p/cols, p%cols
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					rr, cc := pr+dr, pc+dc
					if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
						continue
					}
					q := rr*cols + cc
					if srcData[q] != 0 && labels[q] == 0 {
						labels[q] = next
						stack = append(stack, q)
					}
				}
			}
		}
		next++
	}
	return labels, int(next)
}

// resizeLinear uses the pixel-centre convention of cv::resize.
func resizeLinear(src Mat, dst *Mat, rows, cols int) {
	sr, sc := src.rows, src.cols
	srcData := src.Clone().DataFloat32()
	out := NewMatWithSize(rows, cols)
	od := out.DataFloat32()
	scaleY := float64(sr) / float64(rows)
	scaleX := float64(sc) / float64(cols)
	for r := 0; r < rows; r++ {
		fy := (float64(r)+0.5)*scaleY - 0.5
		y0 := int(math.Floor(fy))
		wy := float32(fy - float64(y0))
		ya, yb := clampIndex(y0, sr), clampIndex(y0+1, sr)
		for c := 0; c < cols; c++ {
			fx := (float64(c)+0.5)*scaleX - 0.5
			x0 := int(math.Floor(fx))
			wx := float32(fx - float64(x0))
			xa, xb := clampIndex(x0, sc), clampIndex(x0+1, sc)
			top := srcData[ya*sc+xa]*(1-wx) + srcData[ya*sc+xb]*wx
			bottom := srcData[yb*sc+xa]*(1-wx) + srcData[yb*sc+xb]*wx
			od[r*cols+c] = top*(1-wy) + bottom*wy
		}
	}
	*dst = out
}

// poolExtremum shrinks src by factor, keeping the block minimum (or maximum).
func poolExtremum(src Mat, factor int, takeMax bool) Mat {
	sr, sc := src.rows, src.cols
	srcData := src.Clone().DataFloat32()
	rows := (sr + factor - 1) / factor
	cols := (sc + factor - 1) / factor
	out := NewMatWithSize(rows, cols)
	od := out.DataFloat32()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			best := srcData[min(r*factor, sr-1)*sc+min(c*factor, sc-1)]
			for y := r * factor; y < min((r+1)*factor, sr); y++ {
				for x := c * factor; x < min((c+1)*factor, sc); x++ {
					v := srcData[y*sc+x]
					if takeMax && v > best || !takeMax && v < best {
						best = v
					}
				}
			}
			od[r*cols+c] = best
		}
	}
	return out
}

func imWriteMat(_ string, _ Mat) {
	// No-op in pure Go build (debug image saving not supported)
}
