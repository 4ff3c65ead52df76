package preparator

import (
	"container/heap"
	"sort"
)

// maximaTolerance is the EDM height a saddle must drop below a peak for the
// peak to seed its own basin.
const maximaTolerance = 0.5

var neighbors8 = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

type floodItem struct {
	index int
	level float32
	seq   int
}

// floodQueue pops the highest level first, FIFO among equal levels.
type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].level != q[j].level {
		return q[i].level > q[j].level
	}
	return q[i].seq < q[j].seq
}
func (q floodQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() interface{} {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// edmMarkers labels the regional maxima of the distance map: each marker
// is the set of pixels within maximaTolerance of a peak that is not itself
// within tolerance of a higher peak.
func edmMarkers(edm []float32, rows, cols int) ([]int32, int) {
	n := rows * cols
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if edm[i] > 0 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return edm[order[a]] > edm[order[b]] })

	labels := make([]int32, n)
	stamp := make([]int, n)
	const processed = int32(-1)
	count := 0
	var flood []int
	for round, start := range order {
		if labels[start] != 0 {
			continue
		}
		floor := edm[start] - maximaTolerance
		flood = append(flood[:0], start)
		labels[start] = processed
		stamp[start] = round + 1
		isMax := true
		for k := 0; k < len(flood); k++ {
			p := flood[k]
			x, y := p%cols, p/cols
			for _, d := range neighbors8 {
				xx, yy := x+d[0], y+d[1]
				if xx < 0 || yy < 0 || xx >= cols || yy >= rows {
					continue
				}
				q := yy*cols + xx
				if edm[q] <= floor {
					continue
				}
				if labels[q] != 0 {
					// Reached a plateau that belongs to an earlier peak or
					// was already ruled out.
					if stamp[q] != round+1 {
						isMax = false
					}
					continue
				}
				labels[q] = processed
				stamp[q] = round + 1
				flood = append(flood, q)
			}
		}
		if isMax {
			count++
			for _, p := range flood {
				labels[p] = int32(count)
			}
		}
	}
	for i, l := range labels {
		if l < 0 {
			labels[i] = 0
		}
	}
	return labels, count
}

// Watershed splits touching blobs of a binary mask along the valleys of its
// Euclidean distance map. Basins grow from the regional maxima in order of
// decreasing distance; pixels reached by two basins become background, so
// the separated blobs are not 8-connected.
func Watershed(mask Mat, fg float32) Mat {
	rows, cols := mask.Rows(), mask.Cols()
	edm := euclideanDistance(mask.DataFloat32(), rows, cols)

	labels, count := edmMarkers(edm, rows, cols)
	out := NewMatWithSize(rows, cols)
	out.SetToZero()
	if count == 0 {
		return out
	}

	const line = int32(-1)
	queued := make([]bool, rows*cols)
	q := &floodQueue{}
	seq := 0
	push := func(p int) {
		x, y := p%cols, p/cols
		for _, d := range neighbors8 {
			xx, yy := x+d[0], y+d[1]
			if xx < 0 || yy < 0 || xx >= cols || yy >= rows {
				continue
			}
			n := yy*cols + xx
			if edm[n] > 0 && labels[n] == 0 && !queued[n] {
				queued[n] = true
				heap.Push(q, floodItem{index: n, level: edm[n], seq: seq})
				seq++
			}
		}
	}
	for i, l := range labels {
		if l > 0 {
			push(i)
		}
	}
	for q.Len() > 0 {
		it := heap.Pop(q).(floodItem)
		p := it.index
		x, y := p%cols, p/cols
		var basin int32
		conflict := false
		for _, d := range neighbors8 {
			xx, yy := x+d[0], y+d[1]
			if xx < 0 || yy < 0 || xx >= cols || yy >= rows {
				continue
			}
			l := labels[yy*cols+xx]
			if l <= 0 {
				continue
			}
			if basin == 0 {
				basin = l
			} else if l != basin {
				conflict = true
			}
		}
		if conflict || basin == 0 {
			labels[p] = line
			continue
		}
		labels[p] = basin
		push(p)
	}

	od := out.DataFloat32()
	for i, l := range labels {
		if l > 0 {
			od[i] = fg
		}
	}
	return out
}
