package preparator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// tileOverlap is the minimum context kept around each tile's owned area.
const tileOverlap = 32

// StarDistOutput is the raw prediction for one tile: an object probability
// and NRays radial distances per grid cell. Cell (r, c) covers the pixel
// (r*Grid, c*Grid) of the tile.
type StarDistOutput struct {
	Rows, Cols int
	Grid       int
	NRays      int
	Prob       []float32 // Rows*Cols
	Dist       []float32 // Rows*Cols*NRays, rays innermost
}

// InstanceBackend runs a star-convex instance model on a normalized tile.
type InstanceBackend interface {
	Predict(ctx context.Context, tile []float32, rows, cols int) (StarDistOutput, error)
	Close() error
}

// NeuralStrategy segments with an InstanceBackend and yields a label image.
type NeuralStrategy struct {
	Backend InstanceBackend
	Params  NeuralConfig
}

func (s NeuralStrategy) Name() string { return SegmentNeural }

// Segment normalizes img by percentiles, predicts tile by tile, suppresses
// overlapping candidates and rasterizes the survivors with ids 1..N in
// order of decreasing probability.
func (s NeuralStrategy) Segment(ctx context.Context, img Mat, _ int, _ *ROI) (Segmentation, Bounds, error) {
	rows, cols := img.Rows(), img.Cols()
	norm := NormalizePercentiles(img, s.Params.PercentileLow, s.Params.PercentileHigh)

	tiling := TilingForCount(cols, rows, max(s.Params.Tiles, 1), tileOverlap)
	var candidates []starPolygon
	for ty := 0; ty < tiling.NumY; ty++ {
		for tx := 0; tx < tiling.NumX; tx++ {
			if err := ctx.Err(); err != nil {
				return Segmentation{}, Bounds{}, err
			}
			x1, y1, x2, y2 := tiling.TileBox(tx, ty)
			tw, th := x2-x1, y2-y1
			tile := make([]float32, tw*th)
			for r := 0; r < th; r++ {
				copy(tile[r*tw:(r+1)*tw], norm[(y1+r)*cols+x1:(y1+r)*cols+x2])
			}
			out, err := s.Backend.Predict(ctx, tile, th, tw)
			if err != nil {
				return Segmentation{}, Bounds{}, err
			}
			if err := checkStarDistOutput(out); err != nil {
				return Segmentation{}, Bounds{}, err
			}
			ox1, oy1, ox2, oy2 := tiling.OwnedBox(tx, ty)
			for _, p := range starCandidates(out, float32(s.Params.ProbThreshold)) {
				p.cx += float64(x1)
				p.cy += float64(y1)
				if int(p.cx) < ox1 || int(p.cx) >= ox2 || int(p.cy) < oy1 || int(p.cy) >= oy2 {
					continue
				}
				candidates = append(candidates, p)
			}
		}
	}

	kept := suppressOverlaps(candidates, s.Params.OverlapThreshold, rows, cols)
	labels, count := rasterizeLabels(kept, rows, cols)
	return NewLabels(labels, count), Bounds{}, nil
}

// NormalizePercentiles maps the low and high percentiles of img to 0 and 1.
func NormalizePercentiles(img Mat, low, high float64) []float32 {
	n := img.Rows() * img.Cols()
	data := img.DataFloat32()[:n]
	sorted := make([]float64, n)
	for i, v := range data {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	lo := stat.Quantile(low/100, stat.Empirical, sorted, nil)
	hi := stat.Quantile(high/100, stat.Empirical, sorted, nil)
	scale := 1 / (hi - lo + 1e-20)
	out := make([]float32, n)
	for i, v := range data {
		out[i] = float32((float64(v) - lo) * scale)
	}
	return out
}

type starPolygon struct {
	prob   float32
	cx, cy float64
	xs, ys []float64
	bbox   [4]int // x1, y1, x2, y2 half-open
	pixels []int  // rasterized, filled lazily
}

// starCandidates turns every grid cell above the probability threshold into
// a star-convex polygon in tile coordinates.
func starCandidates(out StarDistOutput, threshold float32) []starPolygon {
	var polys []starPolygon
	for r := 0; r < out.Rows; r++ {
		for c := 0; c < out.Cols; c++ {
			i := r*out.Cols + c
			if out.Prob[i] <= threshold {
				continue
			}
			p := starPolygon{
				prob: out.Prob[i],
				cx:   float64(c * out.Grid),
				cy:   float64(r * out.Grid),
				xs:   make([]float64, out.NRays),
				ys:   make([]float64, out.NRays),
			}
			rays := out.Dist[i*out.NRays : (i+1)*out.NRays]
			for k, d := range rays {
				phi := 2 * math.Pi * float64(k) / float64(out.NRays)
				p.ys[k] = float64(d) * math.Sin(phi)
				p.xs[k] = float64(d) * math.Cos(phi)
			}
			polys = append(polys, p)
		}
	}
	return polys
}

func (p *starPolygon) rasterize(rows, cols int) {
	if p.pixels != nil {
		return
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for k := range p.xs {
		x, y := p.cx+p.xs[k], p.cy+p.ys[k]
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	x1 := max(int(math.Ceil(minX)), 0)
	y1 := max(int(math.Ceil(minY)), 0)
	x2 := min(int(math.Floor(maxX))+1, cols)
	y2 := min(int(math.Floor(maxY))+1, rows)
	p.bbox = [4]int{x1, y1, x2, y2}
	p.pixels = []int{}

	n := len(p.xs)
	var xings []float64
	for y := y1; y < y2; y++ {
		fy := float64(y)
		xings = xings[:0]
		for k := 0; k < n; k++ {
			ax, ay := p.cx+p.xs[k], p.cy+p.ys[k]
			bx, by := p.cx+p.xs[(k+1)%n], p.cy+p.ys[(k+1)%n]
			if (ay <= fy) == (by <= fy) {
				continue
			}
			xings = append(xings, ax+(fy-ay)*(bx-ax)/(by-ay))
		}
		sort.Float64s(xings)
		for j := 0; j+1 < len(xings); j += 2 {
			from := max(int(math.Ceil(xings[j])), x1)
			to := min(int(math.Floor(xings[j+1])), x2-1)
			for x := from; x <= to; x++ {
				p.pixels = append(p.pixels, y*cols+x)
			}
		}
	}
}

func overlapIoU(a, b *starPolygon) float64 {
	if a.bbox[0] >= b.bbox[2] || b.bbox[0] >= a.bbox[2] || a.bbox[1] >= b.bbox[3] || b.bbox[1] >= a.bbox[3] {
		return 0
	}
	if len(a.pixels) == 0 || len(b.pixels) == 0 {
		return 0
	}
	// Both pixel lists are in raster order.
	i, j, inter := 0, 0, 0
	for i < len(a.pixels) && j < len(b.pixels) {
		switch {
		case a.pixels[i] == b.pixels[j]:
			inter++
			i++
			j++
		case a.pixels[i] < b.pixels[j]:
			i++
		default:
			j++
		}
	}
	union := len(a.pixels) + len(b.pixels) - inter
	return float64(inter) / float64(union)
}

// suppressOverlaps keeps candidates in order of decreasing probability,
// dropping any whose IoU with an already kept polygon exceeds threshold.
func suppressOverlaps(cands []starPolygon, threshold float64, rows, cols int) []starPolygon {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].prob > cands[j].prob })
	var kept []starPolygon
	for i := range cands {
		c := &cands[i]
		c.rasterize(rows, cols)
		if len(c.pixels) == 0 {
			continue
		}
		ok := true
		for k := range kept {
			if overlapIoU(c, &kept[k]) > threshold {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, *c)
		}
	}
	return kept
}

// rasterizeLabels paints polygons in order; earlier (more probable)
// polygons win contested pixels. Polygons left without pixels get no id.
func rasterizeLabels(polys []starPolygon, rows, cols int) (Mat, int) {
	out := NewMatWithSize(rows, cols)
	out.SetToZero()
	data := out.DataFloat32()
	count := 0
	for i := range polys {
		id := float32(count + 1)
		painted := false
		for _, px := range polys[i].pixels {
			if data[px] == 0 {
				data[px] = id
				painted = true
			}
		}
		if painted {
			count++
		}
	}
	return out, count
}

// checkStarDistOutput validates the shape returned by a backend.
func checkStarDistOutput(out StarDistOutput) error {
	if out.Grid < 1 || out.NRays < 3 {
		return fmt.Errorf("%w: bad model output grid=%d rays=%d", ErrBackendUnavailable, out.Grid, out.NRays)
	}
	if len(out.Prob) != out.Rows*out.Cols || len(out.Dist) != out.Rows*out.Cols*out.NRays {
		return fmt.Errorf("%w: model output size mismatch", ErrBackendUnavailable)
	}
	return nil
}
