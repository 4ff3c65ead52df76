package preparator

// Tiling splits an image into overlapping tiles of a fixed size. Exterior
// tiles sit flush with the image edges and interior tiles are spread evenly
// between them, so every pixel away from the border is at least minPadding
// from some tile edge.
type Tiling struct {
	SpaceX      float64 // horizontal pixels between tile origins
	SpaceY      float64 // vertical pixels between tile origins
	NumX        int
	NumY        int
	TileWidth   int
	TileHeight  int
	ImageWidth  int
	ImageHeight int
}

// MakeTiling covers an image with tiles of at most tileWidth x tileHeight.
func MakeTiling(imageWidth, imageHeight, tileWidth, tileHeight, minPadding int) Tiling {
	tileWidth = min(tileWidth, imageWidth)
	tileHeight = min(tileHeight, imageHeight)
	sx, nx := tileSpacingAndCount(imageWidth, tileWidth, minPadding)
	sy, ny := tileSpacingAndCount(imageHeight, tileHeight, minPadding)
	return Tiling{
		SpaceX: sx, SpaceY: sy,
		NumX: nx, NumY: ny,
		TileWidth: tileWidth, TileHeight: tileHeight,
		ImageWidth: imageWidth, ImageHeight: imageHeight,
	}
}

// TilingForCount picks a tile size that yields about tiles tiles per axis
// with the given overlap.
func TilingForCount(imageWidth, imageHeight, tiles, minPadding int) Tiling {
	if tiles <= 1 {
		return MakeTiling(imageWidth, imageHeight, imageWidth, imageHeight, 0)
	}
	size := func(n int) int {
		s := (n+tiles-1)/tiles + 2*minPadding
		return min(s, n)
	}
	tw, th := size(imageWidth), size(imageHeight)
	pad := minPadding
	if 2*pad >= min(tw, th) {
		pad = min(tw, th)/2 - 1
	}
	return MakeTiling(imageWidth, imageHeight, tw, th, max(pad, 0))
}

// IsSingle reports whether one tile covers the image.
func (t Tiling) IsSingle() bool { return t.NumX == 1 && t.NumY == 1 }

// TileBox returns the half-open pixel box of tile (tx, ty).
func (t Tiling) TileBox(tx, ty int) (x1, y1, x2, y2 int) {
	x1, y1 = originAt(tx, t.SpaceX), originAt(ty, t.SpaceY)
	x2 = min(x1+t.TileWidth, t.ImageWidth)
	y2 = min(y1+t.TileHeight, t.ImageHeight)
	return x1, y1, x2, y2
}

// OwnedBox returns the part of tile (tx, ty) that no other tile is closer
// to: overlaps are split at their midpoint.
func (t Tiling) OwnedBox(tx, ty int) (x1, y1, x2, y2 int) {
	x1, x2 = ownedRange(tx, t.NumX, t.SpaceX, t.TileWidth, t.ImageWidth)
	y1, y2 = ownedRange(ty, t.NumY, t.SpaceY, t.TileHeight, t.ImageHeight)
	return x1, y1, x2, y2
}

func ownedRange(i, n int, space float64, size, limit int) (int, int) {
	lo, hi := 0, limit
	if i > 0 {
		prevEnd := originAt(i-1, space) + size
		lo = (originAt(i, space) + prevEnd) / 2
	}
	if i < n-1 {
		end := originAt(i, space) + size
		hi = (originAt(i+1, space) + end) / 2
	}
	return lo, hi
}

func originAt(i int, space float64) int {
	return int(float64(i)*space + 0.5)
}

// tileSpacingAndCount splits one axis into evenly spaced extents and returns
// the space between origins and the number of tiles.
func tileSpacingAndCount(srcSize, tileSize, minPadding int) (float64, int) {
	if srcSize <= tileSize {
		return 0, 1
	}
	if minPadding >= tileSize/2 {
		minPadding = max(tileSize/2-1, 0)
	}
	innerValid := srcSize - 2*(tileSize-minPadding)
	inner := 0
	if innerValid > 0 {
		step := tileSize - 2*minPadding
		inner = (innerValid + step - 1) / step
	}
	total := 2 + inner
	return float64(srcSize-tileSize) / float64(total-1), total
}
