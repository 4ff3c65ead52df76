// Package imageio reads and writes calibrated multi-channel rasters as
// ImageJ-compatible TIFF files.
package imageio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"adipoprep/pkg/preparator"
)

// TIFF tags used by the reader and the writer.
const (
	tagNewSubfileType   = 254
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagXResolution      = 282
	tagYResolution      = 283
	tagResolutionUnit   = 296
	tagSampleFormat     = 339
	tagIJMetaCounts     = 50838
	tagIJMeta           = 50839
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

var typeSize = map[uint16]uint32{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4,
	typeSRational: 8, typeFloat: 4, typeDouble: 8,
}

const maxPages = 1 << 16

// ErrNotTIFF is returned for inputs without a TIFF header.
var ErrNotTIFF = errors.New("not a TIFF file")

type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

type ifd struct {
	offset  uint32
	entries map[uint16]ifdEntry
}

type tiffFile struct {
	r     io.ReaderAt
	size  int64
	order binary.ByteOrder
	ifds  []ifd
}

func (e ifdEntry) uints(order binary.ByteOrder) []uint32 {
	out := make([]uint32, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case typeByte, typeUndefined:
			out = append(out, uint32(e.data[i]))
		case typeShort:
			out = append(out, uint32(order.Uint16(e.data[2*i:])))
		case typeLong:
			out = append(out, order.Uint32(e.data[4*i:]))
		default:
			return out
		}
	}
	return out
}

func (e ifdEntry) uint(order binary.ByteOrder, def uint32) uint32 {
	v := e.uints(order)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

func (e ifdEntry) rational(order binary.ByteOrder) float64 {
	if e.typ != typeRational || len(e.data) < 8 {
		return 0
	}
	num, den := order.Uint32(e.data), order.Uint32(e.data[4:])
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (e ifdEntry) ascii() string {
	b := e.data
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

func (d ifd) uint(tag uint16, order binary.ByteOrder, def uint32) uint32 {
	e, ok := d.entries[tag]
	if !ok {
		return def
	}
	return e.uint(order, def)
}

func parseTIFF(r io.ReaderAt, size int64) (*tiffFile, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, ErrNotTIFF
	}
	f := &tiffFile{r: r, size: size}
	switch string(hdr[:2]) {
	case "II":
		f.order = binary.LittleEndian
	case "MM":
		f.order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	switch f.order.Uint16(hdr[2:]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF is not supported", preparator.ErrInputRejected)
	default:
		return nil, ErrNotTIFF
	}

	seen := map[uint32]bool{}
	next := f.order.Uint32(hdr[4:])
	for next != 0 && len(f.ifds) < maxPages {
		if seen[next] {
			return nil, fmt.Errorf("tiff: IFD loop at offset %d", next)
		}
		seen[next] = true
		d, n, err := f.readIFD(next)
		if err != nil {
			return nil, err
		}
		f.ifds = append(f.ifds, d)
		next = n
	}
	if len(f.ifds) == 0 {
		return nil, fmt.Errorf("tiff: no image directory")
	}
	return f, nil
}

func (f *tiffFile) readIFD(offset uint32) (ifd, uint32, error) {
	var nbuf [2]byte
	if _, err := f.r.ReadAt(nbuf[:], int64(offset)); err != nil {
		return ifd{}, 0, fmt.Errorf("tiff: reading IFD at %d: %w", offset, err)
	}
	n := int(f.order.Uint16(nbuf[:]))
	buf := make([]byte, 12*n+4)
	if _, err := f.r.ReadAt(buf, int64(offset)+2); err != nil {
		return ifd{}, 0, fmt.Errorf("tiff: reading IFD at %d: %w", offset, err)
	}
	d := ifd{offset: offset, entries: make(map[uint16]ifdEntry, n)}
	for i := 0; i < n; i++ {
		raw := buf[12*i : 12*i+12]
		tag := f.order.Uint16(raw)
		e := ifdEntry{typ: f.order.Uint16(raw[2:]), count: f.order.Uint32(raw[4:])}
		size, ok := typeSize[e.typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(e.count)
		if total > uint64(f.size) {
			return ifd{}, 0, fmt.Errorf("tiff: tag %d claims %d bytes", tag, total)
		}
		if total <= 4 {
			e.data = append([]byte(nil), raw[8:8+total]...)
		} else {
			e.data = make([]byte, total)
			if _, err := f.r.ReadAt(e.data, int64(f.order.Uint32(raw[8:]))); err != nil {
				return ifd{}, 0, fmt.Errorf("tiff: reading tag %d: %w", tag, err)
			}
		}
		d.entries[tag] = e
	}
	return d, f.order.Uint32(buf[12*n:]), nil
}

// pageReaderAt presents the file with its first-IFD pointer redirected, so
// a single-image decoder reads an arbitrary page.
type pageReaderAt struct {
	r      io.ReaderAt
	header [8]byte
}

func (p *pageReaderAt) ReadAt(b []byte, off int64) (int, error) {
	n, err := p.r.ReadAt(b, off)
	for i := 0; i < n && off+int64(i) < 8; i++ {
		b[i] = p.header[off+int64(i)]
	}
	return n, err
}

// page holds the decoded samples of one IFD, one plane per sample.
type page struct {
	width, height int
	bits          int
	planes        [][]float32
	palette       color.Palette
}

func (f *tiffFile) decodePage(i int) (page, error) {
	d := f.ifds[i]
	p := page{
		width:  int(d.uint(tagImageWidth, f.order, 0)),
		height: int(d.uint(tagImageLength, f.order, 0)),
		bits:   int(d.uint(tagBitsPerSample, f.order, 1)),
	}
	if p.width <= 0 || p.height <= 0 {
		return page{}, fmt.Errorf("tiff: page %d has no size", i+1)
	}
	if d.uint(tagSampleFormat, f.order, 1) == 3 {
		return f.decodeFloatPage(d, p)
	}

	pr := &pageReaderAt{r: f.r}
	if _, err := f.r.ReadAt(pr.header[:4], 0); err != nil {
		return page{}, err
	}
	f.order.PutUint32(pr.header[4:], d.offset)
	img, err := tiff.Decode(io.NewSectionReader(pr, 0, f.size))
	if err != nil {
		var unsupported tiff.UnsupportedError
		if errors.As(err, &unsupported) {
			return page{}, fmt.Errorf("%w: page %d: %v", preparator.ErrInputRejected, i+1, err)
		}
		return page{}, fmt.Errorf("tiff: page %d: %w", i+1, err)
	}
	return fromImage(img, p)
}

func fromImage(img image.Image, p page) (page, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	p.width, p.height = w, h
	plane := func() []float32 { return make([]float32, w*h) }
	switch m := img.(type) {
	case *image.Gray:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g[y*w+x] = float32(m.Pix[y*m.Stride+x])
			}
		}
		p.bits, p.planes = 8, [][]float32{g}
	case *image.Gray16:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				o := y*m.Stride + 2*x
				g[y*w+x] = float32(uint16(m.Pix[o])<<8 | uint16(m.Pix[o+1]))
			}
		}
		p.bits, p.planes = 16, [][]float32{g}
	case *image.Paletted:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g[y*w+x] = float32(m.Pix[y*m.Stride+x])
			}
		}
		p.bits, p.planes, p.palette = 8, [][]float32{g}, m.Palette
	default:
		// Colour pages split into red, green and blue channels.
		r, g, bl := plane(), plane(), plane()
		deep := p.bits > 8
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				if deep {
					r[y*w+x], g[y*w+x], bl[y*w+x] = float32(c.R), float32(c.G), float32(c.B)
				} else {
					r[y*w+x], g[y*w+x], bl[y*w+x] = float32(c.R>>8), float32(c.G>>8), float32(c.B>>8)
				}
			}
		}
		p.bits = 8
		if deep {
			p.bits = 16
		}
		p.planes = [][]float32{r, g, bl}
	}
	return p, nil
}

func (f *tiffFile) decodeFloatPage(d ifd, p page) (page, error) {
	if c := d.uint(tagCompression, f.order, 1); c != 1 {
		return page{}, fmt.Errorf("%w: compressed float TIFF (compression %d)", preparator.ErrInputRejected, c)
	}
	if p.bits != 32 || d.uint(tagSamplesPerPixel, f.order, 1) != 1 {
		return page{}, fmt.Errorf("%w: float TIFF with %d-bit samples", preparator.ErrInputRejected, p.bits)
	}
	offsets := d.entries[tagStripOffsets].uints(f.order)
	counts := d.entries[tagStripByteCounts].uints(f.order)
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return page{}, fmt.Errorf("tiff: float page without strips")
	}
	need := p.width * p.height * 4
	raw := make([]byte, 0, need)
	for i, off := range offsets {
		n := min(int(counts[i]), need-len(raw))
		if n <= 0 {
			break
		}
		chunk := make([]byte, n)
		if _, err := f.r.ReadAt(chunk, int64(off)); err != nil {
			return page{}, fmt.Errorf("tiff: reading strip %d: %w", i, err)
		}
		raw = append(raw, chunk...)
	}
	if len(raw) < need {
		return page{}, fmt.Errorf("tiff: float page truncated: %d of %d bytes", len(raw), need)
	}
	g := make([]float32, p.width*p.height)
	for i := range g {
		g[i] = math.Float32frombits(f.order.Uint32(raw[4*i:]))
	}
	p.planes = [][]float32{g}
	return p, nil
}

// Read loads a TIFF file as a Raster. Stacks with more than one slice or
// frame are returned with their dimensions set but only the first slice
// loaded, so Raster.Check rejects them.
func Read(path string) (*preparator.Raster, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	st, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	r, err := Decode(fh, st.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	r.Title = filepath.Base(path)
	return r, nil
}

// Decode reads a TIFF image from r.
func Decode(r io.ReaderAt, size int64) (*preparator.Raster, error) {
	f, err := parseTIFF(r, size)
	if err != nil {
		return nil, err
	}
	first := f.ifds[0]
	desc := parseDescription(first.entries[tagImageDescription].ascii())
	meta := parseIJMetadata(first, f.order)

	channels, slices, frames := desc.dims(len(f.ifds))
	if !desc.imageJ && len(f.ifds) > 1 {
		// Plain multi-page files are read as channels.
		channels, slices, frames = len(f.ifds), 1, 1
	}

	raster := &preparator.Raster{
		Slices:      slices,
		Frames:      frames,
		Calibration: calibration(first, f.order, desc),
	}
	pages := min(channels, len(f.ifds))
	for i := 0; i < pages; i++ {
		p, err := f.decodePage(i)
		if err != nil {
			raster.Close()
			return nil, err
		}
		if i == 0 {
			raster.Width, raster.Height, raster.BitDepth = p.width, p.height, p.bits
		} else if p.width != raster.Width || p.height != raster.Height {
			raster.Close()
			return nil, fmt.Errorf("%w: page %d is %dx%d, first page %dx%d",
				preparator.ErrInputRejected, i+1, p.width, p.height, raster.Width, raster.Height)
		}
		if p.bits > raster.BitDepth {
			raster.BitDepth = p.bits
		}
		for _, plane := range p.planes {
			ch := preparator.Channel{Data: preparator.MatFromData(p.height, p.width, plane)}
			if p.palette != nil {
				ch.LUT = paletteLUT(p.palette)
			}
			raster.Channels = append(raster.Channels, ch)
		}
	}
	if len(raster.Channels) == 3 && pages == 1 {
		raster.Channels[0].LUT = preparator.PrimaryLUT("Red", true, false, false)
		raster.Channels[1].LUT = preparator.PrimaryLUT("Green", false, true, false)
		raster.Channels[2].LUT = preparator.PrimaryLUT("Blue", false, false, true)
	}
	for i := range raster.Channels {
		if i < len(meta.labels) {
			raster.Channels[i].Label = meta.labels[i]
		}
		if i < len(meta.luts) {
			raster.Channels[i].LUT = meta.luts[i]
		}
	}
	return raster, nil
}

func paletteLUT(p color.Palette) *preparator.LUT {
	lut := &preparator.LUT{Name: "Palette"}
	for i := 0; i < 256 && i < len(p); i++ {
		c := color.NRGBAModel.Convert(p[i]).(color.NRGBA)
		lut.R[i], lut.G[i], lut.B[i] = c.R, c.G, c.B
	}
	if lut.IsGray() {
		return nil
	}
	return lut
}

// calibration derives the pixel size from the resolution tags. ImageJ
// stores pixels per unit and names the unit in its description.
func calibration(d ifd, order binary.ByteOrder, desc description) preparator.Calibration {
	cal := preparator.DefaultCalibration
	xres := d.entries[tagXResolution].rational(order)
	yres := d.entries[tagYResolution].rational(order)
	if xres <= 0 {
		return cal
	}
	if yres <= 0 {
		yres = xres
	}
	unit := desc.unit
	if unit == "" {
		switch d.uint(tagResolutionUnit, order, 2) {
		case 2:
			unit = "inch"
		case 3:
			unit = "cm"
		default:
			return cal
		}
	}
	if unit == "pixel" && xres == 1 && yres == 1 {
		return cal
	}
	return preparator.Calibration{PixelWidth: 1 / xres, PixelHeight: 1 / yres, Unit: unit}
}
