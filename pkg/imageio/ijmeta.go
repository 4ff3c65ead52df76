package imageio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"adipoprep/pkg/preparator"
)

const imageJVersion = "1.54f"

// IJMetadata block types.
const (
	ijMagic = 0x494a494a // "IJIJ"
	ijLabel = 0x6c61626c // "labl"
	ijLUTs  = 0x6c757473 // "luts"
)

// description is the parsed ImageJ ImageDescription.
type description struct {
	imageJ   bool
	images   int
	channels int
	slices   int
	frames   int
	unit     string
	set      map[string]bool
}

func parseDescription(s string) description {
	d := description{set: map[string]bool{}}
	if !strings.HasPrefix(s, "ImageJ=") {
		return d
	}
	d.imageJ = true
	for _, line := range strings.Split(s, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		d.set[key] = true
		n, _ := strconv.Atoi(value)
		switch key {
		case "images":
			d.images = n
		case "channels":
			d.channels = n
		case "slices":
			d.slices = n
		case "frames":
			d.frames = n
		case "unit":
			d.unit = unescapeUnit(value)
		}
	}
	return d
}

// dims returns channels, slices and frames. An ImageJ stack without
// explicit dimensions is a z-stack of all its images.
func (d description) dims(pages int) (int, int, int) {
	c, z, t := max(d.channels, 1), max(d.slices, 1), max(d.frames, 1)
	if d.imageJ && !d.set["channels"] && !d.set["slices"] && !d.set["frames"] {
		z = max(d.images, 1)
	}
	if !d.imageJ {
		c, z, t = 1, 1, 1
	}
	if c > pages {
		c = pages
	}
	return c, z, t
}

// unescapeUnit decodes the \uXXXX escapes ImageJ writes for non-ASCII units.
func unescapeUnit(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

func escapeUnit(s string) string {
	q := strconv.QuoteToASCII(s)
	return q[1 : len(q)-1]
}

func formatDescription(r *preparator.Raster) string {
	var sb strings.Builder
	n := r.NumChannels()
	fmt.Fprintf(&sb, "ImageJ=%s\n", imageJVersion)
	fmt.Fprintf(&sb, "images=%d\n", n)
	if n > 1 {
		fmt.Fprintf(&sb, "channels=%d\n", n)
		sb.WriteString("hyperstack=true\nmode=composite\n")
	}
	if r.Calibration.Scaled() {
		fmt.Fprintf(&sb, "unit=%s\n", escapeUnit(r.Calibration.UnitName()))
	}
	sb.WriteString("loop=false\n")
	if r.BitDepth == 16 || r.BitDepth == 32 {
		lo, hi := 0.0, preparator.MaxValue(r.BitDepth)
		if r.BitDepth == 32 {
			lo, hi = dataRange(r)
		}
		fmt.Fprintf(&sb, "min=%s\nmax=%s\n", strconv.FormatFloat(lo, 'f', -1, 64), strconv.FormatFloat(hi, 'f', -1, 64))
	}
	return sb.String()
}

// dataRange is the sample range over all channels of a float raster.
func dataRange(r *preparator.Raster) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ch := range r.Channels {
		for _, v := range ch.Data.DataFloat32()[:r.Width*r.Height] {
			f := float64(v)
			if math.IsNaN(f) {
				continue
			}
			lo, hi = math.Min(lo, f), math.Max(hi, f)
		}
	}
	if lo > hi {
		return 0, 1
	}
	return lo, hi
}

type ijMetadata struct {
	labels []string
	luts   []*preparator.LUT
}

// parseIJMetadata decodes slice labels and LUTs; malformed blocks are
// ignored.
func parseIJMetadata(d ifd, order binary.ByteOrder) ijMetadata {
	var meta ijMetadata
	countsEntry, ok1 := d.entries[tagIJMetaCounts]
	dataEntry, ok2 := d.entries[tagIJMeta]
	if !ok1 || !ok2 {
		return meta
	}
	counts := countsEntry.uints(order)
	data := dataEntry.data
	if len(counts) == 0 || int(counts[0]) > len(data) || counts[0] < 4 || order.Uint32(data) != ijMagic {
		return meta
	}
	header := data[4:counts[0]]
	off := int(counts[0])
	idx := 1
	for len(header) >= 8 {
		typ, n := order.Uint32(header), int(order.Uint32(header[4:]))
		header = header[8:]
		for j := 0; j < n; j++ {
			if idx >= len(counts) {
				return meta
			}
			size := int(counts[idx])
			idx++
			if off+size > len(data) {
				return meta
			}
			block := data[off : off+size]
			off += size
			switch typ {
			case ijLabel:
				meta.labels = append(meta.labels, decodeUTF16(block, order))
			case ijLUTs:
				if len(block) == 768 {
					lut := &preparator.LUT{Name: fmt.Sprintf("LUT %d", j+1)}
					copy(lut.R[:], block[:256])
					copy(lut.G[:], block[256:512])
					copy(lut.B[:], block[512:])
					meta.luts = append(meta.luts, lut)
				}
			}
		}
	}
	return meta
}

func decodeUTF16(b []byte, order binary.ByteOrder) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = order.Uint16(b[2*i:])
	}
	return string(utf16.Decode(u))
}

// encodeIJMetadata returns the byte counts and data of the IJMetadata tags
// for the labels and LUTs of r.
func encodeIJMetadata(r *preparator.Raster, order binary.ByteOrder) ([]uint32, []byte) {
	hasLabels := false
	for _, ch := range r.Channels {
		if ch.Label != "" {
			hasLabels = true
		}
	}
	n := r.NumChannels()
	types := 0
	if hasLabels {
		types++
	}
	// A composite needs a LUT per channel to reopen with its colours.
	types++

	var buf bytes.Buffer
	put := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	put(ijMagic)
	if hasLabels {
		put(ijLabel)
		put(uint32(n))
	}
	put(ijLUTs)
	put(uint32(n))
	counts := []uint32{uint32(4 + 8*types)}

	if hasLabels {
		for _, ch := range r.Channels {
			u := utf16.Encode([]rune(ch.Label))
			for _, c := range u {
				var b [2]byte
				order.PutUint16(b[:], c)
				buf.Write(b[:])
			}
			counts = append(counts, uint32(2*len(u)))
		}
	}
	for _, ch := range r.Channels {
		lut := ch.LUT
		if lut == nil {
			lut = preparator.GrayLUT()
		}
		buf.Write(lut.R[:])
		buf.Write(lut.G[:])
		buf.Write(lut.B[:])
		counts = append(counts, 768)
	}
	return counts, buf.Bytes()
}
