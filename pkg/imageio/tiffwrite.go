package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"adipoprep/pkg/preparator"
)

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte // inline when len <= 4, else stored at offset
}

// Encode writes r as an uncompressed big-endian multi-page TIFF, one page
// per channel, with the ImageJ description, resolution tags, slice labels
// and LUTs.
func Encode(w io.Writer, r *preparator.Raster) error {
	if err := r.Check(); err != nil {
		return err
	}
	order := binary.BigEndian
	bytesPerSample := r.BitDepth / 8
	pageBytes := r.Width * r.Height * bytesPerSample

	var body bytes.Buffer
	body.Write([]byte{'M', 'M', 0, 42, 0, 0, 0, 0})
	pad := func() {
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}

	dataOffsets := make([]uint32, r.NumChannels())
	for i, ch := range r.Channels {
		dataOffsets[i] = uint32(body.Len())
		writeSamples(&body, ch.Data, r.BitDepth, order)
		pad()
	}

	u16 := func(v uint16) []byte { b := make([]byte, 2); order.PutUint16(b, v); return b }
	u32 := func(v uint32) []byte { b := make([]byte, 4); order.PutUint32(b, v); return b }
	rational := func(v float64) []byte {
		const den = 1000000
		num := math.Round(v * den)
		if num > math.MaxUint32 || num <= 0 {
			num = den
		}
		b := make([]byte, 8)
		order.PutUint32(b, uint32(num))
		order.PutUint32(b[4:], den)
		return b
	}

	desc := append([]byte(formatDescription(r)), 0)
	metaCounts, metaData := encodeIJMetadata(r, order)
	metaCountBytes := make([]byte, 4*len(metaCounts))
	for i, c := range metaCounts {
		order.PutUint32(metaCountBytes[4*i:], c)
	}

	cal := r.Calibration
	resUnit := uint16(1)
	switch cal.Unit {
	case "inch":
		resUnit = 2
	case "cm":
		resUnit = 3
	}
	sampleFormat := uint16(1)
	if r.BitDepth == 32 {
		sampleFormat = 3
	}

	ifds := make([][]outEntry, r.NumChannels())
	for i := range r.Channels {
		e := []outEntry{
			{tagNewSubfileType, typeLong, 1, u32(0)},
			{tagImageWidth, typeLong, 1, u32(uint32(r.Width))},
			{tagImageLength, typeLong, 1, u32(uint32(r.Height))},
			{tagBitsPerSample, typeShort, 1, u16(uint16(r.BitDepth))},
			{tagCompression, typeShort, 1, u16(1)},
			{tagPhotometric, typeShort, 1, u16(1)},
			{tagStripOffsets, typeLong, 1, u32(dataOffsets[i])},
			{tagSamplesPerPixel, typeShort, 1, u16(1)},
			{tagRowsPerStrip, typeLong, 1, u32(uint32(r.Height))},
			{tagStripByteCounts, typeLong, 1, u32(uint32(pageBytes))},
			{tagXResolution, typeRational, 1, rational(1 / cal.PixelWidth)},
			{tagYResolution, typeRational, 1, rational(1 / cal.PixelHeight)},
			{tagResolutionUnit, typeShort, 1, u16(resUnit)},
			{tagSampleFormat, typeShort, 1, u16(sampleFormat)},
		}
		if i == 0 {
			e = append(e,
				outEntry{tagImageDescription, typeASCII, uint32(len(desc)), desc},
				outEntry{tagIJMetaCounts, typeLong, uint32(len(metaCounts)), metaCountBytes},
				outEntry{tagIJMeta, typeByte, uint32(len(metaData)), metaData},
			)
		}
		sort.Slice(e, func(a, b int) bool { return e[a].tag < e[b].tag })
		ifds[i] = e
	}

	// Out-of-line values go after the pixel data, then the directories.
	for _, e := range ifds {
		for j := range e {
			if len(e[j].value) > 4 {
				off := uint32(body.Len())
				body.Write(e[j].value)
				pad()
				e[j].value = u32(off)
			}
		}
	}

	ifdOffsets := make([]uint32, len(ifds))
	off := uint32(body.Len())
	for i, e := range ifds {
		ifdOffsets[i] = off
		off += uint32(2 + 12*len(e) + 4)
	}
	for i, e := range ifds {
		body.Write(u16(uint16(len(e))))
		for _, en := range e {
			body.Write(u16(en.tag))
			body.Write(u16(en.typ))
			body.Write(u32(en.count))
			var v [4]byte
			copy(v[:], en.value)
			body.Write(v[:])
		}
		next := uint32(0)
		if i+1 < len(ifds) {
			next = ifdOffsets[i+1]
		}
		body.Write(u32(next))
	}

	out := body.Bytes()
	order.PutUint32(out[4:], ifdOffsets[0])
	_, err := w.Write(out)
	return err
}

func writeSamples(buf *bytes.Buffer, m preparator.Mat, depth int, order binary.ByteOrder) {
	data := m.DataFloat32()[:m.Rows()*m.Cols()]
	hi := preparator.MaxValue(depth)
	clamp := func(v float32) float64 {
		f := math.Round(float64(v))
		return math.Min(math.Max(f, 0), hi)
	}
	switch depth {
	case 8:
		row := make([]byte, len(data))
		for i, v := range data {
			row[i] = uint8(clamp(v))
		}
		buf.Write(row)
	case 16:
		row := make([]byte, 2*len(data))
		for i, v := range data {
			order.PutUint16(row[2*i:], uint16(clamp(v)))
		}
		buf.Write(row)
	default:
		row := make([]byte, 4*len(data))
		for i, v := range data {
			order.PutUint32(row[4*i:], math.Float32bits(v))
		}
		buf.Write(row)
	}
}

// Write saves r to path as an ImageJ TIFF.
func Write(path string, r *preparator.Raster) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(fh)
	if err := Encode(bw, r); err != nil {
		fh.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
