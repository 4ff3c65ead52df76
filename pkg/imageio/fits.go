package imageio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"adipoprep/pkg/preparator"
)

const (
	fitsRecord = 80
	fitsBlock  = 36 * fitsRecord
)

// ErrNotFITS is returned for inputs without a FITS primary header.
var ErrNotFITS = errors.New("not a FITS file")

// FitsHeader holds parsed FITS header key-value pairs.
type FitsHeader map[string]string

func (h FitsHeader) Get(key string) string {
	return h[strings.ToUpper(key)]
}

func (h FitsHeader) Float(key string) (float64, bool) {
	v, ok := h[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (h FitsHeader) Int(key string) (int, bool) {
	v, ok := h[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

// IsFITS reports whether path has a FITS extension.
func IsFITS(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return true
	}
	return false
}

// ReadFITS loads the primary HDU of a FITS file. A third axis is read as
// channels; a fourth axis of more than one plane is kept as frames so
// Raster.Check rejects it.
func ReadFITS(path string) (*preparator.Raster, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer fh.Close()
	r, _, err := DecodeFITS(bufio.NewReader(fh))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	r.Title = filepath.Base(path)
	return r, nil
}

// DecodeFITS reads a FITS primary HDU from r.
func DecodeFITS(r io.Reader) (*preparator.Raster, FitsHeader, error) {
	header, err := readFitsHeader(r)
	if err != nil {
		return nil, nil, err
	}
	bitpix, _ := header.Int("BITPIX")
	naxis, _ := header.Int("NAXIS")
	width, _ := header.Int("NAXIS1")
	height, _ := header.Int("NAXIS2")
	if naxis < 2 || width <= 0 || height <= 0 {
		return nil, nil, fmt.Errorf("%w: FITS with NAXIS=%d, NAXIS1=%d, NAXIS2=%d",
			preparator.ErrInputRejected, naxis, width, height)
	}
	channels, frames := 1, 1
	if naxis >= 3 {
		channels, _ = header.Int("NAXIS3")
	}
	if naxis >= 4 {
		frames, _ = header.Int("NAXIS4")
	}
	if channels < 1 || frames < 1 {
		return nil, nil, fmt.Errorf("%w: FITS with an empty axis", preparator.ErrInputRejected)
	}

	bzero, _ := header.Float("BZERO")
	bscale, ok := header.Float("BSCALE")
	if !ok {
		bscale = 1
	}
	depth, size, err := fitsDepth(bitpix, bzero, bscale)
	if err != nil {
		return nil, nil, err
	}

	raster := &preparator.Raster{
		Width:       width,
		Height:      height,
		BitDepth:    depth,
		Slices:      1,
		Frames:      frames,
		Calibration: fitsCalibration(header),
	}
	n := width * height
	raw := make([]byte, n*size)
	for c := 0; c < channels; c++ {
		if _, err := io.ReadFull(r, raw); err != nil {
			raster.Close()
			return nil, nil, fmt.Errorf("reading FITS plane %d: %w", c+1, err)
		}
		plane := make([]float32, n)
		for i := range plane {
			plane[i] = float32(fitsSample(raw[i*size:], bitpix)*bscale + bzero)
		}
		if depth != 32 {
			for i, v := range plane {
				plane[i] = float32(math.Min(math.Max(float64(v), 0), preparator.MaxValue(depth)))
			}
		}
		flipRows(plane, width, height)
		raster.Channels = append(raster.Channels, preparator.Channel{
			Data:  preparator.MatFromData(height, width, plane),
			Label: header.Get(fmt.Sprintf("CHNAME%d", c+1)),
		})
	}
	return raster, header, nil
}

func readFitsHeader(r io.Reader) (FitsHeader, error) {
	header := FitsHeader{}
	block := make([]byte, fitsBlock)
	for first := true; ; first = false {
		if _, err := io.ReadFull(r, block); err != nil {
			if first {
				return nil, ErrNotFITS
			}
			return nil, fmt.Errorf("reading FITS header: %w", err)
		}
		if first && !strings.HasPrefix(string(block[:fitsRecord]), "SIMPLE  =") {
			return nil, ErrNotFITS
		}
		for i := 0; i < 36; i++ {
			record := string(block[i*fitsRecord : (i+1)*fitsRecord])
			keyword := strings.TrimSpace(record[:8])
			if keyword == "END" {
				return header, nil
			}
			if record[8] != '=' || record[9] != ' ' {
				continue
			}
			raw := strings.TrimSpace(strings.SplitN(record[10:], "/", 2)[0])
			if strings.HasPrefix(raw, "'") {
				// Strings may contain slashes.
				raw = strings.TrimSpace(record[10:])
			}
			if v := parseFitsValue(raw); keyword != "" && v != "" {
				header[keyword] = v
			}
		}
	}
}

// fitsDepth maps BITPIX to a raster depth and the sample size in bytes.
// Signed 16-bit data with the conventional offset of 32768 hold unsigned
// values.
func fitsDepth(bitpix int, bzero, bscale float64) (int, int, error) {
	switch bitpix {
	case 8:
		if bzero == 0 && bscale == 1 {
			return 8, 1, nil
		}
		return 32, 1, nil
	case 16:
		if bscale == 1 && (bzero == 0 || bzero == 32768) {
			return 16, 2, nil
		}
		return 32, 2, nil
	case 32:
		return 32, 4, nil
	case -32:
		return 32, 4, nil
	case -64:
		return 32, 8, nil
	}
	return 0, 0, fmt.Errorf("%w: unsupported BITPIX %d", preparator.ErrInputRejected, bitpix)
}

func fitsSample(b []byte, bitpix int) float64 {
	switch bitpix {
	case 8:
		return float64(b[0])
	case 16:
		return float64(int16(binary.BigEndian.Uint16(b)))
	case 32:
		return float64(int32(binary.BigEndian.Uint32(b)))
	case -32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	default:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
}

// fitsCalibration reads the pixel size from CDELT1/2 (with CUNIT1) or from
// the camera pixel size XPIXSZ/YPIXSZ, which is in microns.
func fitsCalibration(h FitsHeader) preparator.Calibration {
	if dx, ok := h.Float("CDELT1"); ok && dx != 0 {
		dy, ok := h.Float("CDELT2")
		if !ok || dy == 0 {
			dy = dx
		}
		unit := h.Get("CUNIT1")
		if unit == "" {
			unit = "pixel"
		}
		return preparator.Calibration{PixelWidth: math.Abs(dx), PixelHeight: math.Abs(dy), Unit: unit}
	}
	if dx, ok := h.Float("XPIXSZ"); ok && dx > 0 {
		dy, ok := h.Float("YPIXSZ")
		if !ok || dy <= 0 {
			dy = dx
		}
		return preparator.Calibration{PixelWidth: dx, PixelHeight: dy, Unit: "micron"}
	}
	return preparator.DefaultCalibration
}

// flipRows turns the bottom-up FITS row order into top-down.
func flipRows(p []float32, width, height int) {
	row := make([]float32, width)
	for y := 0; y < height/2; y++ {
		top := p[y*width : (y+1)*width]
		bottom := p[(height-1-y)*width : (height-y)*width]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}

func parseFitsValue(raw string) string {
	switch raw {
	case "":
		return ""
	case "T":
		return "True"
	case "F":
		return "False"
	}
	if strings.HasPrefix(raw, "'") {
		// '' is an escaped quote inside a string.
		s := raw[1:]
		var sb strings.Builder
		for i := 0; i < len(s); i++ {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				break
			}
			sb.WriteByte(s[i])
		}
		return strings.TrimRight(sb.String(), " ")
	}
	return raw
}
