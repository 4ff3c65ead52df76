package imageio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"adipoprep/pkg/preparator"
)

// fitsFile builds a FITS primary HDU from header cards and big-endian data.
func fitsFile(cards []string, data []byte) []byte {
	var buf bytes.Buffer
	for _, c := range append(cards, "END") {
		buf.WriteString(fmt.Sprintf("%-80s", c))
	}
	for buf.Len()%fitsBlock != 0 {
		buf.WriteByte(' ')
	}
	buf.Write(data)
	for buf.Len()%fitsBlock != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func card(key, value string) string {
	return fmt.Sprintf("%-8s= %20s", key, value)
}

func TestDecodeFITS16BitChannels(t *testing.T) {
	// Two 2x2 planes, unsigned through BZERO; rows are stored bottom-up.
	values := []int{10, 20, 30, 40, 0, 65535, 1000, 2000}
	var data []byte
	for _, v := range values {
		data = binary.BigEndian.AppendUint16(data, uint16(int16(v-32768)))
	}
	file := fitsFile([]string{
		card("SIMPLE", "T"),
		card("BITPIX", "16"),
		card("NAXIS", "3"),
		card("NAXIS1", "2"),
		card("NAXIS2", "2"),
		card("NAXIS3", "2"),
		card("BZERO", "32768"),
		card("XPIXSZ", "0.65"),
		card("CHNAME1", "'DAPI / nuclei'"),
	}, data)

	r, header, err := DecodeFITS(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("DecodeFITS: %v", err)
	}
	defer r.Close()
	if err := r.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if r.BitDepth != 16 || r.NumChannels() != 2 || r.Width != 2 || r.Height != 2 {
		t.Fatalf("read %dx%d %d-bit, %d channels", r.Width, r.Height, r.BitDepth, r.NumChannels())
	}
	want := [][]float32{{30, 40, 10, 20}, {1000, 2000, 0, 65535}}
	for c := range want {
		for i, v := range samples(r.Channels[c].Data) {
			if v != want[c][i] {
				t.Errorf("channel %d sample %d = %v, want %v", c+1, i, v, want[c][i])
			}
		}
	}
	if r.Channels[0].Label != "DAPI / nuclei" {
		t.Errorf("label %q", r.Channels[0].Label)
	}
	if r.Calibration != (preparator.Calibration{PixelWidth: 0.65, PixelHeight: 0.65, Unit: "micron"}) {
		t.Errorf("calibration %v", r.Calibration)
	}
	if header.Get("simple") != "True" {
		t.Errorf("SIMPLE = %q", header.Get("SIMPLE"))
	}
}

func TestDecodeFITSFloat(t *testing.T) {
	var data []byte
	for _, v := range []float32{-1, 0.5, 2.25} {
		data = binary.BigEndian.AppendUint32(data, math.Float32bits(v))
	}
	file := fitsFile([]string{
		card("SIMPLE", "T"),
		card("BITPIX", "-32"),
		card("NAXIS", "2"),
		card("NAXIS1", "3"),
		card("NAXIS2", "1"),
		card("CDELT1", "-0.5"),
		card("CUNIT1", "'um'"),
	}, data)
	r, _, err := DecodeFITS(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("DecodeFITS: %v", err)
	}
	defer r.Close()
	if r.BitDepth != 32 {
		t.Fatalf("depth %d", r.BitDepth)
	}
	for i, want := range []float32{-1, 0.5, 2.25} {
		if v := samples(r.Channels[0].Data)[i]; v != want {
			t.Errorf("sample %d = %v, want %v", i, v, want)
		}
	}
	if r.Calibration != (preparator.Calibration{PixelWidth: 0.5, PixelHeight: 0.5, Unit: "um"}) {
		t.Errorf("calibration %v", r.Calibration)
	}
}

func TestDecodeFITSRejects(t *testing.T) {
	tests := []struct {
		name  string
		cards []string
		want  error
	}{
		{"one axis", []string{card("SIMPLE", "T"), card("BITPIX", "8"), card("NAXIS", "1"), card("NAXIS1", "4")}, preparator.ErrInputRejected},
		{"bad bitpix", []string{card("SIMPLE", "T"), card("BITPIX", "12"), card("NAXIS", "2"), card("NAXIS1", "1"), card("NAXIS2", "1")}, preparator.ErrInputRejected},
		{"not fits", []string{card("BITPIX", "8")}, ErrNotFITS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeFITS(bytes.NewReader(fitsFile(tt.cards, make([]byte, 8))))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeFITSTimeSeriesRejectedByCheck(t *testing.T) {
	file := fitsFile([]string{
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "4"),
		card("NAXIS1", "1"),
		card("NAXIS2", "1"),
		card("NAXIS3", "1"),
		card("NAXIS4", "3"),
	}, []byte{1, 2, 3})
	r, _, err := DecodeFITS(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("DecodeFITS: %v", err)
	}
	defer r.Close()
	if err := r.Check(); !errors.Is(err, preparator.ErrInputRejected) {
		t.Fatalf("Check = %v, want ErrInputRejected", err)
	}
}
