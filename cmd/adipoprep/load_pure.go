//go:build purego || js

package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"adipoprep/pkg/preparator"
)

// loadOtherImage reads PNG, JPEG and BMP images. Colour images become red,
// green and blue channels.
func loadOtherImage(path string) (*preparator.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", preparator.ErrInputRejected, filepath.Base(path), err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	r := &preparator.Raster{
		Title:       filepath.Base(path),
		Width:       w,
		Height:      h,
		Slices:      1,
		Frames:      1,
		Calibration: preparator.DefaultCalibration,
	}
	plane := func() []float32 { return make([]float32, w*h) }
	add := func(p []float32) {
		r.Channels = append(r.Channels, preparator.Channel{Data: preparator.MatFromData(h, w, p)})
	}

	switch m := img.(type) {
	case *image.Gray:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g[y*w+x] = float32(m.Pix[y*m.Stride+x])
			}
		}
		r.BitDepth = 8
		add(g)
		return r, nil
	case *image.Gray16:
		g := plane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				o := y*m.Stride + 2*x
				g[y*w+x] = float32(uint16(m.Pix[o])<<8 | uint16(m.Pix[o+1]))
			}
		}
		r.BitDepth = 16
		add(g)
		return r, nil
	case *image.RGBA64, *image.NRGBA64:
		rgba := image.NewNRGBA64(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		red, green, blue := plane(), plane(), plane()
		for i := 0; i < w*h; i++ {
			o := 8 * i
			red[i] = float32(uint16(rgba.Pix[o])<<8 | uint16(rgba.Pix[o+1]))
			green[i] = float32(uint16(rgba.Pix[o+2])<<8 | uint16(rgba.Pix[o+3]))
			blue[i] = float32(uint16(rgba.Pix[o+4])<<8 | uint16(rgba.Pix[o+5]))
		}
		r.BitDepth = 16
		add(red)
		add(green)
		add(blue)
	default:
		rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		red, green, blue := plane(), plane(), plane()
		for i := 0; i < w*h; i++ {
			o := 4 * i
			red[i], green[i], blue[i] = float32(rgba.Pix[o]), float32(rgba.Pix[o+1]), float32(rgba.Pix[o+2])
		}
		r.BitDepth = 8
		add(red)
		add(green)
		add(blue)
	}
	r.Channels[0].LUT = preparator.PrimaryLUT("Red", true, false, false)
	r.Channels[1].LUT = preparator.PrimaryLUT("Green", false, true, false)
	r.Channels[2].LUT = preparator.PrimaryLUT("Blue", false, false, true)
	return r, nil
}
