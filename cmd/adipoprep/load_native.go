//go:build !purego && !js

package main

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"

	"adipoprep/pkg/preparator"
)

// loadOtherImage reads formats other than TIFF and FITS through OpenCV.
// Colour images become red, green and blue channels.
func loadOtherImage(path string) (*preparator.Raster, error) {
	src := gocv.IMRead(path, gocv.IMReadUnchanged)
	if src.Empty() {
		return nil, fmt.Errorf("%w: could not load image: %s", preparator.ErrInputRejected, filepath.Base(path))
	}
	defer src.Close()

	w, h := src.Cols(), src.Rows()
	planes := gocv.Split(src)
	defer func() {
		for _, p := range planes {
			p.Close()
		}
	}()
	depth := 32
	switch planes[0].Type() {
	case gocv.MatTypeCV8U:
		depth = 8
	case gocv.MatTypeCV16U:
		depth = 16
	}
	// OpenCV orders colour planes BGR(A); alpha is dropped.
	order := []int{0}
	if len(planes) >= 3 {
		order = []int{2, 1, 0}
	}

	r := &preparator.Raster{
		Title:       filepath.Base(path),
		Width:       w,
		Height:      h,
		BitDepth:    depth,
		Slices:      1,
		Frames:      1,
		Calibration: preparator.DefaultCalibration,
	}
	for _, idx := range order {
		f := gocv.NewMat()
		planes[idx].ConvertTo(&f, gocv.MatTypeCV32F)
		data, err := f.DataPtrFloat32()
		if err != nil {
			f.Close()
			r.Close()
			return nil, err
		}
		plane := make([]float32, w*h)
		copy(plane, data)
		f.Close()
		r.Channels = append(r.Channels, preparator.Channel{Data: preparator.MatFromData(h, w, plane)})
	}
	if len(order) == 3 {
		r.Channels[0].LUT = preparator.PrimaryLUT("Red", true, false, false)
		r.Channels[1].LUT = preparator.PrimaryLUT("Green", false, true, false)
		r.Channels[2].LUT = preparator.PrimaryLUT("Blue", false, false, true)
	}
	return r, nil
}
