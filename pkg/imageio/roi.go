package imageio

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"adipoprep/pkg/preparator"
)

// ROIImage renders roi as a binary 8-bit image, 255 inside.
func ROIImage(roi *preparator.ROI) *image.Gray {
	return &image.Gray{
		Pix:    roi.Gray8(),
		Stride: roi.Width,
		Rect:   image.Rect(0, 0, roi.Width, roi.Height),
	}
}

// WriteROI saves roi as a PNG mask.
func WriteROI(path string, roi *preparator.ROI) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(fh, ROIImage(roi)); err != nil {
		fh.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return fh.Close()
}
