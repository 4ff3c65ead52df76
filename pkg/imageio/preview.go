package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"adipoprep/pkg/preparator"
)

const (
	previewTile    = 256
	previewCaption = 20
	previewFooter  = 24
	previewGap     = 4
)

// WritePreview writes a JPEG contact sheet of the output channels of res.
func WritePreview(path string, res *preparator.TaskResult) error {
	data, err := PreviewBytes(res)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}

// PreviewBytes renders the contact sheet and returns it as JPEG bytes.
func PreviewBytes(res *preparator.TaskResult) ([]byte, error) {
	img, err := RenderPreview(res)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPreview lays the output channels side by side, each scaled to fit
// a square tile, coloured through its LUT and captioned with its label.
func RenderPreview(res *preparator.TaskResult) (*image.RGBA, error) {
	if res == nil || res.Output == nil || res.Output.NumChannels() == 0 {
		return nil, fmt.Errorf("no output to preview")
	}
	out := res.Output
	scale := math.Min(float64(previewTile)/float64(out.Width), float64(previewTile)/float64(out.Height))
	if scale > 1 {
		scale = 1
	}
	tileW := max(1, int(float64(out.Width)*scale))
	tileH := max(1, int(float64(out.Height)*scale))

	n := out.NumChannels()
	imgW := n*tileW + (n+1)*previewGap
	imgH := tileH + previewCaption + previewFooter + previewGap
	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 255}), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	white := color.RGBA{255, 255, 255, 255}
	for i, ch := range out.Channels {
		kind, segmented := preparator.KindMask, false
		if i < len(res.Channels) {
			kind, segmented = res.Channels[i].Kind, res.Channels[i].Segmented
		}
		full := renderChannel(ch, out.Width, out.Height, segmented && kind == preparator.KindLabels)
		x0 := previewGap + i*(tileW+previewGap)
		dst := image.Rect(x0, previewGap, x0+tileW, previewGap+tileH)
		draw.ApproxBiLinear.Scale(img, dst, full, full.Bounds(), draw.Src, nil)

		caption := fmt.Sprintf("C%d %s", i+1, out.SliceLabel(i+1))
		drawText(img, face, fitText(face, caption, tileW), x0, previewGap+tileH+15, white)
	}

	summary := out.Title
	if res.Duration > 0 {
		summary = fmt.Sprintf("%s  %.1fs", summary, res.Duration.Seconds())
	}
	drawText(img, face, fitText(face, summary, imgW-2*previewGap), previewGap, imgH-8, color.RGBA{180, 180, 180, 255})
	return img, nil
}

// renderChannel maps a channel through its LUT at full resolution. Label
// images cycle through the palette; everything else is stretched over its
// own value range.
func renderChannel(ch preparator.Channel, width, height int, labels bool) *image.RGBA {
	lut := ch.LUT
	if lut == nil {
		lut = preparator.GrayLUT()
	}
	data := ch.Data.DataFloat32()[:width*height]
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, v := range data {
		var idx int
		switch {
		case labels && v > 0:
			idx = (int(v)-1)%255 + 1
		case labels:
			idx = 0
		case span <= 0:
			if v > 0 {
				idx = 255
			}
		default:
			idx = min(max(int(255*(v-lo)/span), 0), 255)
		}
		o := 4 * i
		img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = lut.R[idx], lut.G[idx], lut.B[idx], 255
	}
	return img
}

func fitText(face font.Face, s string, width int) string {
	r := []rune(s)
	for len(r) > 1 && font.MeasureString(face, string(r)).Ceil() > width {
		r = r[:len(r)-1]
	}
	return string(r)
}

func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
