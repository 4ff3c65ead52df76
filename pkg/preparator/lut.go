package preparator

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// LUT is a 256-entry colour table in the ImageJ layout.
type LUT struct {
	Name    string
	R, G, B [256]uint8
}

// GrayLUT is the linear grayscale ramp.
func GrayLUT() *LUT {
	lut := &LUT{Name: "Grays"}
	for i := 0; i < 256; i++ {
		lut.R[i], lut.G[i], lut.B[i] = uint8(i), uint8(i), uint8(i)
	}
	return lut
}

// PrimaryLUT returns a black-to-colour ramp; r, g and b select the
// components that follow the ramp.
func PrimaryLUT(name string, r, g, b bool) *LUT {
	lut := &LUT{Name: name}
	for i := 0; i < 256; i++ {
		v := uint8(i)
		if r {
			lut.R[i] = v
		}
		if g {
			lut.G[i] = v
		}
		if b {
			lut.B[i] = v
		}
	}
	return lut
}

// IsGray reports whether every entry is a neutral gray of its own index.
func (l *LUT) IsGray() bool {
	if l == nil {
		return true
	}
	for i := 0; i < 256; i++ {
		if int(l.R[i]) != i || int(l.G[i]) != i || int(l.B[i]) != i {
			return false
		}
	}
	return true
}

// Clone returns a deep copy; nil stays nil.
func (l *LUT) Clone() *LUT {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

const goldenAngle = 137.50776405003785

// CategoricalLUT is a fixed palette for instance label images: entry 0 is
// black, every other entry walks the HCL hue circle by the golden angle
// so neighbouring ids get clearly different colours.
func CategoricalLUT() *LUT {
	lut := &LUT{Name: "Labels"}
	lightness := [3]float64{0.75, 0.6, 0.85}
	for i := 1; i < 256; i++ {
		hue := math.Mod(float64(i-1)*goldenAngle, 360)
		c := colorful.Hcl(hue, 0.55, lightness[i%3]).Clamped()
		lut.R[i], lut.G[i], lut.B[i] = c.RGB255()
	}
	return lut
}
