package preparator

import "fmt"

// ValidatedRegion returns R: the mask with gaps up to linkRadius bridged,
// every enclosed hole filled, and every structure thinner than
// removeRadius opened away. Radii are in px; non-positive radii skip their
// step.
func ValidatedRegion(mask Mat, linkRadius, removeRadius float64, fg float32) Mat {
	bridged := Dilate(mask, linkRadius)
	defer bridged.Close()
	filled := FillHoles(bridged, fg)
	defer filled.Close()
	unbridged := Erode(filled, linkRadius)
	defer unbridged.Close()
	return Opening(unbridged, removeRadius)
}

// ExtractCavities keeps the background pixels of mask that lie inside its
// validated region: the unstained voids enclosed by confirmed tissue.
func ExtractCavities(mask Mat, linkRadius, removeRadius float64, fg float32) Mat {
	region := ValidatedRegion(mask, linkRadius, removeRadius, fg)
	defer region.Close()
	background := Invert(mask, fg)
	defer background.Close()
	cavities := And(region, background)
	defer cavities.Close()
	// Normalise to {0, fg}.
	out := NewMat()
	thresholdBinary(cavities, &out, 0, fg)
	return out
}

// Despeckle is a 3x3 median filter.
func Despeckle(mask Mat) Mat {
	dst := NewMat()
	medianBlur(mask, &dst, 3)
	return dst
}

// Refine cleans up a threshold mask: despeckle, cavity extraction, hole
// filling and watershed, each when enabled. depth selects the mask
// foreground value. Label images are returned as a copy without any
// processing. The input is never modified.
func Refine(seg Segmentation, depth int, p ChannelParams) (Segmentation, error) {
	switch seg.Kind {
	case KindLabels:
		return seg.Clone(), nil
	case KindMask:
	default:
		return Segmentation{}, fmt.Errorf("refine: unsupported segmentation kind %v", seg.Kind)
	}

	c := p.Config
	fg := MaskValue(depth)
	cur := seg.Data.Clone()

	if c.Despeckle {
		next := Despeckle(cur)
		cur.Close()
		cur = next
	}
	if c.RemoveSmallRegions {
		next := ExtractCavities(cur, p.LinkRadiusPx, p.RemoveRadiusPx, fg)
		cur.Close()
		cur = next
	}
	if c.FillHoles {
		next := FillHoles(cur, fg)
		cur.Close()
		cur = next
	}
	if c.Watershed {
		next := Watershed(cur, fg)
		cur.Close()
		cur = next
	}
	return NewMask(cur), nil
}
