package preparator

import "fmt"

// ComposeOptions controls which source channels appear in the output.
type ComposeOptions struct {
	// DeleteOtherChannels drops source channels that were not segmented.
	DeleteOtherChannels bool `yaml:"delete_other_channels"`
	// IncludeDuplicateChannel keeps an unmodified copy of every segmented
	// channel right after its segmentation.
	IncludeDuplicateChannel bool `yaml:"include_duplicate_channel"`
}

// ChannelResult is the refined segmentation of one ChannelConfig.
type ChannelResult struct {
	Params ChannelParams
	Seg    Segmentation
	Bounds Bounds
}

// Source is the 1-based source channel index.
func (r ChannelResult) Source() int { return r.Params.Config.Channel }

// OutputChannel records where an output channel came from.
type OutputChannel struct {
	Index      int // 1-based position in the output
	Source     int // 1-based source channel
	Segmented  bool
	Kind       Kind
	Label      string
	Provenance string
}

// outputDepth returns the bit depth able to hold every label id.
func outputDepth(depth int, results []ChannelResult) int {
	if depth == 32 {
		return 32
	}
	need := 0
	for _, r := range results {
		if r.Seg.Kind == KindLabels && r.Seg.Count > need {
			need = r.Seg.Count
		}
	}
	for depth < 32 && float64(need) > MaxValue(depth) {
		if depth == 8 {
			depth = 16
		} else {
			depth = 32
		}
	}
	return depth
}

// Compose assembles the output raster: for each source channel in order,
// its segmentations (in config order), then the original when duplicated
// or, for unsegmented channels, when other channels are kept. Channel data
// are copied; src and results are not modified.
func Compose(src *Raster, results []ChannelResult, opts ComposeOptions) (*Raster, []OutputChannel) {
	depth := outputDepth(src.BitDepth, results)
	out := &Raster{
		Title:       src.Title,
		Width:       src.Width,
		Height:      src.Height,
		BitDepth:    depth,
		Slices:      1,
		Frames:      1,
		Calibration: src.Calibration,
	}
	var prov []OutputChannel

	emit := func(ch Channel, oc OutputChannel) {
		out.Channels = append(out.Channels, ch)
		oc.Index = len(out.Channels)
		oc.Label = ch.Label
		prov = append(prov, oc)
	}

	for c := 1; c <= src.NumChannels(); c++ {
		orig := src.Channels[c-1]
		segmented := false
		for _, r := range results {
			if r.Source() != c {
				continue
			}
			segmented = true
			var data Mat
			var lut *LUT
			if r.Seg.Kind == KindLabels {
				data = r.Seg.Data.Clone()
				lut = CategoricalLUT()
			} else {
				data = NewMat()
				thresholdBinary(r.Seg.Data, &data, 0, MaskValue(depth))
				lut = GrayLUT()
			}
			emit(Channel{Data: data, Label: "segm " + src.SliceLabel(c), LUT: lut}, OutputChannel{
				Source:     c,
				Segmented:  true,
				Kind:       r.Seg.Kind,
				Provenance: fmt.Sprintf("previous channel %d (segmented)", c),
			})
		}
		if segmented && !opts.IncludeDuplicateChannel {
			continue
		}
		if !segmented && opts.DeleteOtherChannels {
			continue
		}
		emit(Channel{Data: orig.Data.Clone(), Label: orig.Label, LUT: orig.LUT.Clone()}, OutputChannel{
			Source:     c,
			Provenance: fmt.Sprintf("previous channel %d (unsegmented)", c),
		})
	}
	return out, prov
}
