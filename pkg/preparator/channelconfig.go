package preparator

import (
	"fmt"
	"strings"
)

// Names accepted as segmentation methods besides the histogram methods.
const (
	SegmentCustom = "Custom"
	SegmentNeural = "Neural"
)

// PreprocessConfig toggles the optional filters applied before
// thresholding. Radii and sigmas are in calibrated units.
type PreprocessConfig struct {
	SubtractBackground bool    `yaml:"subtract_background"`
	BackgroundRadius   float64 `yaml:"background_radius"`
	Blur               bool    `yaml:"blur"`
	BlurSigma          float64 `yaml:"blur_sigma"`
	HighPass           bool    `yaml:"high_pass"`
	HighPassSigma      float64 `yaml:"high_pass_sigma"`
}

// NeuralConfig configures instance segmentation through a StarDist-style
// model.
type NeuralConfig struct {
	Model            string  `yaml:"model"`
	Library          string  `yaml:"library"` // onnxruntime shared library, empty for the default search path
	PercentileLow    float64 `yaml:"percentile_low"`
	PercentileHigh   float64 `yaml:"percentile_high"`
	ProbThreshold    float64 `yaml:"prob_threshold"`
	OverlapThreshold float64 `yaml:"overlap_threshold"`
	Tiles            int     `yaml:"tiles"`
}

// DefaultNeuralConfig mirrors the StarDist Fiji plugin defaults.
func DefaultNeuralConfig() NeuralConfig {
	return NeuralConfig{
		PercentileLow:    1,
		PercentileHigh:   99.8,
		ProbThreshold:    0.5,
		OverlapThreshold: 0.4,
		Tiles:            1,
	}
}

// SegmentationConfig selects the threshold strategy.
type SegmentationConfig struct {
	Method          string       `yaml:"method"` // histogram method, "Custom" or "Neural"
	DarkBackground  bool         `yaml:"dark_background"`
	CustomThreshold float64      `yaml:"custom_threshold"`
	Neural          NeuralConfig `yaml:"neural"`
}

// ChannelConfig is one segmentation task over a source channel. Radii are
// in calibrated units and converted once by Resolve.
type ChannelConfig struct {
	Channel            int                `yaml:"channel"` // 1-based
	Preprocess         PreprocessConfig   `yaml:"preprocess"`
	ExcludeZeroRegions bool               `yaml:"exclude_zero_regions"`
	ZeroGapRadius      float64            `yaml:"zero_gap_radius"`
	Segmentation       SegmentationConfig `yaml:"segmentation"`
	Despeckle          bool               `yaml:"despeckle"`
	RemoveSmallRegions bool               `yaml:"remove_small_regions"`
	RemoveRadius       float64            `yaml:"remove_radius"`
	BridgeGaps         bool               `yaml:"bridge_gaps"`
	LinkRadius         float64            `yaml:"link_radius"`
	FillHoles          bool               `yaml:"fill_holes"`
	Watershed          bool               `yaml:"watershed"`
}

// NewChannelConfig returns the defaults of the original plugin for the
// given channel.
func NewChannelConfig(channel int) ChannelConfig {
	return ChannelConfig{
		Channel:            channel,
		ExcludeZeroRegions: true,
		ZeroGapRadius:      5,
		Segmentation: SegmentationConfig{
			Method: string(MethodTriangle),
			Neural: DefaultNeuralConfig(),
		},
		Despeckle:          true,
		RemoveSmallRegions: true,
		RemoveRadius:       20,
		FillHoles:          true,
	}
}

// Neural reports whether the config selects instance segmentation.
func (c ChannelConfig) Neural() bool {
	return strings.EqualFold(c.Segmentation.Method, SegmentNeural)
}

// Custom reports whether the config selects a fixed cutoff.
func (c ChannelConfig) Custom() bool {
	return strings.EqualFold(c.Segmentation.Method, SegmentCustom)
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// Validate rejects missing or contradictory parameters. A zero radius
// disables its step; negative values are errors.
func (c ChannelConfig) Validate() error {
	if c.Channel < 1 {
		return invalidf("channel index %d, must be >= 1", c.Channel)
	}
	p := c.Preprocess
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"background radius", p.BackgroundRadius},
		{"blur sigma", p.BlurSigma},
		{"high-pass sigma", p.HighPassSigma},
		{"zero gap radius", c.ZeroGapRadius},
		{"remove radius", c.RemoveRadius},
		{"link radius", c.LinkRadius},
	} {
		if v.value < 0 {
			return invalidf("channel %d: negative %s %g", c.Channel, v.name, v.value)
		}
	}
	if p.HighPass && p.Blur && p.HighPassSigma > 0 && p.HighPassSigma <= p.BlurSigma {
		return invalidf("channel %d: high-pass sigma %g must be larger than blur sigma %g",
			c.Channel, p.HighPassSigma, p.BlurSigma)
	}
	if c.BridgeGaps && !c.RemoveSmallRegions {
		return invalidf("channel %d: gap bridging requires region removal", c.Channel)
	}

	switch {
	case c.Custom():
	case c.Neural():
		n := c.Segmentation.Neural
		if n.Model == "" {
			return invalidf("channel %d: neural segmentation needs a model path", c.Channel)
		}
		if n.PercentileLow < 0 || n.PercentileHigh > 100 || n.PercentileLow >= n.PercentileHigh {
			return invalidf("channel %d: normalization percentiles %g..%g", c.Channel, n.PercentileLow, n.PercentileHigh)
		}
		if n.ProbThreshold <= 0 || n.ProbThreshold >= 1 {
			return invalidf("channel %d: probability threshold %g outside (0,1)", c.Channel, n.ProbThreshold)
		}
		if n.OverlapThreshold < 0 || n.OverlapThreshold > 1 {
			return invalidf("channel %d: overlap threshold %g outside [0,1]", c.Channel, n.OverlapThreshold)
		}
		if n.Tiles < 1 {
			return invalidf("channel %d: tiles %d, must be >= 1", c.Channel, n.Tiles)
		}
	default:
		if _, err := ParseThresholdMethod(c.Segmentation.Method); err != nil {
			return fmt.Errorf("channel %d: %w", c.Channel, err)
		}
	}
	return nil
}

// ChannelParams is a ChannelConfig with every radius converted to pixels.
// Disabled steps carry a zero radius.
type ChannelParams struct {
	Config ChannelConfig
	Unit   string

	BackgroundRadiusPx float64
	BlurSigmaPx        float64
	HighPassSigmaPx    float64
	ZeroGapRadiusPx    float64
	RemoveRadiusPx     float64
	LinkRadiusPx       float64
}

// Resolve converts the calibrated radii to pixels.
func (c ChannelConfig) Resolve(cal Calibration) ChannelParams {
	px := func(enabled bool, r float64) float64 {
		if !enabled || r <= 0 {
			return 0
		}
		return cal.ToPixels(r)
	}
	p := c.Preprocess
	return ChannelParams{
		Config:             c,
		Unit:               cal.UnitName(),
		BackgroundRadiusPx: px(p.SubtractBackground, p.BackgroundRadius),
		BlurSigmaPx:        px(p.Blur, p.BlurSigma),
		HighPassSigmaPx:    px(p.HighPass, p.HighPassSigma),
		ZeroGapRadiusPx:    px(c.ExcludeZeroRegions, c.ZeroGapRadius),
		RemoveRadiusPx:     px(c.RemoveSmallRegions, c.RemoveRadius),
		LinkRadiusPx:       px(c.RemoveSmallRegions && c.BridgeGaps, c.LinkRadius),
	}
}

// Strategy builds the threshold strategy for these parameters. backend is
// only used for neural segmentation and may be nil otherwise.
func (p ChannelParams) Strategy(backend InstanceBackend) (ThresholdStrategy, error) {
	s := p.Config.Segmentation
	switch {
	case p.Config.Custom():
		return CustomStrategy{Value: s.CustomThreshold, DarkBackground: s.DarkBackground}, nil
	case p.Config.Neural():
		if backend == nil {
			return nil, fmt.Errorf("%w: no instance backend configured", ErrBackendUnavailable)
		}
		return NeuralStrategy{Backend: backend, Params: s.Neural}, nil
	default:
		m, err := ParseThresholdMethod(s.Method)
		if err != nil {
			return nil, err
		}
		return HistogramStrategy{Method: m, DarkBackground: s.DarkBackground}, nil
	}
}

func (p ChannelParams) String() string {
	c := p.Config
	return fmt.Sprintf("{Channel=%d, Method=%s, DarkBackground=%v, Background=%.2fpx, Blur=%.2fpx, HighPass=%.2fpx, ZeroGap=%.2fpx, Despeckle=%v, Remove=%.2fpx, Link=%.2fpx, FillHoles=%v, Watershed=%v}",
		c.Channel, c.Segmentation.Method, c.Segmentation.DarkBackground,
		p.BackgroundRadiusPx, p.BlurSigmaPx, p.HighPassSigmaPx, p.ZeroGapRadiusPx,
		c.Despeckle, p.RemoveRadiusPx, p.LinkRadiusPx, c.FillHoles, c.Watershed)
}
