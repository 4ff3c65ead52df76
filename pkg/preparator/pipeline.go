package preparator

import (
	"context"
	"fmt"
	"time"

	"adipoprep/internal/logger"
)

// BackendFactory opens an instance backend for a neural config.
type BackendFactory func(NeuralConfig) (InstanceBackend, error)

// Processor runs the per-channel pipeline and the composition for one
// image. The zero value is usable: it logs nothing and opens the native
// instance backend on demand.
type Processor struct {
	Log      logger.Logger
	Backends BackendFactory
	// DebugDir, when it names an existing directory, receives the
	// intermediate planes of every channel.
	DebugDir string
}

// TaskResult is the outcome of processing one image.
type TaskResult struct {
	Output   *Raster
	Channels []OutputChannel
	Results  []ChannelResult
	// ROIs holds the valid-data region per config index, nil where zero
	// regions were not excluded.
	ROIs     []*ROI
	Started  time.Time
	Duration time.Duration
}

// Close releases the output raster and every intermediate segmentation.
func (r *TaskResult) Close() {
	if r.Output != nil {
		r.Output.Close()
	}
	for i := range r.Results {
		r.Results[i].Seg.Close()
	}
}

func (p *Processor) log() logger.Logger {
	if p.Log == nil {
		return logger.Nop{}
	}
	return p.Log
}

func (p *Processor) openBackend(cfg NeuralConfig) (InstanceBackend, error) {
	if p.Backends != nil {
		return p.Backends(cfg)
	}
	return NewInstanceBackend(cfg)
}

// Process runs every channel config in order over src and composes the
// output raster.
func (p *Processor) Process(ctx context.Context, src *Raster, configs []ChannelConfig, opts ComposeOptions) (*TaskResult, error) {
	if err := src.Check(); err != nil {
		return nil, err
	}
	res := &TaskResult{Started: time.Now()}
	for i, cfg := range configs {
		params := cfg.Resolve(src.Calibration)
		r, roi, err := p.ProcessChannel(ctx, src, params, i)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.Results = append(res.Results, r)
		res.ROIs = append(res.ROIs, roi)
	}
	res.Output, res.Channels = Compose(src, res.Results, opts)
	res.Duration = time.Since(res.Started)
	p.log().Info("compose", "output assembled", logger.Fields{
		"channels": len(res.Channels),
		"depth":    res.Output.BitDepth,
		"duration": res.Duration.String(),
	})
	return res, nil
}

// ProcessChannel segments and refines one source channel. index only
// prefixes debug dumps.
func (p *Processor) ProcessChannel(ctx context.Context, src *Raster, params ChannelParams, index int) (ChannelResult, *ROI, error) {
	cfg := params.Config
	if cfg.Channel < 1 || cfg.Channel > src.NumChannels() {
		return ChannelResult{}, nil, fmt.Errorf("%w: channel %d requested, image has %d",
			ErrInputRejected, cfg.Channel, src.NumChannels())
	}
	log := p.log()
	prefix := fmt.Sprintf("%02d-c%d-", index+1, cfg.Channel)
	maybeSaveText(p.DebugDir, prefix+"params.txt", params.String())

	ch := src.Channels[cfg.Channel-1].Data
	depth := src.BitDepth

	// Step 1: valid-data region from the raw channel
	var roi *ROI
	if cfg.ExcludeZeroRegions {
		roi = DeriveValidRegion(ch, params.ZeroGapRadiusPx)
		log.Debug("zeroregion", "valid region derived", logger.Fields{
			"channel": cfg.Channel, "link_px": params.ZeroGapRadiusPx, "area": roi.Area(),
		})
	}

	// Step 2: preprocessing
	pre, preDepth := Preprocess(ch, depth, params)
	defer pre.Close()
	log.Debug("preprocess", "filters applied", logger.Fields{
		"channel":       cfg.Channel,
		"background_px": params.BackgroundRadiusPx,
		"blur_px":       params.BlurSigmaPx,
		"highpass_px":   params.HighPassSigmaPx,
		"depth":         preDepth,
	})
	maybeSaveImage(pre, p.DebugDir, prefix+"1-preprocessed.tiff")

	// Step 3: threshold inside the valid region
	var backend InstanceBackend
	if cfg.Neural() {
		b, err := p.openBackend(cfg.Segmentation.Neural)
		if err != nil {
			return ChannelResult{}, nil, err
		}
		backend = b
		defer backend.Close()
	}
	strategy, err := params.Strategy(backend)
	if err != nil {
		return ChannelResult{}, nil, err
	}
	masked := ApplyMask(pre, roi)
	defer masked.Close()
	seg, bounds, err := strategy.Segment(ctx, masked, preDepth, roi)
	if err != nil {
		return ChannelResult{}, nil, fmt.Errorf("channel %d %s segmentation: %w", cfg.Channel, strategy.Name(), err)
	}
	defer seg.Close()
	if seg.Kind == KindMask {
		// Masks carry the foreground value of the source depth.
		norm := NewMat()
		thresholdBinary(seg.Data, &norm, 0, MaskValue(depth))
		clipped := ApplyMask(norm, roi)
		norm.Close()
		seg.Data.Close()
		seg.Data = clipped
	}
	log.Debug("threshold", "segmented", logger.Fields{
		"channel": cfg.Channel, "method": strategy.Name(), "kind": seg.Kind.String(),
		"low": bounds.Low, "high": bounds.High, "count": seg.Count,
	})
	maybeSaveImage(seg.Data, p.DebugDir, prefix+"2-segmented.tiff")

	// Step 4: refinement
	refined, err := Refine(seg, depth, params)
	if err != nil {
		return ChannelResult{}, nil, err
	}
	log.Debug("refine", "mask refined", logger.Fields{
		"channel":    cfg.Channel,
		"despeckle":  cfg.Despeckle,
		"remove_px":  params.RemoveRadiusPx,
		"link_px":    params.LinkRadiusPx,
		"fill_holes": cfg.FillHoles,
		"watershed":  cfg.Watershed,
		"foreground": CountForeground(refined.Data),
	})
	maybeSaveImage(refined.Data, p.DebugDir, prefix+"3-refined.tiff")

	return ChannelResult{Params: params, Seg: refined, Bounds: bounds}, roi, nil
}
