package preparator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Tool identifies the producer in report footers.
const (
	ToolName    = "adipoprep"
	ToolVersion = "0.1.0"
)

// NumberFormat selects the decimal separator of report values.
type NumberFormat string

const (
	NumberFormatUS      NumberFormat = "US"
	NumberFormatGermany NumberFormat = "Germany"
)

// ParseNumberFormat accepts "US" and "Germany" case-insensitively.
func ParseNumberFormat(s string) (NumberFormat, error) {
	switch {
	case strings.EqualFold(s, string(NumberFormatUS)), s == "":
		return NumberFormatUS, nil
	case strings.EqualFold(s, string(NumberFormatGermany)):
		return NumberFormatGermany, nil
	}
	return "", fmt.Errorf("%w: unknown number format %q", ErrConfigInvalid, s)
}

func (f NumberFormat) printer() *message.Printer {
	if f == NumberFormatGermany {
		return message.NewPrinter(language.German)
	}
	return message.NewPrinter(language.AmericanEnglish)
}

// Format renders v with exactly decimals fraction digits and no grouping.
func (f NumberFormat) Format(v float64, decimals int) string {
	return f.printer().Sprint(number.Decimal(v,
		number.NoSeparator(),
		number.MinFractionDigits(decimals),
		number.MaxFractionDigits(decimals)))
}

// ReportInfo describes the task a report belongs to.
type ReportInfo struct {
	ImageName    string
	Series       int // 1-based; 0 for single-series files
	Started      time.Time
	Finished     time.Time
	NumberFormat NumberFormat
	Compose      ComposeOptions
}

const (
	reportDateLayout = "2006-01-02\t15:04:05"
	reportDecimals   = 6
)

type reportWriter struct {
	sb strings.Builder
	nf NumberFormat
}

func (r *reportWriter) line(fields ...string) {
	r.sb.WriteString(strings.Join(fields, "\t"))
	r.sb.WriteByte('\n')
}

func (r *reportWriter) num(v float64) string { return r.nf.Format(v, reportDecimals) }

// radius writes a calibrated radius followed by its pixel value.
func (r *reportWriter) radius(label, unit string, value, px float64) {
	r.line("\t"+label+" ("+unit+"):", r.num(value), "(px):", r.num(px))
}

// WriteReport writes the tab-delimited provenance log of one task: the
// settings of every channel config with calibrated and pixel values, the
// applied thresholds, the output channel layout and the processing time.
func WriteReport(w io.Writer, info ReportInfo, res *TaskResult) error {
	r := &reportWriter{nf: info.NumberFormat}
	r.line("Starting date:", info.Started.Format(reportDateLayout))
	if info.Series > 0 {
		r.line("Image name:", info.ImageName, "series:", fmt.Sprint(info.Series))
	} else {
		r.line("Image name:", info.ImageName)
	}
	r.line("Preparation settings:", "")
	if info.Compose.IncludeDuplicateChannel {
		r.line("\tChannel duplicated to include a copy of the channel that is not processed.")
	}
	if info.Compose.DeleteOtherChannels {
		r.line("\tChannels that were not processed were removed.")
	}

	for _, cr := range res.Results {
		writeChannelSettings(r, cr.Params)
	}
	r.line("")

	for _, cr := range res.Results {
		c := cr.Params.Config
		prefix := fmt.Sprintf("Channel %d:", c.Channel)
		switch {
		case cr.Seg.Kind == KindLabels:
			r.line(prefix, "Used "+SegmentNeural+" instance segmentation - objects:", fmt.Sprint(cr.Seg.Count))
		case c.Custom():
			r.line(prefix, "Used "+SegmentCustom+" as intensity threshold - threshold value:", r.num(thresholdValue(cr)))
		default:
			r.line(prefix, "Used "+c.Segmentation.Method+" to determine the intensity threshold - threshold value:", r.num(thresholdValue(cr)))
		}
	}
	r.line("")

	r.line("Channels in output image:")
	for _, oc := range res.Channels {
		r.line(fmt.Sprintf("Channel %d:", oc.Index), oc.Provenance)
	}
	r.line("")

	elapsed := info.Finished.Sub(info.Started)
	r.line("Processing time (s):", r.num(elapsed.Seconds()))

	r.line("")
	r.line(fmt.Sprintf("Datafile was generated on %s by '%s'.", info.Finished.Format("2006-01-02 15:04:05"), ToolName))
	r.line("Version:", "V"+ToolVersion)

	_, err := io.WriteString(w, r.sb.String())
	return err
}

// thresholdValue is the bound the polarity rule compares against.
func thresholdValue(cr ChannelResult) float64 {
	if cr.Params.Config.Segmentation.DarkBackground {
		return cr.Bounds.Low
	}
	return cr.Bounds.High
}

func writeChannelSettings(r *reportWriter, p ChannelParams) {
	c := p.Config
	pre := c.Preprocess
	r.line("\tChannel Nr:", fmt.Sprint(c.Channel))
	if p.BackgroundRadiusPx > 0 {
		r.radius("Subtracted background - rolling ball radius", p.Unit, pre.BackgroundRadius, p.BackgroundRadiusPx)
	}
	if p.BlurSigmaPx > 0 {
		r.radius("Gaussian blur - sigma", p.Unit, pre.BlurSigma, p.BlurSigmaPx)
	}
	if p.HighPassSigmaPx > 0 {
		r.radius("High-pass normalization - sigma", p.Unit, pre.HighPassSigma, p.HighPassSigmaPx)
	}
	if c.ExcludeZeroRegions {
		r.radius("Excluded zero intensity pixels in threshold calculation - radius of tolerated gaps", p.Unit, c.ZeroGapRadius, p.ZeroGapRadiusPx)
	}
	background := "light"
	if c.Segmentation.DarkBackground {
		background = "dark"
	}
	switch {
	case c.Custom():
		r.line("\tSegmentation method:", "CUSTOM threshold")
		r.line("\t\tCustom threshold value:", r.num(c.Segmentation.CustomThreshold))
	case c.Neural():
		n := c.Segmentation.Neural
		r.line("\tSegmentation method:", "neural instance segmentation with model "+n.Model)
		r.line("\t\tNormalization percentiles:", r.num(n.PercentileLow), r.num(n.PercentileHigh))
		r.line("\t\tProbability threshold:", r.num(n.ProbThreshold))
		r.line("\t\tOverlap threshold:", r.num(n.OverlapThreshold))
		r.line("\t\tTiles per axis:", fmt.Sprint(n.Tiles))
	default:
		r.line("\tSegmentation method:", "applying intensity threshold based on the "+c.Segmentation.Method+" threshold algorithm.")
	}
	r.line("\tBackground:", background)
	if c.Despeckle {
		r.line("\tDespeckle mask")
	}
	if c.FillHoles {
		r.line("\tFill holes in mask")
	}
	if c.RemoveSmallRegions {
		r.radius("Radius of particles to be removed as noise while detecting adipose tissue regions", p.Unit, c.RemoveRadius, p.RemoveRadiusPx)
		if c.BridgeGaps {
			r.radius("Radius of gaps bridged between tissue regions", p.Unit, c.LinkRadius, p.LinkRadiusPx)
		}
	}
	if c.Watershed {
		r.line("\tWatershed separation of touching objects")
	}
}
