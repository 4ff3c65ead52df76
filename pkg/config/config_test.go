package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"adipoprep/pkg/preparator"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adipoprep.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].Channel != 1 {
		t.Errorf("default channels %+v", cfg.Channels)
	}
	if !cfg.Composition.IncludeDuplicateChannel {
		t.Errorf("duplicate channel not enabled by default")
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("version %d", cfg.Version)
	}
}

func TestLoadConfigChannelDefaults(t *testing.T) {
	path := writeFile(t, `
output:
  number_format: Germany
channels:
  - channel: 2
    segmentation:
      method: Otsu
      dark_background: true
  - channel: 1
    remove_radius: 12.5
    bridge_gaps: true
    link_radius: 3
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("missing version read as %d, want 1", cfg.Version)
	}
	if cfg.NumberFormat() != preparator.NumberFormatGermany {
		t.Errorf("number format %q", cfg.NumberFormat())
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("%d channels", len(cfg.Channels))
	}
	first := cfg.Channels[0]
	if first.Channel != 2 || first.Segmentation.Method != "Otsu" || !first.Segmentation.DarkBackground {
		t.Errorf("first channel %+v", first)
	}
	// Unset fields keep the channel defaults.
	if !first.Despeckle || !first.FillHoles || first.RemoveRadius != 20 || first.ZeroGapRadius != 5 {
		t.Errorf("channel defaults lost: %+v", first)
	}
	if first.Segmentation.Neural.PercentileHigh != 99.8 {
		t.Errorf("neural defaults lost: %+v", first.Segmentation.Neural)
	}
	second := cfg.Channels[1]
	if second.RemoveRadius != 12.5 || !second.BridgeGaps || second.LinkRadius != 3 {
		t.Errorf("second channel %+v", second)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"newer version", "version: 2\n"},
		{"unknown key", "outptu:\n  dir: x\n"},
		{"bridging without removal", "channels:\n  - channel: 1\n    remove_small_regions: false\n    bridge_gaps: true\n"},
		{"bad method", "channels:\n  - channel: 1\n    segmentation:\n      method: Sharpest\n"},
		{"no channels", "channels: []\n"},
		{"bad series", "input:\n  series: first\n"},
		{"bad number format", "output:\n  number_format: Klingon\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, tt.content))
			if !errors.Is(err, preparator.ErrConfigInvalid) {
				t.Fatalf("err = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Series = "1,3"
	cfg.Output.DateStamp = true
	ch := preparator.NewChannelConfig(3)
	ch.Segmentation.Method = preparator.SegmentCustom
	ch.Segmentation.CustomThreshold = 1234
	ch.Watershed = true
	cfg.Channels = append(cfg.Channels, ch)

	path := filepath.Join(t.TempDir(), "nested", "out_AQP.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(got.Channels) != 2 || got.Channels[1] != ch {
		t.Errorf("channels %+v, want second %+v", got.Channels, ch)
	}
	if sel := got.SeriesSelection(); sel.String() != "1,3" {
		t.Errorf("series %q", sel.String())
	}
	if !got.Output.DateStamp {
		t.Errorf("date stamp lost")
	}
}
