package preparator

import (
	"errors"
	"math"
	"testing"
)

// twoModes returns a histogram with Gaussian peaks of equal mass at a and b.
func twoModes(a, b int, sigma float64) []int {
	h := make([]int, 256)
	for i := range h {
		da := float64(i - a)
		db := float64(i - b)
		h[i] = int(1000*math.Exp(-da*da/(2*sigma*sigma))) + int(1000*math.Exp(-db*db/(2*sigma*sigma)))
	}
	return h
}

func TestAutoThresholdSplitsSeparatedModes(t *testing.T) {
	hist := twoModes(50, 180, 8)
	for _, m := range HistogramMethods() {
		t.Run(string(m), func(t *testing.T) {
			before := append([]int(nil), hist...)
			level, err := AutoThresholdLevel(m, hist)
			if err != nil {
				t.Fatalf("AutoThresholdLevel: %v", err)
			}
			if level < 50 || level >= 180 {
				t.Errorf("level %d not between the modes", level)
			}
			for i := range hist {
				if hist[i] != before[i] {
					t.Fatalf("histogram modified at bin %d", i)
				}
			}
		})
	}
}

func TestAutoThresholdTwoBins(t *testing.T) {
	hist := make([]int, 256)
	hist[10] = 500
	hist[200] = 500
	tests := []struct {
		method ThresholdMethod
		want   int
	}{
		{MethodOtsu, 10},
		{MethodMean, 105},
		{MethodIntermodes, 105},
	}
	for _, tt := range tests {
		got, err := AutoThresholdLevel(tt.method, hist)
		if err != nil {
			t.Fatalf("%s: %v", tt.method, err)
		}
		if got != tt.want {
			t.Errorf("%s = %d, want %d", tt.method, got, tt.want)
		}
	}
}

func TestAutoThresholdRejectsBadInput(t *testing.T) {
	if _, err := AutoThresholdLevel("Bogus", make([]int, 256)); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("unknown method: err = %v, want ErrConfigInvalid", err)
	}
	if _, err := AutoThresholdLevel(MethodOtsu, make([]int, 10)); err == nil {
		t.Errorf("short histogram accepted")
	}
}

func TestParseThresholdMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    ThresholdMethod
		wantErr bool
	}{
		{"Otsu", MethodOtsu, false},
		{"triangle", MethodTriangle, false},
		{"IJ_ISODATA", MethodIJIsoData, false},
		{"Custom", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseThresholdMethod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseThresholdMethod(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseThresholdMethod(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
