package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologAdapterWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.DebugLevel)
	log.Info("threshold", "bounds computed", Fields{"low": 12.0, "channel": 2})

	var event map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if event["component"] != "threshold" {
		t.Errorf("component = %v, want threshold", event["component"])
	}
	if event["message"] != "bounds computed" {
		t.Errorf("message = %v", event["message"])
	}
	if event["channel"] != float64(2) {
		t.Errorf("channel = %v, want 2", event["channel"])
	}
	if event["level"] != "info" {
		t.Errorf("level = %v, want info", event["level"])
	}
}

func TestZerologAdapterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, zerolog.WarnLevel)
	log.Debug("refine", "hidden", nil)
	log.Info("refine", "hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	log.Error("refine", errors.New("boom"), Fields{"task": 1})
	if !bytes.Contains(buf.Bytes(), []byte(`"error":"boom"`)) {
		t.Fatalf("error event missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
