package config

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{name: "development logs debug", env: "development", wantDebug: true, wantInfo: true},
		{name: "production logs info", env: "production", wantInfo: true},
		{name: "override to debug in production", env: "production", level: "debug", wantDebug: true, wantInfo: true},
		{name: "override to warn", env: "development", level: "warn"},
		{name: "unknown level keeps default", env: "production", level: "verbose", wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := (&Config{Environment: tt.env, LogLevel: tt.level}).newLogger(&buf)

			logger.Debug("frame processed")
			if got := strings.Contains(buf.String(), "frame processed"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}

			buf.Reset()
			logger.Info("session started")
			if got := strings.Contains(buf.String(), "session started"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v", got, tt.wantInfo)
			}
		})
	}
}

func TestNewLogger_ProductionIsJSON(t *testing.T) {
	var buf bytes.Buffer
	(&Config{Environment: "production"}).newLogger(&buf).Info("capture stored", "session_id", "abc")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("production output is not JSON: %v", err)
	}
	if entry["service"] != "rekko-liveness" {
		t.Errorf("service = %v, want rekko-liveness", entry["service"])
	}
	if entry["session_id"] != "abc" {
		t.Errorf("session_id = %v, want abc", entry["session_id"])
	}
}
