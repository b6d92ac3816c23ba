package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"level", Config{Level: "verbose"}},
		{"format", Config{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edst.log")
	log, err := New(Config{Level: "info", Format: "console", File: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	log.Named("edst").With(String("pass_id", "p1")).Info("Reconciliation pass complete",
		Int("processed", 3),
		Error(errors.New("boom")))
	log.Debug("filtered out")
	_ = log.Sync()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", scanner.Text())
		}
		lines = append(lines, entry)
	}

	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	entry := lines[0]
	if entry["msg"] != "Reconciliation pass complete" || entry["logger"] != "edst" {
		t.Errorf("entry = %v", entry)
	}
	if entry["pass_id"] != "p1" || entry["processed"] != float64(3) || entry["error"] != "boom" {
		t.Errorf("fields = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry has no time key")
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Named("x").Warn("ignored", Bool("ok", true))
	if err := log.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
}
