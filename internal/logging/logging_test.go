package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("rejects unknown level", func(t *testing.T) {
		if _, err := New(Options{Level: "loud"}); err == nil {
			t.Error("expected error for unknown level")
		}
	})

	t.Run("writes entries to the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "facelab.log")

		logger, err := New(Options{Level: "debug", File: path})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		logger.Infow("cycle complete", "backend", "POSE")
		_ = logger.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		if !strings.Contains(string(data), "cycle complete") {
			t.Errorf("log file missing entry, got %q", data)
		}
		if !strings.Contains(string(data), `"backend":"POSE"`) {
			t.Errorf("log file missing field, got %q", data)
		}
	})
}
