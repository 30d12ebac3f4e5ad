package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesTabSeparatedRecords(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(dir, "engine")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closer.Close()

	logger.Info("job synced", "id", 42, "path", "/a.txt")

	data, err := os.ReadFile(filepath.Join(dir, "pdsync.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	line := strings.TrimRight(string(data), "\n")
	fields := strings.Split(line, "\t")
	if len(fields) < 4 {
		t.Fatalf("got %d tab-separated fields, want >= 4: %q", len(fields), line)
	}
	if fields[1] != "INFO" {
		t.Errorf("level field = %q, want INFO", fields[1])
	}
	if fields[2] != "engine" {
		t.Errorf("component field = %q, want engine", fields[2])
	}
	if fields[3] != "job synced" {
		t.Errorf("message field = %q, want %q", fields[3], "job synced")
	}
	if !strings.Contains(line, "id=42") || !strings.Contains(line, "path=/a.txt") {
		t.Errorf("line missing expected key=value attrs: %q", line)
	}
}

func TestAdapter_SatisfiesCoreLogger(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(dir, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closer.Close()

	a := NewAdapter(logger)
	a.Debug("d")
	a.Info("i")
	a.Warn("w")
	a.Error("e")

	data, err := os.ReadFile(filepath.Join(dir, "pdsync.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{"d", "i", "w", "e"} {
		if !strings.Contains(string(data), "\t"+want+"\n") && !strings.Contains(string(data), "\t"+want+"\t") {
			t.Errorf("log output missing message %q:\n%s", want, data)
		}
	}
}
