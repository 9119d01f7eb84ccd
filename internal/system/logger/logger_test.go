package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManagerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Config{Dir: dir, Level: slog.LevelInfo})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	log := m.NewLogger()
	log.Info("gateway listening", "port", 18789)

	data, err := os.ReadFile(m.CurrentLogFile())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "gateway listening") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestManagerLevelFilter(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Config{Dir: dir, Level: slog.LevelWarn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	log := m.NewLogger()
	log.Info("quiet")
	log.Warn("loud")

	data, _ := os.ReadFile(m.CurrentLogFile())
	if strings.Contains(string(data), "quiet") {
		t.Error("info record written despite warn level")
	}
	if !strings.Contains(string(data), "loud") {
		t.Error("warn record missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "clawgate-2020-01-01.log")
	if err := os.WriteFile(old, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().AddDate(0, 0, -90)
	os.Chtimes(old, past, past)

	m, err := New(Config{Dir: dir, MaxAgeDays: 30})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	removed, err := m.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale file still present")
	}
}

func TestTotalSize(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "clawgate-2026-01-01.log"), []byte("aaaa"), 0o644)
	os.WriteFile(filepath.Join(dir, "clawgate-2026-01-02.log"), []byte("bb"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	total, err := TotalSize(dir)
	if err != nil {
		t.Fatalf("TotalSize: %v", err)
	}
	if total != 6 {
		t.Errorf("total = %d, want 6", total)
	}
}
