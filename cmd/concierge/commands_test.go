package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeChunksFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadChunks(t *testing.T) {
	path := writeChunksFile(t, `[
		{"id":"c1","content":"Hotel booking requires payment","source":"knowledge_base","relevance":0.9,"token_count":5},
		{"id":"c2","content":"Flights can be rebooked for a fee","source":"faq"}
	]`)

	chunks, err := readChunks(path)
	if err != nil {
		t.Fatalf("readChunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ID != "c1" || chunks[0].TokenCount != 5 {
		t.Errorf("chunk[0] = %+v", chunks[0])
	}
	if chunks[1].Source != "faq" {
		t.Errorf("chunk[1].Source = %q", chunks[1].Source)
	}
}

func TestReadChunks_BadJSON(t *testing.T) {
	path := writeChunksFile(t, `{not json`)
	if _, err := readChunks(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestAssembleCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"assemble"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestAssembleCommand(t *testing.T) {
	path := writeChunksFile(t, `[
		{"id":"c1","content":"Hotel booking requires payment","source":"knowledge_base","token_count":5}
	]`)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"assemble", "--chunks", path, "--query", "hotel payment", "--max", "100", "--target", "50", "--min", "10"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("assemble: %v", err)
	}
}

func TestOptimizeCommand_RequiresTarget(t *testing.T) {
	path := writeChunksFile(t, `[]`)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"optimize", "--chunks", path})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
