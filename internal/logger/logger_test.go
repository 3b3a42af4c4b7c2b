// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_WritesFileAndBroadcasts(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	l, err := New(Options{File: logFile, MaxSizeMB: 1, Level: "info"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sub := l.Subscribe()
	if sub == nil {
		t.Fatal("expected subscriber channel")
	}

	l.Debugf("hidden %d", 1)
	l.Printf("queued item %s", "abc")

	select {
	case line := <-sub:
		if !strings.Contains(line, "[INFO] queued item abc") {
			t.Errorf("unexpected broadcast line: %s", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug line written while level is info")
	}
	if !strings.Contains(string(data), "queued item abc") {
		t.Errorf("log file missing info line: %s", data)
	}
}

func TestLogger_ClosedIgnoresWrites(t *testing.T) {
	l, err := New(Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Close()
	l.Printf("after close")

	if ch := l.Subscribe(); ch != nil {
		t.Error("Subscribe on closed logger should return nil")
	}
}
