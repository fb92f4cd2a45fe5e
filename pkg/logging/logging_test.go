package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected LogLevel
		ok       bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.expected || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v,%v, expected %v,%v", tt.in, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestInitForCLI_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("Test", "hidden %d", 1)
	Info("Test", "visible %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden 1") {
		t.Errorf("debug message should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "visible 2") {
		t.Errorf("info message missing, got: %s", out)
	}
	if !strings.Contains(out, "subsystem=Test") {
		t.Errorf("subsystem attribute missing, got: %s", out)
	}
}

func TestError_IncludesError(t *testing.T) {
	var buf bytes.Buffer
	InitForTest(&buf)

	Error("Provisioner", errors.New("boom"), "stop failed for %s", "db")

	out := buf.String()
	if !strings.Contains(out, "stop failed for db") || !strings.Contains(out, "error=boom") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestTimed(t *testing.T) {
	var buf bytes.Buffer
	InitForTest(&buf)

	done := Timed("Provisioner", "start %s", "db")
	done()

	if !strings.Contains(buf.String(), "start db took") {
		t.Errorf("timing entry missing, got: %s", buf.String())
	}
}
