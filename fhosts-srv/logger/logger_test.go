package logger

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// captureOutput captures log output during test execution
func captureOutput(f func()) string {
	oldOutput := stdLogger.Writer()
	r, w, _ := os.Pipe()
	stdLogger.SetOutput(w)

	f()

	w.Close()
	stdLogger.SetOutput(oldOutput)

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}

func TestSetLevel(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
	}{
		{"set debug level", DEBUG},
		{"set info level", INFO},
		{"set warn level", WARN},
		{"set error level", ERROR},
	}

	originalLevel := GetLevel()
	defer SetLevel(originalLevel)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLevel(tt.level)
			if GetLevel() != tt.level {
				t.Errorf("GetLevel() = %v, want %v", GetLevel(), tt.level)
			}
		})
	}
}

func TestGetLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"TRACE", TRACE},
		{"debug", DEBUG},
		{"Info", INFO},
		{"WARN", WARN},
		{"error", ERROR},
		{"FATAL", FATAL},
		{"nonsense", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if got := GetLevelFromString(tt.input); got != tt.want {
			t.Errorf("GetLevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)

	SetLevel(WARN)

	out := captureOutput(func() {
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")
	})

	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN were emitted: %q", out)
	}
	if !strings.Contains(out, "[WARN] warn message") {
		t.Errorf("expected warn message in output, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] error message") {
		t.Errorf("expected error message in output, got %q", out)
	}
}

func TestSinkMirrorsWarnAndAbove(t *testing.T) {
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)
	defer SetSink(nil)

	SetLevel(DEBUG)

	var mirrored []string
	SetSink(func(level LogLevel, msg string) {
		mirrored = append(mirrored, msg)
	})

	_ = captureOutput(func() {
		Info("not mirrored")
		Warn("mirrored warning")
		Error("mirrored error")
	})

	if len(mirrored) != 2 {
		t.Fatalf("expected 2 mirrored messages, got %d: %v", len(mirrored), mirrored)
	}
	if mirrored[0] != "mirrored warning" || mirrored[1] != "mirrored error" {
		t.Errorf("unexpected mirrored messages: %v", mirrored)
	}
}

func TestSetSinkConcurrentWithLogging(t *testing.T) {
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)
	defer SetSink(nil)

	SetLevel(WARN)

	_ = captureOutput(func() {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					Warn("concurrent warning %d", j)
				}
			}()
			go func() {
				defer wg.Done()
				var count int64
				for j := 0; j < 200; j++ {
					SetSink(func(level LogLevel, msg string) {
						atomic.AddInt64(&count, 1)
					})
					SetSink(nil)
				}
			}()
		}
		wg.Wait()
	})
}
