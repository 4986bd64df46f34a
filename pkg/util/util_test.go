package util

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"":        "info",
		"debug":   "debug",
		" WARN ":  "warn",
		"error":   "error",
		"verbose": "info",
	}
	for in, want := range tests {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLoggerWithFile(path, "debug")
	if err != nil {
		t.Fatal(err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug should be enabled")
	}
}

func TestStepClock(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewStepClock(start)
	got := <-c.After(2 * time.Second)
	if !got.Equal(start.Add(2 * time.Second)) {
		t.Errorf("After fired at %v", got)
	}
	if !c.Now().Equal(got) {
		t.Errorf("Now = %v, want %v", c.Now(), got)
	}
}
