package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewBuildsJSONLoggerForStdout(t *testing.T) {
	logger, cleanup, err := New(Config{Level: "info", Format: "json", Output: "stdout"})
	defer cleanup()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestReplaceAttrRenamesTimeKey(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: replaceAttr})
	logger := slog.New(h)
	logger.Info("hello")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Fatalf("expected a timestamp key, got %v", decoded)
	}
	if _, ok := decoded["time"]; ok {
		t.Fatalf("expected the original time key to be renamed, got %v", decoded)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("discard logger should report every level disabled")
	}
}

func TestTextHandlerWithReplaceAttrWritesTextFormat(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{ReplaceAttr: replaceAttr})
	slog.New(h).Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text-formatted output, got %q", buf.String())
	}
}
