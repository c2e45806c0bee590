package middleware

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerRecordsStatusFromHandler(t *testing.T) {
	var buf bytes.Buffer
	mw := LoggerWithConfig(LoggerConfig{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	next := mw(func(req Request, res Response) { res.Reply(201, nil) })

	req := newFakeRequest("POST", "/widgets")
	res := newFakeResponse()
	next(req, res)

	out := buf.String()
	if !strings.Contains(out, "status=201") {
		t.Fatalf("log line missing status=201: %s", out)
	}
	if !strings.Contains(out, "path=/widgets") {
		t.Fatalf("log line missing path: %s", out)
	}
}

func TestLoggerSkipsConfiguredPaths(t *testing.T) {
	var buf bytes.Buffer
	mw := LoggerWithConfig(LoggerConfig{
		Logger:    slog.New(slog.NewTextHandler(&buf, nil)),
		SkipPaths: []string{"/healthz"},
	})
	next := mw(func(req Request, res Response) { res.Reply(200, nil) })

	req := newFakeRequest("GET", "/healthz")
	res := newFakeResponse()
	next(req, res)

	if buf.Len() != 0 {
		t.Fatalf("expected no log output for a skipped path, got: %s", buf.String())
	}
}
