package middleware

import (
	"log/slog"
	"testing"
)

func TestRecoveryCatchesPanicAndReplies500(t *testing.T) {
	mw := RecoveryWithConfig(RecoveryConfig{Logger: slog.New(slog.NewTextHandler(discardWriter{}, nil))})
	next := mw(func(req Request, res Response) { panic("boom") })

	req := newFakeRequest("GET", "/explode")
	res := newFakeResponse()

	next(req, res)

	if !res.replied {
		t.Fatal("expected a reply after recovering from panic")
	}
	if res.status != 500 {
		t.Fatalf("status = %d, want 500", res.status)
	}
}

func TestRecoveryLeavesNonPanickingResponseAlone(t *testing.T) {
	mw := Recovery()
	next := mw(func(req Request, res Response) { res.Reply(201, []byte("created")) })

	req := newFakeRequest("POST", "/widgets")
	res := newFakeResponse()
	next(req, res)

	if res.status != 201 {
		t.Fatalf("status = %d, want 201", res.status)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
