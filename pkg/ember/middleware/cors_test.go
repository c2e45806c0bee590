package middleware

import "testing"

func TestCORSAnswersPreflightDirectly(t *testing.T) {
	mw := CORS()
	called := false
	next := mw(func(req Request, res Response) { called = true })

	req := newFakeRequest("OPTIONS", "/widgets")
	req.headers["Origin"] = "https://example.com"
	res := newFakeResponse()

	next(req, res)

	if called {
		t.Fatal("preflight must not reach the wrapped handler")
	}
	if res.status != 204 {
		t.Fatalf("status = %d, want 204", res.status)
	}
	if res.headers["Access-Control-Allow-Origin"] != "*" {
		t.Fatalf("missing/incorrect Allow-Origin: %+v", res.headers)
	}
}

func TestCORSRestrictsToConfiguredOrigins(t *testing.T) {
	mw := CORSWithConfig(CORSConfig{AllowOrigins: []string{"https://allowed.example"}})
	next := mw(func(req Request, res Response) { res.Reply(200, nil) })

	req := newFakeRequest("GET", "/widgets")
	req.headers["Origin"] = "https://evil.example"
	res := newFakeResponse()

	next(req, res)

	if _, ok := res.headers["Access-Control-Allow-Origin"]; ok {
		t.Fatal("a disallowed origin must not receive an Allow-Origin header")
	}
}
