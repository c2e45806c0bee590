package middleware

import "testing"

func TestRateLimitAllowsBurstThenRejects(t *testing.T) {
	mw := RateLimitWithConfig(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	next := mw(func(req Request, res Response) { res.Reply(200, nil) })

	req := newFakeRequest("GET", "/widgets")
	req.headers["X-Forwarded-For"] = "10.0.0.1"

	for i := 0; i < 2; i++ {
		res := newFakeResponse()
		next(req, res)
		if res.status != 200 {
			t.Fatalf("request %d: status = %d, want 200 within burst", i, res.status)
		}
	}

	res := newFakeResponse()
	next(req, res)
	if res.status != 429 {
		t.Fatalf("status = %d, want 429 once the burst is exhausted", res.status)
	}
}

func TestRateLimitTracksKeysIndependently(t *testing.T) {
	mw := RateLimitWithConfig(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	next := mw(func(req Request, res Response) { res.Reply(200, nil) })

	reqA := newFakeRequest("GET", "/widgets")
	reqA.headers["X-Forwarded-For"] = "10.0.0.1"
	reqB := newFakeRequest("GET", "/widgets")
	reqB.headers["X-Forwarded-For"] = "10.0.0.2"

	resA := newFakeResponse()
	next(reqA, resA)
	resB := newFakeResponse()
	next(reqB, resB)

	if resA.status != 200 || resB.status != 200 {
		t.Fatalf("distinct keys must not share a bucket: a=%d b=%d", resA.status, resB.status)
	}
}
