package middleware

import "time"

// Metrics returns a middleware that records one request observation -
// method, final status, and handling duration - through record on every
// request. Pass metrics.RecordRequest from pkg/ember/metrics to wire it
// into ember's default Prometheus collectors; middleware never imports
// the prometheus client directly, the same way Request/Response stay
// free of any server package import.
func Metrics(record func(method string, status int, duration time.Duration)) Middleware {
	return func(next Next) Next {
		return func(req Request, res Response) {
			start := time.Now()
			sr := &statusRecorder{Response: res, status: 0}
			next(req, sr)
			record(req.Method(), sr.status, time.Since(start))
		}
	}
}
