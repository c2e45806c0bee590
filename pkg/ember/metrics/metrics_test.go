package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestIncrementsCounterByStatusClass(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "2xx"))
	RecordRequest("GET", 200, 5*time.Millisecond)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "2xx"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestStatusLabelBuckets(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
		99:  "unknown",
	}
	for status, want := range cases {
		if got := statusLabel(status); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", status, got, want)
		}
	}
}

type fakeServerStats struct{ active int }

func (f fakeServerStats) ActiveConnections() int { return f.active }

type fakeWorkerPoolStats struct{ pending int64 }

func (f fakeWorkerPoolStats) Pending() int64 { return f.pending }

func TestCollectorRefreshesGaugesFromLiveState(t *testing.T) {
	c := NewCollector(fakeServerStats{active: 3}, fakeWorkerPoolStats{pending: 7})
	c.Collect(nil)

	if got := testutil.ToFloat64(activeConnections); got != 3 {
		t.Errorf("expected active connections gauge 3, got %v", got)
	}
	if got := testutil.ToFloat64(workerPoolPending); got != 7 {
		t.Errorf("expected worker pool pending gauge 7, got %v", got)
	}
}

func TestCollectorToleratesNilStats(t *testing.T) {
	c := NewCollector(nil, nil)
	c.Collect(nil)
}
