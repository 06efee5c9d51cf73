package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"csvpipeline/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// readCounterValue reads the current value of a Counter for assertions in tests.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing url", jobName: "x", gatewayURL: "", wantErr: true},
		{name: "default job", jobName: "", gatewayURL: "http://gw:9091", wantJobName: "csvpipeline"},
		{name: "explicit job", jobName: "sales", gatewayURL: "http://gw:9091", wantJobName: "sales"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := NewBackend(tt.jobName, tt.gatewayURL)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend: %v", err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
		})
	}
}

func TestIncCounter_RoutesByName(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("sales", "http://gw:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"kind": "inserted"})
	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"kind": "inserted"})
	b.IncCounter(metrics.ChunksTotal, 1, metrics.Labels{"outcome": "loaded"})
	b.IncCounter("unknown_metric", 1, nil)

	if got := readCounterValue(t, b.rowCounter.WithLabelValues("inserted")); got != 5 {
		t.Fatalf("rows inserted = %v, want 5", got)
	}
	if got := readCounterValue(t, b.chunkCounter.WithLabelValues("loaded")); got != 1 {
		t.Fatalf("chunks loaded = %v, want 1", got)
	}
}

func TestFlush_PushesToGateway(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
		body  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		body += string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("sales", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "load", "status": "success"})
	b.ObserveHistogram(metrics.StageDuration, 0.25, metrics.Labels{"stage": "load", "status": "success"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) == 0 || !strings.Contains(paths[0], "/metrics/job/sales") {
		t.Fatalf("push paths = %v, want /metrics/job/sales", paths)
	}
	if body == "" {
		t.Fatalf("empty push body")
	}
}
