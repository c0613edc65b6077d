// Package metrics 指标测试
package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"book-signal-engine/internal/core/model"
)

func TestCollector_ObserveBatch(t *testing.T) {
	c := NewCollector()
	c.ObserveBatch("obi", model.ModeCPUParallel, true, 10, time.Millisecond)
	c.ObserveBatch("obi", model.ModeCPUParallel, false, 5, time.Millisecond)

	if got := testutil.ToFloat64(c.Batches.WithLabelValues("obi", "cpu_parallel")); got != 2 {
		t.Fatalf("batches=%f, want 2", got)
	}
	if got := testutil.ToFloat64(c.Fallbacks.WithLabelValues("obi")); got != 1 {
		t.Fatalf("fallbacks=%f, want 1", got)
	}
	if got := testutil.ToFloat64(c.Snapshots.WithLabelValues("obi")); got != 15 {
		t.Fatalf("snapshots=%f, want 15", got)
	}
}

func TestCollector_RejectedAndMode(t *testing.T) {
	c := NewCollector()
	c.ObserveRejected("curvature", "invalid_input")
	c.SetMode(model.ModeHardwareAccelerated)

	if got := testutil.ToFloat64(c.Rejected.WithLabelValues("curvature", "invalid_input")); got != 1 {
		t.Fatalf("rejected=%f, want 1", got)
	}
	if got := testutil.ToFloat64(c.BackendMode); got != 2 {
		t.Fatalf("mode=%f, want 2", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveBatch("obi", model.ModeCPUParallel, false, 1, time.Millisecond)
	c.ObserveRejected("obi", "x")
	c.SetMode(model.ModeCPUParallel)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.SetMode(model.ModeCPUParallel)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "booksig_backend_mode 1") {
		t.Fatalf("metrics 输出缺少 backend_mode: %s", body)
	}
}
