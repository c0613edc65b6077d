// Package fusion 门面测试
package fusion

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"book-signal-engine/internal/core/backend"
	"book-signal-engine/internal/core/model"
	"book-signal-engine/internal/metrics"
)

type testDevice struct{}

func (testDevice) Name() string { return "test-gpu" }

func newFacade(t *testing.T, opts ...backend.Option) (*Facade, *metrics.Collector) {
	t.Helper()
	c := metrics.NewCollector()
	f := New(backend.New(opts...), true, c, zap.NewNop())
	if _, err := f.InitBackend(context.Background()); err != nil {
		t.Fatalf("InitBackend: %v", err)
	}
	return f, c
}

func TestFacade_InitBackendIdempotent(t *testing.T) {
	f := New(backend.New(), true, nil, nil)
	if f.BackendStatus() != model.ModeUninitialized {
		t.Fatalf("BackendStatus=%s, want uninitialized", f.BackendStatus())
	}
	first, err := f.InitBackend(context.Background())
	if err != nil {
		t.Fatalf("InitBackend: %v", err)
	}
	second, err := f.InitBackend(context.Background())
	if err != nil {
		t.Fatalf("InitBackend: %v", err)
	}
	if first.Mode != second.Mode || first.Mode != model.ModeCPUParallel {
		t.Fatalf("first=%s second=%s, want cpu_parallel twice", first.Mode, second.Mode)
	}
	if f.BackendStatus() != model.ModeCPUParallel {
		t.Fatalf("BackendStatus=%s, want cpu_parallel", f.BackendStatus())
	}
}

func TestFacade_ComputeImbalanceBatch(t *testing.T) {
	f, c := newFacade(t)

	snaps := []model.Snapshot{
		{Timestamp: 1, BidVolume: 100, AskVolume: 50, BidPrice: 99, AskPrice: 101},
		{Timestamp: 2},
		{Timestamp: 3, BidVolume: 10, AskVolume: 90, BidPrice: 10, AskPrice: 10},
	}
	b, err := f.ComputeImbalanceBatch(snaps)
	if err != nil {
		t.Fatalf("ComputeImbalanceBatch: %v", err)
	}
	if b.BatchID == "" {
		t.Fatalf("BatchID 不应为空")
	}
	if b.LatencyMs < 0 {
		t.Fatalf("LatencyMs=%f, want >=0", b.LatencyMs)
	}
	want := []model.Pressure{model.PressureBuy, model.PressureNeutral, model.PressureSell}
	if len(b.Results) != len(want) {
		t.Fatalf("len(Results)=%d, want %d", len(b.Results), len(want))
	}
	for i, r := range b.Results {
		if r.Timestamp != uint64(i+1) {
			t.Fatalf("Results[%d].Timestamp=%d, want %d", i, r.Timestamp, i+1)
		}
		if r.Signal != want[i] {
			t.Fatalf("Results[%d].Signal=%s, want %s", i, r.Signal, want[i])
		}
	}
	if b.Results[1].Entropy != 1.0 || b.Results[1].OBI != 0 {
		t.Fatalf("空盘口结果=%+v", b.Results[1])
	}

	if got := testutil.ToFloat64(c.Batches.WithLabelValues("obi", "cpu_parallel")); got != 1 {
		t.Fatalf("batches=%f, want 1", got)
	}
	if got := f.LatencyStats("obi").Count; got != 1 {
		t.Fatalf("latency count=%d, want 1", got)
	}
}

func TestFacade_NotInitialized(t *testing.T) {
	c := metrics.NewCollector()
	f := New(backend.New(), true, c, nil)

	b, err := f.ComputeImbalanceBatch([]model.Snapshot{{BidVolume: 1}})
	if !errors.Is(err, backend.ErrNotInitialized) {
		t.Fatalf("err=%v, want ErrNotInitialized", err)
	}
	if b == nil || len(b.Results) != 0 {
		t.Fatalf("未初始化应返回空结果: %+v", b)
	}
	if _, err := f.DetectHole([]model.Snapshot{{}}); !errors.Is(err, backend.ErrNotInitialized) {
		t.Fatalf("err=%v, want ErrNotInitialized", err)
	}
	if got := testutil.ToFloat64(c.Rejected.WithLabelValues("obi", "not_initialized")); got != 1 {
		t.Fatalf("rejected=%f, want 1", got)
	}
}

func TestFacade_InvalidInput(t *testing.T) {
	f, c := newFacade(t)
	_, err := f.ComputeImbalanceBatch([]model.Snapshot{{BidPrice: math.NaN()}})
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
	if got := testutil.ToFloat64(c.Rejected.WithLabelValues("obi", "invalid_input")); got != 1 {
		t.Fatalf("rejected=%f, want 1", got)
	}
}

func TestFacade_Curvature(t *testing.T) {
	f, _ := newFacade(t)

	snaps := []model.Snapshot{
		{BidPrice: 0, AskPrice: 0},
		{BidPrice: 99, AskPrice: 101, BidVolume: 100, AskVolume: 100},
	}
	cs, err := f.ComputeCurvature(snaps)
	if err != nil {
		t.Fatalf("ComputeCurvature: %v", err)
	}
	if len(cs) != 2 || cs[0] != 1.0 || math.Abs(cs[1]-0.01) > 1e-12 {
		t.Fatalf("curvatures=%v", cs)
	}

	mean, err := f.MeanCurvature(snaps)
	if err != nil {
		t.Fatalf("MeanCurvature: %v", err)
	}
	if math.Abs(mean-0.505) > 1e-12 {
		t.Fatalf("mean=%f, want 0.505", mean)
	}

	hole, err := f.DetectHole(snaps)
	if err != nil || !hole {
		t.Fatalf("hole=%v err=%v, want true", hole, err)
	}

	hole, err = f.DetectHole(nil)
	if err != nil || hole {
		t.Fatalf("空批次 hole=%v err=%v, want false/nil", hole, err)
	}
}

func TestFacade_ClassifyAndCompetitor(t *testing.T) {
	// 不依赖后端
	f := New(backend.New(), true, nil, nil)
	if got := f.ClassifyImbalance(0.3); got != model.PressureNeutral {
		t.Fatalf("Classify(0.3)=%s, want NEUTRAL", got)
	}
	if got := f.ClassifyImbalance(-0.31); got != model.PressureSell {
		t.Fatalf("Classify(-0.31)=%s, want SELL_PRESSURE", got)
	}
	if got := f.EvaluateCompetitor(1500, 2000, 5.0); got != model.VerdictBidWall {
		t.Fatalf("Evaluate=%q, want bid wall", got)
	}
	if got := f.EvaluateCompetitor(100, 100, 0.1); got != model.VerdictNone {
		t.Fatalf("Evaluate=%q, want no anomaly", got)
	}
}

func TestFacade_AcceleratedFallbackLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	c := metrics.NewCollector()
	lc := backend.New(
		backend.WithLogger(logger),
		backend.WithProber(backend.ProberFunc(func(context.Context) (backend.Device, error) {
			return testDevice{}, nil
		})),
	)
	f := New(lc, true, c, logger)
	st, err := f.InitBackend(context.Background())
	if err != nil {
		t.Fatalf("InitBackend: %v", err)
	}
	if st.Mode != model.ModeHardwareAccelerated {
		t.Fatalf("Mode=%s, want hardware_accelerated", st.Mode)
	}

	b, err := f.ComputeImbalanceBatch([]model.Snapshot{{BidVolume: 100, AskVolume: 50, BidPrice: 99, AskPrice: 101}})
	if err != nil {
		t.Fatalf("ComputeImbalanceBatch: %v", err)
	}
	if !b.FellBack || b.Mode != model.ModeCPUParallel {
		t.Fatalf("batch=%+v, want fallback to cpu_parallel", b)
	}
	if b.Results[0].Signal != model.PressureBuy {
		t.Fatalf("Signal=%s, want BUY_PRESSURE", b.Results[0].Signal)
	}
	if logs.FilterMessage("加速路径失败，本批回退并行路径").Len() != 1 {
		t.Fatalf("应记录一次回退告警")
	}
	if got := testutil.ToFloat64(c.Fallbacks.WithLabelValues("obi")); got != 1 {
		t.Fatalf("fallbacks=%f, want 1", got)
	}
	if got := testutil.ToFloat64(c.BackendMode); got != 2 {
		t.Fatalf("mode gauge=%f, want 2", got)
	}
}
