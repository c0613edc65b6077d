// Package curvature 曲率分析器测试
package curvature

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"book-signal-engine/internal/core/backend"
	"book-signal-engine/internal/core/model"
)

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	lc := backend.New()
	if _, err := lc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return NewAnalyzer(lc, true)
}

func TestCompute(t *testing.T) {
	if got := Compute(model.Snapshot{}); got != 1.0 {
		t.Fatalf("空盘口曲率=%f, want 1", got)
	}
	// 空盘口即使价差为 0 也为 1
	if got := Compute(model.Snapshot{BidPrice: 100, AskPrice: 100}); got != 1.0 {
		t.Fatalf("曲率=%f, want 1", got)
	}
	if got := Compute(model.Snapshot{BidPrice: 99, AskPrice: 101, BidVolume: 100, AskVolume: 100}); math.Abs(got-0.01) > 1e-12 {
		t.Fatalf("曲率=%f, want 0.01", got)
	}
	if got := Compute(model.Snapshot{BidPrice: 90, AskPrice: 110, BidVolume: 1, AskVolume: 1}); got != 1.0 {
		t.Fatalf("曲率=%f, want 截断为 1", got)
	}
}

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Fatalf("Mean(nil)=%f, want 0", got)
	}
	if got := Mean([]float64{0.1, 0.3}); math.Abs(got-0.2) > 1e-12 {
		t.Fatalf("Mean=%f, want 0.2", got)
	}
}

func TestAnalyzer_DetectHole(t *testing.T) {
	a := newAnalyzer(t)

	stable := []model.Snapshot{
		{BidPrice: 99.99, AskPrice: 100.01, BidVolume: 500, AskVolume: 500},
		{BidPrice: 99.98, AskPrice: 100.02, BidVolume: 400, AskVolume: 600},
	}
	hole, err := a.DetectHole(stable)
	if err != nil {
		t.Fatalf("DetectHole: %v", err)
	}
	if hole {
		t.Fatalf("稳定盘口不应检测到空洞")
	}

	void := append(stable, model.Snapshot{})
	hole, err = a.DetectHole(void)
	if err != nil {
		t.Fatalf("DetectHole: %v", err)
	}
	if !hole {
		t.Fatalf("包含空盘口应检测到空洞")
	}
}

func TestAnalyzer_EmptyBatchGuarded(t *testing.T) {
	a := newAnalyzer(t)
	hole, err := a.DetectHole(nil)
	if err != nil || hole {
		t.Fatalf("hole=%v err=%v, want false/nil", hole, err)
	}
	mean, err := a.MeanCurvature(nil)
	if err != nil || mean != 0 {
		t.Fatalf("mean=%f err=%v, want 0/nil", mean, err)
	}
}

func TestAnalyzer_NotInitialized(t *testing.T) {
	a := NewAnalyzer(backend.New(), true)
	out, _, err := a.ComputeBatch([]model.Snapshot{{}})
	if !errors.Is(err, backend.ErrNotInitialized) {
		t.Fatalf("err=%v, want ErrNotInitialized", err)
	}
	if len(out) != 0 {
		t.Fatalf("len(out)=%d, want 0", len(out))
	}
	if _, err := a.DetectHole([]model.Snapshot{{}}); !errors.Is(err, backend.ErrNotInitialized) {
		t.Fatalf("err=%v, want ErrNotInitialized", err)
	}
}

func TestAnalyzer_RejectsInvalidInput(t *testing.T) {
	a := newAnalyzer(t)
	if _, _, err := a.ComputeBatch([]model.Snapshot{{AskVolume: -2}}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
}

// **Feature: book-signal-engine, Property 3: Curvature Range And Order**

func TestAnalyzer_Curvature_Property(t *testing.T) {
	a := newAnalyzer(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("曲率在 [0,1] 内且与逐元素计算一致", prop.ForAll(
		func(vols []float64, spreads []float64) bool {
			n := min(len(vols), len(spreads))
			snaps := make([]model.Snapshot, n)
			for i := 0; i < n; i++ {
				snaps[i] = model.Snapshot{
					Timestamp: uint64(i),
					BidPrice:  100,
					AskPrice:  100 + spreads[i],
					BidVolume: vols[i],
					AskVolume: vols[i] / 2,
				}
			}
			out, _, err := a.ComputeBatch(snaps)
			if err != nil || len(out) != n {
				return false
			}
			for i, c := range out {
				if c < 0 || c > 1 || c != Compute(snaps[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(300, gen.Float64Range(0, 1e4)),
		gen.SliceOfN(300, gen.Float64Range(0, 50)),
	))

	properties.TestingRun(t)
}
