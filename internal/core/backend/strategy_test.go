// Package backend 计算策略属性测试
package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"book-signal-engine/internal/core/model"
)

// **Feature: book-signal-engine, Property 1: Parallel Order Preservation**

func TestParallel_OrderPreservation_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("并行结果按输入下标写回", prop.ForAll(
		func(n int, workers int) bool {
			p, err := NewParallel(workers)
			if err != nil {
				return false
			}
			snaps := make([]model.Snapshot, n)
			for i := range snaps {
				snaps[i].Timestamp = uint64(i * 7)
			}
			out := make([]uint64, n)
			if err := p.Run("ts", snaps, func(i int, s model.Snapshot) { out[i] = s.Timestamp }); err != nil {
				return false
			}
			for i := range out {
				if out[i] != uint64(i*7) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 5000),
		gen.IntRange(0, 16),
	))

	properties.TestingRun(t)
}

func TestNewParallel(t *testing.T) {
	if _, err := NewParallel(-3); err == nil {
		t.Fatalf("负 workers 应报错")
	}
	p, err := NewParallel(0)
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	if p.Workers() <= 0 {
		t.Fatalf("Workers=%d, want >0", p.Workers())
	}
	if p.Mode() != model.ModeCPUParallel {
		t.Fatalf("Mode=%s, want cpu_parallel", p.Mode())
	}
}

func TestAccelerated_AlwaysReportsCapabilityFailure(t *testing.T) {
	a := &accelerated{dev: fakeDevice("gpu0")}
	called := false
	err := a.Run("obi", []model.Snapshot{{}}, func(int, model.Snapshot) { called = true })
	if !errors.Is(err, ErrKernelUnavailable) {
		t.Fatalf("err=%v, want ErrKernelUnavailable", err)
	}
	if called {
		t.Fatalf("加速路径不应产出结果")
	}
}

func TestNoAccelerator(t *testing.T) {
	dev, err := NoAccelerator{}.Probe(context.Background())
	if dev != nil || !errors.Is(err, ErrAcceleratorUnavailable) {
		t.Fatalf("dev=%v err=%v, want nil/ErrAcceleratorUnavailable", dev, err)
	}
}
