// Package backend 管理计算后端的生命周期与批量调度。
// 进程内只做一次后端选择：硬件加速或通用并行；选择结果对所有调用方一致可见。
package backend

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"book-signal-engine/internal/core/model"
)

var (
	// ErrNotInitialized 后端尚未初始化
	ErrNotInitialized = errors.New("backend not initialized")
	// ErrAcceleratorUnavailable 无可用加速设备（或未编译加速支持）
	ErrAcceleratorUnavailable = errors.New("accelerator unavailable")
	// ErrKernelUnavailable 加速设备上没有可用的计算内核
	ErrKernelUnavailable = errors.New("accelerated kernel unavailable")
	// ErrInitFatal 无法构建后端状态，初始化终止
	ErrInitFatal = errors.New("backend init fatal")
)

// minChunk 单个 worker 最少处理的元素数，避免小批次的调度开销
const minChunk = 64

// Kernel 逐元素计算函数
// 参数 i: 元素在输入批次中的下标，结果必须写回下标 i 对应位置
// 参数 s: 快照
type Kernel func(i int, s model.Snapshot)

// Strategy 批量计算策略
// 并行策略与加速策略实现同一契约；失败时不得写出部分错误结果给调用方。
type Strategy interface {
	// Mode 策略对应的后端模式
	Mode() model.BackendMode
	// Run 对整批快照执行 kernel
	// 参数 name: 内核名称（用于日志与加速设备内核查找）
	Run(name string, snapshots []model.Snapshot, k Kernel) error
}

// Parallel 通用并行策略
// 按下标切分为若干连续区间，由 errgroup 限流并发执行；结果按下标写回，顺序与完成顺序无关。
type Parallel struct {
	// workers 最大并发数
	workers int
}

// NewParallel 创建并行策略
// 参数 workers: 最大并发数，0 表示使用 GOMAXPROCS
func NewParallel(workers int) (*Parallel, error) {
	if workers < 0 {
		return nil, fmt.Errorf("workers 不能为负数: %d", workers)
	}
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Parallel{workers: workers}, nil
}

// Mode 返回 ModeCPUParallel
func (p *Parallel) Mode() model.BackendMode {
	return model.ModeCPUParallel
}

// Workers 返回最大并发数
func (p *Parallel) Workers() int {
	return p.workers
}

// Run 并行执行 kernel
func (p *Parallel) Run(_ string, snapshots []model.Snapshot, k Kernel) error {
	n := len(snapshots)
	if n == 0 {
		return nil
	}

	chunk := (n + p.workers - 1) / p.workers
	if chunk < minChunk {
		chunk = minChunk
	}
	if n <= chunk {
		for i := range snapshots {
			k(i, snapshots[i])
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				k(i, snapshots[i])
			}
			return nil
		})
	}
	return g.Wait()
}

// Device 加速设备
type Device interface {
	// Name 设备描述，如 "CUDA device 0: RTX 4090"
	Name() string
}

// Prober 加速设备探测器
// 实现应在 ctx 取消后尽快返回。
type Prober interface {
	Probe(ctx context.Context) (Device, error)
}

// ProberFunc 函数形式的 Prober
type ProberFunc func(ctx context.Context) (Device, error)

// Probe 调用 f
func (f ProberFunc) Probe(ctx context.Context) (Device, error) {
	return f(ctx)
}

// NoAccelerator 未编译加速支持时的探测器，总是返回 ErrAcceleratorUnavailable
type NoAccelerator struct{}

// Probe 返回 ErrAcceleratorUnavailable
func (NoAccelerator) Probe(context.Context) (Device, error) {
	return nil, fmt.Errorf("%w: 未编译加速支持", ErrAcceleratorUnavailable)
}

// accelerated 硬件加速策略
// 设备内核尚未实现，Run 总是报告能力缺失，由调度层回退到并行路径。
type accelerated struct {
	dev Device
}

func (a *accelerated) Mode() model.BackendMode {
	return model.ModeHardwareAccelerated
}

func (a *accelerated) Run(name string, _ []model.Snapshot, _ Kernel) error {
	return fmt.Errorf("%w: kernel=%s device=%s", ErrKernelUnavailable, name, a.dev.Name())
}
