package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"book-signal-engine/internal/core/model"
)

// defaultProbeTimeout 默认设备探测超时
const defaultProbeTimeout = 500 * time.Millisecond

// Status 后端状态快照
type Status struct {
	// Mode 当前模式
	Mode model.BackendMode `json:"mode"`
	// Message 人类可读描述
	Message string `json:"message"`
	// Device 加速设备描述（仅硬件加速模式）
	Device string `json:"device,omitempty"`
}

// Outcome 单次批量调度的执行情况
type Outcome struct {
	// Mode 实际完成计算的模式
	Mode model.BackendMode
	// FellBack 是否因加速路径失败而回退
	FellBack bool
}

// state 已初始化的后端状态，发布后只读
type state struct {
	status   Status
	primary  Strategy
	fallback Strategy
}

// Lifecycle 计算后端生命周期
// 由宿主创建一次并在所有调用间共享。状态只会从未初始化转换到终态一次，
// 不会重复初始化，也不会在成功后降级。
type Lifecycle struct {
	// mu 仅保护状态转换
	mu sync.Mutex
	// cur 已发布的状态，nil 表示未初始化；读取无需加锁
	cur atomic.Pointer[state]

	prober       Prober
	accelEnabled bool
	workers      int
	probeTimeout time.Duration
	logger       *zap.Logger
}

// Option Lifecycle 构建选项
type Option func(*Lifecycle)

// WithProber 设置加速设备探测器
func WithProber(p Prober) Option {
	return func(l *Lifecycle) {
		if p != nil {
			l.prober = p
		}
	}
}

// WithAccelerator 是否尝试硬件加速
func WithAccelerator(enabled bool) Option {
	return func(l *Lifecycle) { l.accelEnabled = enabled }
}

// WithWorkers 设置并行路径的最大并发数（0 表示 GOMAXPROCS）
func WithWorkers(n int) Option {
	return func(l *Lifecycle) { l.workers = n }
}

// WithProbeTimeout 设置设备探测超时
func WithProbeTimeout(d time.Duration) Option {
	return func(l *Lifecycle) {
		if d > 0 {
			l.probeTimeout = d
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New 创建未初始化的后端生命周期
func New(opts ...Option) *Lifecycle {
	l := &Lifecycle{
		prober:       NoAccelerator{},
		accelEnabled: true,
		probeTimeout: defaultProbeTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("backend")
	return l
}

// Initialize 初始化后端（只执行一次）
// 探测失败只记录告警并回退并行模式，不视为错误；已初始化时直接返回现有状态。
// 唯一的错误是无法构建后端状态（ErrInitFatal）。
func (l *Lifecycle) Initialize(ctx context.Context) (Status, error) {
	if st := l.cur.Load(); st != nil {
		return st.status, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// 竞争失败者在此观察到胜者发布的终态
	if st := l.cur.Load(); st != nil {
		return st.status, nil
	}

	cpu, err := NewParallel(l.workers)
	if err != nil {
		return Status{Mode: model.ModeUninitialized}, fmt.Errorf("%w: %w", ErrInitFatal, err)
	}

	st := &state{
		status: Status{
			Mode:    model.ModeCPUParallel,
			Message: fmt.Sprintf("cpu parallel mode active (workers=%d)", cpu.Workers()),
		},
		fallback: cpu,
	}

	if l.accelEnabled {
		dev, err := l.probe(ctx)
		switch {
		case err != nil:
			l.logger.Warn("加速设备探测失败，回退并行模式", zap.Error(err))
		case dev == nil:
			l.logger.Warn("加速设备探测未返回设备，回退并行模式")
		default:
			st.primary = &accelerated{dev: dev}
			st.status = Status{
				Mode:    model.ModeHardwareAccelerated,
				Message: fmt.Sprintf("hardware accelerated mode active: %s", dev.Name()),
				Device:  dev.Name(),
			}
		}
	}

	l.cur.Store(st)
	l.logger.Info("计算后端已初始化",
		zap.Stringer("mode", st.status.Mode),
		zap.String("message", st.status.Message),
	)
	return st.status, nil
}

// probe 在超时内探测加速设备
// 探测器不响应取消时也不会阻塞初始化超过超时时间。
func (l *Lifecycle) probe(ctx context.Context) (Device, error) {
	ctx, cancel := context.WithTimeout(ctx, l.probeTimeout)
	defer cancel()

	type result struct {
		dev Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := l.prober.Probe(ctx)
		ch <- result{dev: dev, err: err}
	}()

	select {
	case r := <-ch:
		return r.dev, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("设备探测超时: %w", ctx.Err())
	}
}

// Mode 返回当前模式（非阻塞）
func (l *Lifecycle) Mode() model.BackendMode {
	return l.Status().Mode
}

// Status 返回当前状态（非阻塞）
func (l *Lifecycle) Status() Status {
	st := l.cur.Load()
	if st == nil {
		return Status{Mode: model.ModeUninitialized, Message: "backend not initialized"}
	}
	return st.status
}

// Dispatch 按当前后端执行一次批量计算
// 硬件加速模式下先尝试加速路径；失败则本批回退并行路径，后端模式保持不变。
// 未初始化时返回 ErrNotInitialized，kernel 不会被调用。
func (l *Lifecycle) Dispatch(name string, snapshots []model.Snapshot, k Kernel) (Outcome, error) {
	st := l.cur.Load()
	if st == nil {
		l.logger.Warn("后端未初始化，拒绝计算", zap.String("kernel", name))
		return Outcome{Mode: model.ModeUninitialized}, ErrNotInitialized
	}
	if len(snapshots) == 0 {
		return Outcome{Mode: st.status.Mode}, nil
	}

	if st.primary != nil {
		err := st.primary.Run(name, snapshots, k)
		if err == nil {
			return Outcome{Mode: st.primary.Mode()}, nil
		}
		l.logger.Warn("加速路径失败，本批回退并行路径",
			zap.String("kernel", name),
			zap.Int("batch", len(snapshots)),
			zap.Error(err),
		)
		if err := st.fallback.Run(name, snapshots, k); err != nil {
			return Outcome{Mode: st.fallback.Mode(), FellBack: true}, fmt.Errorf("并行路径执行失败: %w", err)
		}
		return Outcome{Mode: st.fallback.Mode(), FellBack: true}, nil
	}

	if err := st.fallback.Run(name, snapshots, k); err != nil {
		return Outcome{Mode: st.fallback.Mode()}, fmt.Errorf("并行路径执行失败: %w", err)
	}
	return Outcome{Mode: st.fallback.Mode()}, nil
}

// Health 返回后端就绪描述
func (l *Lifecycle) Health() string {
	st := l.Status()
	if st.Mode == model.ModeUninitialized {
		return "backend: NOT READY (call Initialize first)"
	}
	return fmt.Sprintf("backend: READY (%s)", st.Message)
}
