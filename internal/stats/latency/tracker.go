// Package latency 实现批量计算耗时的滚动窗口统计。
// 每种操作（obi / curvature）维护独立窗口。
package latency

import (
	"sort"
	"sync"
	"time"
)

// LatencyStats 耗时统计快照（滚动窗口）
// 单位：毫秒。
type LatencyStats struct {
	// Op 操作名称
	Op string `json:"op"`
	// Count 样本总数（累计）
	Count int64 `json:"count"`
	// P50Ms P50 耗时（毫秒）
	P50Ms float64 `json:"p50_ms"`
	// P90Ms P90 耗时（毫秒）
	P90Ms float64 `json:"p90_ms"`
	// P99Ms P99 耗时（毫秒）
	P99Ms float64 `json:"p99_ms"`
	// MaxMs 窗口内最大耗时（毫秒）
	MaxMs float64 `json:"max_ms"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		values[i] = tmp[min(max(idx, 0), n-1)]
	}
	return count, values
}

// Tracker 批量耗时追踪器
// 并发安全；按操作名称懒创建窗口。
type Tracker struct {
	windowSize int

	mu      sync.RWMutex
	windows map[string]*rollingWindow
}

// NewTracker 创建耗时追踪器
// 参数 windowSize: 滚动窗口大小（建议 10000），用于 P50/P90/P99。
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		windows:    make(map[string]*rollingWindow),
	}
}

// Add 记录一次批量计算耗时
// 参数 op: 操作名称
// 参数 d: 耗时
func (t *Tracker) Add(op string, d time.Duration) {
	if op == "" {
		return
	}
	t.window(op).add(d.Nanoseconds())
}

func (t *Tracker) window(op string) *rollingWindow {
	t.mu.RLock()
	w, ok := t.windows[op]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.windows[op]; ok {
		return w
	}
	w = newRollingWindow(t.windowSize)
	t.windows[op] = w
	return w
}

// Stats 获取指定操作的统计快照
// 未记录过的操作返回只有 Op 的零值统计。
func (t *Tracker) Stats(op string) LatencyStats {
	t.mu.RLock()
	w, ok := t.windows[op]
	t.mu.RUnlock()
	if !ok {
		return LatencyStats{Op: op}
	}

	count, qs := w.snapshotQuantiles(0.50, 0.90, 0.99, 1)
	return LatencyStats{
		Op:    op,
		Count: count,
		P50Ms: float64(qs[0]) / 1_000_000.0,
		P90Ms: float64(qs[1]) / 1_000_000.0,
		P99Ms: float64(qs[2]) / 1_000_000.0,
		MaxMs: float64(qs[3]) / 1_000_000.0,
	}
}

// Ops 返回已记录的操作名称（已排序）
func (t *Tracker) Ops() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ops := make([]string, 0, len(t.windows))
	for op := range t.windows {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
