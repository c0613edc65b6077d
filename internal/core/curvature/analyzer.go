// Package curvature 估计订单簿结构不稳定度（曲率）并检测流动性空洞。
package curvature

import (
	"book-signal-engine/internal/core/backend"
	"book-signal-engine/internal/core/model"
)

const (
	// HoleThreshold 平均曲率超过该值视为检测到流动性空洞
	HoleThreshold = 0.05
	// KernelName 调度时使用的内核名称
	KernelName = "curvature"
)

// Compute 计算单个快照的曲率
// 曲率 = min(spread / total_volume, 1)；空盘口（总量为 0）为最大不稳定度 1。
func Compute(s model.Snapshot) float64 {
	total := s.TotalVolume()
	if total == 0 {
		return 1.0
	}
	return min(s.Spread()/total, 1.0)
}

// Mean 计算曲率均值，空切片返回 0
func Mean(curvatures []float64) float64 {
	if len(curvatures) == 0 {
		return 0
	}
	var sum float64
	for _, c := range curvatures {
		sum += c
	}
	return sum / float64(len(curvatures))
}

// Analyzer 批量曲率分析器
type Analyzer struct {
	lc       *backend.Lifecycle
	validate bool
}

// NewAnalyzer 创建曲率分析器
// 参数 lc: 计算后端
// 参数 validate: 是否拒绝负值/非有限数输入
func NewAnalyzer(lc *backend.Lifecycle, validate bool) *Analyzer {
	return &Analyzer{lc: lc, validate: validate}
}

// ComputeBatch 计算整批快照的曲率，输出顺序与输入一致
func (a *Analyzer) ComputeBatch(snapshots []model.Snapshot) ([]float64, backend.Outcome, error) {
	if a.lc.Mode() == model.ModeUninitialized {
		return []float64{}, backend.Outcome{Mode: model.ModeUninitialized}, backend.ErrNotInitialized
	}
	if a.validate {
		if err := model.ValidateBatch(snapshots); err != nil {
			return []float64{}, backend.Outcome{Mode: a.lc.Mode()}, err
		}
	}

	out := make([]float64, len(snapshots))
	outcome, err := a.lc.Dispatch(KernelName, snapshots, func(i int, s model.Snapshot) {
		out[i] = Compute(s)
	})
	if err != nil {
		return []float64{}, outcome, err
	}
	return out, outcome, nil
}

// MeanCurvature 计算整批平均曲率，空批次返回 0
func (a *Analyzer) MeanCurvature(snapshots []model.Snapshot) (float64, error) {
	curvatures, _, err := a.ComputeBatch(snapshots)
	if err != nil {
		return 0, err
	}
	return Mean(curvatures), nil
}

// DetectHole 平均曲率是否超过 HoleThreshold
// 空批次没有均值，视为未检测到空洞。
func (a *Analyzer) DetectHole(snapshots []model.Snapshot) (bool, error) {
	curvatures, _, err := a.ComputeBatch(snapshots)
	if err != nil {
		return false, err
	}
	return HoleIn(curvatures), nil
}

// HoleIn 判断一组曲率的均值是否超过 HoleThreshold，空切片返回 false
func HoleIn(curvatures []float64) bool {
	if len(curvatures) == 0 {
		return false
	}
	return Mean(curvatures) > HoleThreshold
}
