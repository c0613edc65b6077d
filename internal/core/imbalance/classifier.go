// Package imbalance 实现订单簿失衡（OBI）与价差熵计算及信号分类。
package imbalance

import (
	"book-signal-engine/internal/core/backend"
	"book-signal-engine/internal/core/model"
)

// Threshold 分类阈值（严格不等式，边界值归为中性）
const Threshold = 0.3

// KernelName 调度时使用的内核名称
const KernelName = "obi"

// Compute 计算单个快照的失衡结果
// obi = (bid_volume - ask_volume) / total_volume，总量为 0 时 obi = 0
// entropy = spread / avg_price，均价为 0 时 entropy = 1（无流动性）
func Compute(s model.Snapshot) model.ImbalanceResult {
	var obi float64
	if total := s.TotalVolume(); total > 0 {
		obi = (s.BidVolume - s.AskVolume) / total
	}

	entropy := 1.0
	if avg := s.MidPrice(); avg > 0 {
		entropy = s.Spread() / avg
	}

	return model.ImbalanceResult{
		Timestamp: s.Timestamp,
		OBI:       obi,
		Entropy:   entropy,
		Signal:    Classify(obi),
	}
}

// Classify 根据单个 obi 值分类
// obi > 0.3 为买压，obi < -0.3 为卖压，其余（含边界与 NaN）为中性。
func Classify(obi float64) model.Pressure {
	if obi > Threshold {
		return model.PressureBuy
	}
	if obi < -Threshold {
		return model.PressureSell
	}
	return model.PressureNeutral
}

// Classifier 批量失衡分类器
// 无状态；并发调用安全，每次调用独立分配输出。
type Classifier struct {
	// lc 计算后端
	lc *backend.Lifecycle
	// validate 是否在计算前校验输入
	validate bool
}

// NewClassifier 创建分类器
// 参数 lc: 计算后端
// 参数 validate: 是否拒绝负值/非有限数输入；关闭时遵循“输入即输出”约定
func NewClassifier(lc *backend.Lifecycle, validate bool) *Classifier {
	return &Classifier{lc: lc, validate: validate}
}

// ComputeBatch 计算整批快照的失衡结果，输出顺序与输入一致
// 后端未初始化时返回空结果与 backend.ErrNotInitialized；
// 输入非法时返回空结果与 model.ErrInvalidInput。
func (c *Classifier) ComputeBatch(snapshots []model.Snapshot) ([]model.ImbalanceResult, backend.Outcome, error) {
	if c.lc.Mode() == model.ModeUninitialized {
		return []model.ImbalanceResult{}, backend.Outcome{Mode: model.ModeUninitialized}, backend.ErrNotInitialized
	}
	if c.validate {
		if err := model.ValidateBatch(snapshots); err != nil {
			return []model.ImbalanceResult{}, backend.Outcome{Mode: c.lc.Mode()}, err
		}
	}

	out := make([]model.ImbalanceResult, len(snapshots))
	outcome, err := c.lc.Dispatch(KernelName, snapshots, func(i int, s model.Snapshot) {
		out[i] = Compute(s)
	})
	if err != nil {
		return []model.ImbalanceResult{}, outcome, err
	}
	return out, outcome, nil
}
