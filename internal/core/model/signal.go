// Package model 定义信号引擎中使用的核心数据结构。
package model

// Pressure 订单簿失衡方向
type Pressure string

const (
	// PressureBuy 买压: obi > 阈值
	PressureBuy Pressure = "BUY_PRESSURE"
	// PressureSell 卖压: obi < -阈值
	PressureSell Pressure = "SELL_PRESSURE"
	// PressureNeutral 中性
	PressureNeutral Pressure = "NEUTRAL"
)

// ImbalanceResult 单个快照的失衡计算结果
type ImbalanceResult struct {
	// Timestamp 对应快照的时间戳
	Timestamp uint64 `json:"timestamp"`
	// OBI 订单簿失衡: (bid_volume - ask_volume) / total_volume，范围 [-1, 1]
	OBI float64 `json:"obi"`
	// Entropy 价差熵: spread / avg_price（非 Shannon 熵）
	Entropy float64 `json:"entropy"`
	// Signal 分类结果
	Signal Pressure `json:"signal"`
}

// Verdict 对手盘行为判定
type Verdict string

const (
	// VerdictBidWall 疑似虚假买墙，建议诱饵卖单
	VerdictBidWall Verdict = "fake bid wall detected, deploy bait-sell"
	// VerdictAskWall 疑似虚假卖墙，建议诱饵买单
	VerdictAskWall Verdict = "fake ask wall detected, deploy bait-buy"
	// VerdictVoid 市场真空，建议探测单
	VerdictVoid Verdict = "market void, deploy probe"
	// VerdictNone 无异常
	VerdictNone Verdict = "no anomaly"
)

// BackendMode 计算后端模式
type BackendMode int32

const (
	// ModeUninitialized 尚未初始化
	ModeUninitialized BackendMode = iota
	// ModeCPUParallel 通用并行计算
	ModeCPUParallel
	// ModeHardwareAccelerated 硬件加速
	ModeHardwareAccelerated
)

// String 返回模式名称
func (m BackendMode) String() string {
	switch m {
	case ModeCPUParallel:
		return "cpu_parallel"
	case ModeHardwareAccelerated:
		return "hardware_accelerated"
	default:
		return "uninitialized"
	}
}

// MarshalText 以名称形式序列化（JSON/YAML 输出使用）
func (m BackendMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
