// Package competitor 基于聚合买卖量与价差的对手盘行为规则判定。
package competitor

import "book-signal-engine/internal/core/model"

const (
	// WallThreshold 单侧挂单量超过该值视为“墙”
	WallThreshold = 1000.0
	// VoidSpreadPercent 价差百分比超过该值视为市场真空
	VoidSpreadPercent = 1.0
)

// Evaluate 按固定顺序评估规则，首个命中即返回
// 买墙优先于卖墙：买卖两侧同时出现墙时总是报告买墙，这是有意的优先级。
func Evaluate(bidVolume, askVolume, spreadPercent float64) model.Verdict {
	switch {
	case bidVolume > WallThreshold:
		return model.VerdictBidWall
	case askVolume > WallThreshold:
		return model.VerdictAskWall
	case spreadPercent > VoidSpreadPercent:
		return model.VerdictVoid
	default:
		return model.VerdictNone
	}
}
