// Package model 定义信号引擎中使用的核心数据结构。
// 包含订单簿快照、失衡结果、后端模式、对手盘判定等核心类型。
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
)

// ErrInvalidInput 输入快照包含负值或非有限数值
var ErrInvalidInput = errors.New("invalid input")

// Snapshot 订单簿最优档快照
// 由调用方按 tick 创建，引擎只读、不修改、不保留。
type Snapshot struct {
	// Timestamp 时间戳（同一行情源内单调递增）
	Timestamp uint64 `json:"timestamp"`
	// BidPrice 最优买价（买一价）
	BidPrice float64 `json:"bid_price"`
	// BidVolume 最优买量（买一量）
	BidVolume float64 `json:"bid_volume"`
	// AskPrice 最优卖价（卖一价）
	AskPrice float64 `json:"ask_price"`
	// AskVolume 最优卖量（卖一量）
	AskVolume float64 `json:"ask_volume"`
}

// TotalVolume 计算买卖总量
// 公式: BidVolume + AskVolume
func (s Snapshot) TotalVolume() float64 {
	return s.BidVolume + s.AskVolume
}

// MidPrice 计算中间价
// 公式: (BidPrice + AskPrice) / 2
func (s Snapshot) MidPrice() float64 {
	return (s.BidPrice + s.AskPrice) / 2
}

// Spread 计算买卖价差（绝对值）
// 公式: |AskPrice - BidPrice|
func (s Snapshot) Spread() float64 {
	return math.Abs(s.AskPrice - s.BidPrice)
}

// Time 获取时间戳的 time.Time 表示（按毫秒解释）
func (s Snapshot) Time() time.Time {
	return time.UnixMilli(int64(s.Timestamp))
}

// Validate 检查快照数值是否合法
// 合法条件: 四个数值字段均为有限数且 >= 0
func (s Snapshot) Validate() error {
	var err error
	check := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			err = multierr.Append(err, fmt.Errorf("%s 非有限数: %v", name, v))
			return
		}
		if v < 0 {
			err = multierr.Append(err, fmt.Errorf("%s 不能为负数: %v", name, v))
		}
	}
	check("bid_price", s.BidPrice)
	check("bid_volume", s.BidVolume)
	check("ask_price", s.AskPrice)
	check("ask_volume", s.AskVolume)
	return err
}

// ValidateBatch 校验整批快照
// 返回: 所有非法元素的错误（按下标聚合），均包装 ErrInvalidInput；全部合法返回 nil
func ValidateBatch(snapshots []Snapshot) error {
	var errs error
	for i := range snapshots {
		if err := snapshots[i].Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("snapshots[%d]: %w", i, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, errs)
	}
	return nil
}
