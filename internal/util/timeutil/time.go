// Package timeutil 提供高精度计时工具，用于批次耗时测量与结果记录时间戳。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// 以启动时 Unix 时间为基准叠加单调时钟读数，系统时间跳变不会让批次耗时出现负值。
// 返回: 当前时间的 Unix 纳秒时间戳
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NowMs 获取当前时间的毫秒时间戳
func NowMs() int64 {
	return NowNano() / 1_000_000
}

// DurationMs 计算两个纳秒时间戳之间的毫秒差
// 参数 startNs: 开始时间（纳秒）
// 参数 endNs: 结束时间（纳秒）
// 返回: 时间差（毫秒，浮点数以保留精度）
func DurationMs(startNs, endNs int64) float64 {
	return float64(endNs-startNs) / 1_000_000.0
}

// SinceNano 计算从指定纳秒时间戳到现在的时间差
func SinceNano(startNs int64) time.Duration {
	return time.Duration(NowNano() - startNs)
}
