// Package fastparse 提供回放文件字段的快速解析函数。
// 热路径上使用 strconv，避免 fmt 的反射开销。
package fastparse

import (
	"strconv"
	"strings"
)

// ParseFloat 解析浮点数字段
// 容忍字段两侧空白（CSV 导出常见）
// 参数 s: 待解析的字符串，如 "12345.67"
// 返回: 解析后的浮点数和可能的错误
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// ParseUint 解析无符号整数字段
// 用于快照时间戳等非负整数
// 参数 s: 待解析的字符串
// 返回: 解析后的无符号整数和可能的错误
func ParseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
