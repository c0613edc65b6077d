// Package replay 从录制文件中按批读取订单簿快照。
// 支持 JSONL（每行一个快照对象）与 CSV（带或不带表头）两种格式。
package replay

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"book-signal-engine/internal/core/model"
	"book-signal-engine/internal/util/fastparse"
)

// Format 回放文件格式
type Format int

const (
	// FormatJSONL 每行一个 JSON 快照
	FormatJSONL Format = iota
	// FormatCSV 逗号分隔，列: timestamp,bid_price,bid_volume,ask_price,ask_volume
	FormatCSV
)

// String 返回格式名称
func (f Format) String() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// csvColumns CSV 默认列顺序（无表头时使用）
var csvColumns = []string{"timestamp", "bid_price", "bid_volume", "ask_price", "ask_volume"}

// maxLineBytes 单行最大长度
const maxLineBytes = 1 << 20

// DetectFormat 根据扩展名判断文件格式
// 参数 path: 文件路径
// 返回: 文件格式，无法识别时返回错误
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return 0, fmt.Errorf("无法识别的回放文件格式: %s", path)
	}
}

// Reader 快照批量读取器
// 非并发安全，由单个 goroutine 顺序读取。
type Reader struct {
	format Format

	// JSONL
	sc *bufio.Scanner
	// CSV
	cr     *csv.Reader
	colIdx [5]int
	header bool

	line int
	// read 已读取快照数
	read int
}

// NewReader 基于 io.Reader 创建读取器
func NewReader(r io.Reader, format Format) *Reader {
	rd := &Reader{format: format}
	switch format {
	case FormatCSV:
		rd.cr = csv.NewReader(r)
		rd.cr.FieldsPerRecord = -1
		rd.cr.TrimLeadingSpace = true
		rd.cr.Comment = '#'
		for i := range rd.colIdx {
			rd.colIdx[i] = i
		}
	default:
		rd.sc = bufio.NewScanner(r)
		rd.sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	}
	return rd
}

// Count 返回已读取的快照总数
func (r *Reader) Count() int {
	return r.read
}

// ReadBatch 读取至多 n 个快照
// 返回: 快照切片；文件读尽时返回已读部分与 io.EOF（切片可能非空）
func (r *Reader) ReadBatch(n int) ([]model.Snapshot, error) {
	if n <= 0 {
		return nil, fmt.Errorf("批大小必须为正数: %d", n)
	}
	out := make([]model.Snapshot, 0, n)
	for len(out) < n {
		s, err := r.next()
		if err != nil {
			return out, err
		}
		out = append(out, s)
		r.read++
	}
	return out, nil
}

// ReadAll 读取全部快照
func (r *Reader) ReadAll() ([]model.Snapshot, error) {
	var out []model.Snapshot
	for {
		s, err := r.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
		r.read++
	}
}

func (r *Reader) next() (model.Snapshot, error) {
	if r.format == FormatCSV {
		return r.nextCSV()
	}
	return r.nextJSONL()
}

func (r *Reader) nextJSONL() (model.Snapshot, error) {
	for r.sc.Scan() {
		r.line++
		b := r.sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var s model.Snapshot
		if err := json.Unmarshal(b, &s); err != nil {
			return model.Snapshot{}, fmt.Errorf("第 %d 行 JSON 解析失败: %w", r.line, err)
		}
		return s, nil
	}
	if err := r.sc.Err(); err != nil {
		return model.Snapshot{}, fmt.Errorf("读取第 %d 行失败: %w", r.line+1, err)
	}
	return model.Snapshot{}, io.EOF
}

func (r *Reader) nextCSV() (model.Snapshot, error) {
	for {
		rec, err := r.cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return model.Snapshot{}, io.EOF
			}
			return model.Snapshot{}, fmt.Errorf("CSV 读取失败: %w", err)
		}
		r.line, _ = r.cr.FieldPos(0)

		if !r.header {
			r.header = true
			if isHeader(rec) {
				if err := r.bindHeader(rec); err != nil {
					return model.Snapshot{}, err
				}
				continue
			}
		}
		return r.parseRecord(rec)
	}
}

// isHeader 首个字段不是数字即视为表头
func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := fastparse.ParseFloat(rec[0])
	return err != nil
}

func (r *Reader) bindHeader(rec []string) error {
	pos := make(map[string]int, len(rec))
	for i, name := range rec {
		pos[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for i, col := range csvColumns {
		idx, ok := pos[col]
		if !ok {
			return fmt.Errorf("CSV 表头缺少列 %q", col)
		}
		r.colIdx[i] = idx
	}
	return nil
}

func (r *Reader) parseRecord(rec []string) (model.Snapshot, error) {
	field := func(i int) (string, error) {
		idx := r.colIdx[i]
		if idx >= len(rec) {
			return "", fmt.Errorf("第 %d 行缺少列 %s", r.line, csvColumns[i])
		}
		return rec[idx], nil
	}

	var s model.Snapshot
	raw, err := field(0)
	if err != nil {
		return s, err
	}
	if s.Timestamp, err = fastparse.ParseUint(raw); err != nil {
		return s, fmt.Errorf("第 %d 行 timestamp 无效: %w", r.line, err)
	}

	dst := [4]*float64{&s.BidPrice, &s.BidVolume, &s.AskPrice, &s.AskVolume}
	for i, p := range dst {
		raw, err := field(i + 1)
		if err != nil {
			return s, err
		}
		if *p, err = fastparse.ParseFloat(raw); err != nil {
			return s, fmt.Errorf("第 %d 行 %s 无效: %w", r.line, csvColumns[i+1], err)
		}
	}
	return s, nil
}

// File 打开的回放文件
type File struct {
	*Reader
	f *os.File
}

// Open 打开回放文件，格式由扩展名决定
// 参数 path: 文件路径（.jsonl/.ndjson/.csv）
func Open(path string) (*File, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开回放文件失败: %w", err)
	}
	return &File{Reader: NewReader(f, format), f: f}, nil
}

// Close 关闭底层文件
func (f *File) Close() error {
	return f.f.Close()
}
