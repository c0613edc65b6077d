// Package jsonl 实现按记录类型区分的异步 JSONL 文件写入。
// 批次处理路径只做 channel 投递，编码与磁盘 I/O 由每个文件独占的后台 goroutine 完成。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("jsonl: writer 已关闭")

const (
	// defaultBufferSize 默认记录缓冲数
	defaultBufferSize = 1000
	// defaultFlushInterval 默认周期落盘间隔，便于 tail -f 观察回放进度
	defaultFlushInterval = time.Second
	// fileBufferBytes 文件写缓冲大小
	fileBufferBytes = 1 << 20
)

// Option 写入器选项
type Option func(*options)

type options struct {
	flushInterval time.Duration
	logger        *zap.Logger
}

// WithFlushInterval 设置周期落盘间隔，非正数关闭周期落盘（仅 Flush/Close 时落盘）
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) { o.flushInterval = d }
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Writer 单一记录类型的异步 JSONL 写入器
// 可被多个 goroutine 并发调用；同一 goroutine 投递的记录按投递顺序落盘。
type Writer[T any] struct {
	path   string
	logger *zap.Logger

	records chan T
	flushes chan chan error
	// exited 后台 goroutine 退出后关闭
	exited chan struct{}

	// gate 投递方持读锁，Close 持写锁关闭 records，避免向已关闭 channel 发送
	gate    sync.RWMutex
	closing bool

	written atomic.Int64
	failed  atomic.Int64
	// firstErr/closeErr 仅后台 goroutine 写入，exited 关闭后读取
	firstErr error
	closeErr error
}

// NewWriter 创建写入器并启动后台 goroutine
// 参数 path: 输出文件路径（目录不存在时自动创建，文件以追加方式打开）
// 参数 bufferSize: 记录缓冲数，非正数取 1000
// 返回: 写入器，文件无法打开时返回错误
func NewWriter[T any](path string, bufferSize int, opts ...Option) (*Writer[T], error) {
	o := options{flushInterval: defaultFlushInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer[T]{
		path:    path,
		logger:  o.logger.Named("jsonl").With(zap.String("path", path)),
		records: make(chan T, bufferSize),
		flushes: make(chan chan error),
		exited:  make(chan struct{}),
	}
	go w.loop(f, o.flushInterval)
	return w, nil
}

// Path 返回输出文件路径
func (w *Writer[T]) Path() string {
	return w.path
}

// Write 投递一条记录；缓冲区满时阻塞直到后台消费
func (w *Writer[T]) Write(rec T) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	w.gate.RLock()
	defer w.gate.RUnlock()
	if w.closing {
		return ErrClosed
	}
	w.records <- rec
	return nil
}

// Flush 等待此前投递的记录全部写入文件
func (w *Writer[T]) Flush() error {
	if w == nil {
		return nil
	}
	w.gate.RLock()
	if w.closing {
		w.gate.RUnlock()
		return nil
	}
	reply := make(chan error, 1)
	w.flushes <- reply
	w.gate.RUnlock()
	return <-reply
}

// Written 返回已成功编码写入的记录数
func (w *Writer[T]) Written() int64 {
	return w.written.Load()
}

// Failed 返回编码或写入失败的记录数
func (w *Writer[T]) Failed() int64 {
	return w.failed.Load()
}

// Close 写完缓冲中的记录后关闭文件，可重复调用
// 返回: 落盘/关闭错误，以及期间记录失败的汇总
func (w *Writer[T]) Close() error {
	if w == nil {
		return nil
	}
	w.gate.Lock()
	if !w.closing {
		w.closing = true
		close(w.records)
	}
	w.gate.Unlock()

	<-w.exited
	return w.closeErr
}

func (w *Writer[T]) loop(f *os.File, flushInterval time.Duration) {
	defer close(w.exited)

	bw := bufio.NewWriterSize(f, fileBufferBytes)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	var tick <-chan time.Time
	if flushInterval > 0 {
		t := time.NewTicker(flushInterval)
		defer t.Stop()
		tick = t.C
	}

	// encode 失败时 Encoder 不会写出半行
	encode := func(rec T) {
		if err := enc.Encode(rec); err != nil {
			if w.failed.Add(1) == 1 {
				w.firstErr = err
				w.logger.Warn("记录写入失败", zap.Error(err))
			}
			return
		}
		w.written.Add(1)
	}

	finish := func() {
		err := multierr.Append(bw.Flush(), f.Close())
		if n := w.failed.Load(); n > 0 {
			err = multierr.Append(err, fmt.Errorf("%d 条记录写入失败，首个错误: %w", n, w.firstErr))
		}
		w.closeErr = err
	}

	for {
		select {
		case rec, ok := <-w.records:
			if !ok {
				finish()
				return
			}
			encode(rec)
		case reply := <-w.flushes:
			// 先写完已投递的记录，保证 Flush 之前的 Write 可见
			closed := w.drain(encode)
			reply <- bw.Flush()
			if closed {
				finish()
				return
			}
		case <-tick:
			if err := bw.Flush(); err != nil {
				w.logger.Warn("周期落盘失败", zap.Error(err))
			}
		}
	}
}

// drain 非阻塞地取尽 records 中已有的记录
// 返回: records 是否已被关闭
func (w *Writer[T]) drain(encode func(T)) bool {
	for {
		select {
		case rec, ok := <-w.records:
			if !ok {
				return true
			}
			encode(rec)
		default:
			return false
		}
	}
}
