// Package main 是订单簿信号引擎的示例宿主程序。
// 读取录制的快照文件，按批送入信号门面，输出失衡、曲率与对手盘判定结果。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"book-signal-engine/internal/config"
	"book-signal-engine/internal/core/backend"
	"book-signal-engine/internal/core/curvature"
	"book-signal-engine/internal/core/fusion"
	"book-signal-engine/internal/core/imbalance"
	"book-signal-engine/internal/core/model"
	"book-signal-engine/internal/metrics"
	"book-signal-engine/internal/output/jsonl"
	"book-signal-engine/internal/replay"
	"book-signal-engine/internal/util/timeutil"
)

// batchQueue 读取与计算之间的缓冲批次数
const batchQueue = 4

type batch struct {
	seq   int
	snaps []model.Snapshot
}

type sinks struct {
	batches *jsonl.Writer[jsonl.BatchRecord]
	results *jsonl.Writer[model.ImbalanceResult]
	rejects *jsonl.Writer[jsonl.RejectRecord]
}

func main() {
	var configPath, input string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&input, "input", "", "快照文件路径（覆盖 replay.input）")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if input != "" {
		cfg.Replay.Input = input
	}
	if cfg.Replay.Input == "" {
		fmt.Fprintln(os.Stderr, "未指定快照文件: 设置 replay.input 或 -input")
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).With(zap.String("app", cfg.App.Name))
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	collector := metrics.NewCollector()
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = collector.Serve(cfg.Metrics.Addr)
		logger.Info("指标服务已启动", zap.String("addr", cfg.Metrics.Addr))
	}

	lc := backend.New(
		backend.WithAccelerator(cfg.Backend.AcceleratorOn()),
		backend.WithWorkers(cfg.Backend.Workers),
		backend.WithProbeTimeout(time.Duration(cfg.Backend.ProbeTimeoutMs)*time.Millisecond),
		backend.WithLogger(logger),
	)
	facade := fusion.New(lc, cfg.Backend.ValidateInputEnabled(), collector, logger)

	st, err := facade.InitBackend(ctx)
	if err != nil {
		logger.Error("后端初始化失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info(facade.Health(), zap.Stringer("mode", st.Mode), zap.String("device", st.Device))

	src, err := replay.Open(cfg.Replay.Input)
	if err != nil {
		logger.Error("打开快照文件失败", zap.Error(err))
		os.Exit(1)
	}
	defer src.Close()

	out, err := openSinks(cfg, logger)
	if err != nil {
		logger.Error("创建输出失败", zap.Error(err))
		os.Exit(1)
	}

	startNs := timeutil.NowNano()
	processed, runErr := run(ctx, src, cfg.Replay.BatchSize, facade, out, logger)

	if err := out.Close(); err != nil {
		logger.Warn("关闭输出失败", zap.Error(err))
	}

	for _, op := range []string{imbalance.KernelName, curvature.KernelName} {
		s := facade.LatencyStats(op)
		logger.Info("批次耗时统计",
			zap.String("op", s.Op),
			zap.Int64("count", s.Count),
			zap.Float64("p50_ms", s.P50Ms),
			zap.Float64("p90_ms", s.P90Ms),
			zap.Float64("p99_ms", s.P99Ms),
			zap.Float64("max_ms", s.MaxMs),
		)
	}
	logger.Info("回放结束",
		zap.Int("batches", processed),
		zap.Int("snapshots", src.Count()),
		zap.Duration("elapsed", timeutil.SinceNano(startNs)),
	)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("指标服务关闭失败", zap.Error(err))
		}
		shutdownCancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("回放失败", zap.Error(runErr))
		os.Exit(1)
	}
}

// run 读取与计算分两个 goroutine 流水线执行
// 返回: 已处理批次数
func run(ctx context.Context, src *replay.File, batchSize int, facade *fusion.Facade, out *sinks, logger *zap.Logger) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan batch, batchQueue)

	g.Go(func() error {
		defer close(queue)
		for seq := 0; ; seq++ {
			snaps, err := src.ReadBatch(batchSize)
			eof := errors.Is(err, io.EOF)
			if err != nil && !eof {
				return err
			}
			if len(snaps) > 0 {
				select {
				case queue <- batch{seq: seq, snaps: snaps}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if eof {
				return nil
			}
		}
	})

	processed := 0
	g.Go(func() error {
		for b := range queue {
			processBatch(b, facade, out, logger)
			processed++
		}
		return nil
	})

	err := g.Wait()
	return processed, err
}

// processBatch 计算单批信号并写出结果
// 被拒绝的批次写入 rejects，不中断回放。
func processBatch(b batch, facade *fusion.Facade, out *sinks, logger *zap.Logger) {
	now := timeutil.NowMs()

	imb, err := facade.ComputeImbalanceBatch(b.snaps)
	if err != nil {
		out.reject(b, imbalance.KernelName, err, now)
		return
	}
	curv, err := facade.AnalyzeCurvature(b.snaps)
	if err != nil {
		out.reject(b, curvature.KernelName, err, now)
		return
	}

	rec := jsonl.BatchRecord{
		Seq:                b.seq,
		WrittenAtMs:        now,
		FirstTs:            b.snaps[0].Timestamp,
		LastTs:             b.snaps[len(b.snaps)-1].Timestamp,
		Count:              len(b.snaps),
		ImbalanceBatchID:   imb.BatchID,
		CurvatureBatchID:   curv.BatchID,
		Mode:               imb.Mode.String(),
		FellBack:           imb.FellBack || curv.FellBack,
		MeanCurvature:      curv.Mean,
		Hole:               curv.Hole,
		ImbalanceLatencyMs: imb.LatencyMs,
		CurvatureLatencyMs: curv.LatencyMs,
	}

	var obiSum float64
	for _, r := range imb.Results {
		obiSum += r.OBI
		switch r.Signal {
		case model.PressureBuy:
			rec.BuyPressure++
		case model.PressureSell:
			rec.SellPressure++
		default:
			rec.Neutral++
		}
		if out.results != nil {
			_ = out.results.Write(r)
		}
	}
	rec.MeanOBI = obiSum / float64(len(imb.Results))

	// 对手盘判定基于批内最后一个快照（当前盘口）
	last := b.snaps[len(b.snaps)-1]
	rec.Verdict = string(facade.EvaluateCompetitor(last.BidVolume, last.AskVolume, spreadPercent(last)))
	if rec.Verdict != string(model.VerdictNone) {
		logger.Info("对手盘异常",
			zap.Int("seq", b.seq),
			zap.Uint64("ts", last.Timestamp),
			zap.Time("at", last.Time()),
			zap.String("verdict", rec.Verdict),
		)
	}

	if out.batches != nil {
		_ = out.batches.Write(rec)
	}
}

// spreadPercent 价差占中间价的百分比，中间价非正时为 0
func spreadPercent(s model.Snapshot) float64 {
	mid := s.MidPrice()
	if mid <= 0 {
		return 0
	}
	return s.Spread() / mid * 100
}

func openSinks(cfg *config.Config, logger *zap.Logger) (*sinks, error) {
	out := &sinks{}
	if !cfg.Output.ResultsEnabled {
		return out, nil
	}

	var err error
	if out.batches, err = openWriter[jsonl.BatchRecord](cfg, "batches.jsonl", logger); err != nil {
		return nil, err
	}
	if out.results, err = openWriter[model.ImbalanceResult](cfg, "imbalance.jsonl", logger); err != nil {
		_ = out.Close()
		return nil, err
	}
	if out.rejects, err = openWriter[jsonl.RejectRecord](cfg, "rejects.jsonl", logger); err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}

func openWriter[T any](cfg *config.Config, name string, logger *zap.Logger) (*jsonl.Writer[T], error) {
	w, err := jsonl.NewWriter[T](filepath.Join(cfg.Output.Dir, name), cfg.Output.BufferSize, jsonl.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("输出文件已打开", zap.String("path", w.Path()))
	return w, nil
}

func (s *sinks) reject(b batch, op string, err error, now int64) {
	if s.rejects == nil {
		return
	}
	_ = s.rejects.Write(jsonl.RejectRecord{
		Seq:         b.seq,
		WrittenAtMs: now,
		Count:       len(b.snaps),
		Op:          op,
		Error:       err.Error(),
	})
}

// Close 关闭所有输出（nil writer 为空操作）
func (s *sinks) Close() error {
	return multierr.Combine(s.batches.Close(), s.results.Close(), s.rejects.Close())
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
