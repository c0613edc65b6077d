// Package fusion 是信号引擎对宿主暴露的唯一入口。
// 只负责组合后端、分类器与分析器，并附带耗时元数据；不保留任何快照历史。
package fusion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"book-signal-engine/internal/core/backend"
	"book-signal-engine/internal/core/competitor"
	"book-signal-engine/internal/core/curvature"
	"book-signal-engine/internal/core/imbalance"
	"book-signal-engine/internal/core/model"
	"book-signal-engine/internal/metrics"
	"book-signal-engine/internal/stats/latency"
	"book-signal-engine/internal/util/timeutil"
)

// latencyWindow 耗时统计滚动窗口大小
const latencyWindow = 10000

// ImbalanceBatch 批量失衡计算结果
type ImbalanceBatch struct {
	// BatchID 批次标识（日志关联用）
	BatchID string `json:"batch_id"`
	// Results 逐快照结果，顺序与输入一致
	Results []model.ImbalanceResult `json:"results"`
	// LatencyMs 本批墙钟耗时（毫秒）
	LatencyMs float64 `json:"latency_ms"`
	// Mode 实际完成计算的模式
	Mode model.BackendMode `json:"mode"`
	// FellBack 是否从加速路径回退
	FellBack bool `json:"fell_back"`
}

// CurvatureBatch 批量曲率分析结果
type CurvatureBatch struct {
	// BatchID 批次标识
	BatchID string `json:"batch_id"`
	// Curvatures 逐快照曲率，顺序与输入一致
	Curvatures []float64 `json:"curvatures"`
	// Mean 平均曲率（空批次为 0）
	Mean float64 `json:"mean"`
	// Hole 是否检测到流动性空洞
	Hole bool `json:"hole"`
	// LatencyMs 本批墙钟耗时（毫秒）
	LatencyMs float64 `json:"latency_ms"`
	// Mode 实际完成计算的模式
	Mode model.BackendMode `json:"mode"`
	// FellBack 是否从加速路径回退
	FellBack bool `json:"fell_back"`
}

// Facade 信号融合门面
// 并发调用安全：共享状态只有后端状态、耗时窗口与指标。
type Facade struct {
	lc         *backend.Lifecycle
	classifier *imbalance.Classifier
	analyzer   *curvature.Analyzer
	tracker    *latency.Tracker
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// New 创建门面
// 参数 lc: 计算后端（由宿主创建并共享）
// 参数 validate: 是否拒绝负值/非有限数输入
// 参数 collector: 指标收集器，可为 nil
// 参数 logger: 日志记录器，可为 nil
func New(lc *backend.Lifecycle, validate bool, collector *metrics.Collector, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		lc:         lc,
		classifier: imbalance.NewClassifier(lc, validate),
		analyzer:   curvature.NewAnalyzer(lc, validate),
		tracker:    latency.NewTracker(latencyWindow),
		metrics:    collector,
		logger:     logger.Named("fusion"),
	}
}

// InitBackend 初始化计算后端（幂等）
func (f *Facade) InitBackend(ctx context.Context) (backend.Status, error) {
	st, err := f.lc.Initialize(ctx)
	if err != nil {
		f.logger.Error("后端初始化失败", zap.Error(err))
		return st, err
	}
	f.metrics.SetMode(st.Mode)
	return st, nil
}

// BackendStatus 返回当前后端模式
func (f *Facade) BackendStatus() model.BackendMode {
	return f.lc.Mode()
}

// Health 返回后端就绪描述
func (f *Facade) Health() string {
	return f.lc.Health()
}

// ComputeImbalanceBatch 批量计算失衡结果并测量耗时
// 未初始化或输入非法时返回空结果与对应错误。
func (f *Facade) ComputeImbalanceBatch(snapshots []model.Snapshot) (*ImbalanceBatch, error) {
	batchID := uuid.NewString()
	startNs := timeutil.NowNano()

	results, outcome, err := f.classifier.ComputeBatch(snapshots)
	endNs := timeutil.NowNano()

	out := &ImbalanceBatch{
		BatchID:   batchID,
		Results:   results,
		LatencyMs: timeutil.DurationMs(startNs, endNs),
		Mode:      outcome.Mode,
		FellBack:  outcome.FellBack,
	}
	if err != nil {
		f.reject(imbalance.KernelName, batchID, len(snapshots), err)
		return out, err
	}

	f.observe(imbalance.KernelName, outcome, len(snapshots), time.Duration(endNs-startNs))
	f.logger.Debug("失衡批次完成",
		zap.String("batch_id", batchID),
		zap.Int("batch", len(snapshots)),
		zap.Float64("latency_ms", out.LatencyMs),
		zap.Stringer("mode", outcome.Mode),
	)
	return out, nil
}

// ClassifyImbalance 单值分类（同步、不依赖后端）
func (f *Facade) ClassifyImbalance(obi float64) model.Pressure {
	return imbalance.Classify(obi)
}

// ComputeCurvature 批量计算曲率
func (f *Facade) ComputeCurvature(snapshots []model.Snapshot) ([]float64, error) {
	b, err := f.AnalyzeCurvature(snapshots)
	return b.Curvatures, err
}

// DetectHole 检测整批是否存在流动性空洞
func (f *Facade) DetectHole(snapshots []model.Snapshot) (bool, error) {
	b, err := f.AnalyzeCurvature(snapshots)
	if err != nil {
		return false, err
	}
	return b.Hole, nil
}

// MeanCurvature 计算整批平均曲率（空批次为 0）
func (f *Facade) MeanCurvature(snapshots []model.Snapshot) (float64, error) {
	b, err := f.AnalyzeCurvature(snapshots)
	if err != nil {
		return 0, err
	}
	return b.Mean, nil
}

// AnalyzeCurvature 一次计算得到逐快照曲率、均值与空洞判定
func (f *Facade) AnalyzeCurvature(snapshots []model.Snapshot) (*CurvatureBatch, error) {
	batchID := uuid.NewString()
	startNs := timeutil.NowNano()

	curvatures, outcome, err := f.analyzer.ComputeBatch(snapshots)
	endNs := timeutil.NowNano()

	out := &CurvatureBatch{
		BatchID:    batchID,
		Curvatures: curvatures,
		LatencyMs:  timeutil.DurationMs(startNs, endNs),
		Mode:       outcome.Mode,
		FellBack:   outcome.FellBack,
	}
	if err != nil {
		f.reject(curvature.KernelName, batchID, len(snapshots), err)
		return out, err
	}

	out.Mean = curvature.Mean(curvatures)
	out.Hole = curvature.HoleIn(curvatures)
	f.observe(curvature.KernelName, outcome, len(snapshots), time.Duration(endNs-startNs))
	if out.Hole {
		f.logger.Info("检测到流动性空洞",
			zap.String("batch_id", batchID),
			zap.Float64("mean_curvature", out.Mean),
		)
	}
	return out, nil
}

// EvaluateCompetitor 对手盘规则判定
func (f *Facade) EvaluateCompetitor(bidVolume, askVolume, spreadPercent float64) model.Verdict {
	return competitor.Evaluate(bidVolume, askVolume, spreadPercent)
}

// LatencyStats 返回指定操作的耗时统计（"obi" 或 "curvature"）
func (f *Facade) LatencyStats(op string) latency.LatencyStats {
	return f.tracker.Stats(op)
}

func (f *Facade) observe(op string, outcome backend.Outcome, n int, d time.Duration) {
	f.tracker.Add(op, d)
	f.metrics.ObserveBatch(op, outcome.Mode, outcome.FellBack, n, d)
}

func (f *Facade) reject(op, batchID string, n int, err error) {
	reason := "error"
	switch {
	case errors.Is(err, backend.ErrNotInitialized):
		reason = "not_initialized"
	case errors.Is(err, model.ErrInvalidInput):
		reason = "invalid_input"
	}
	f.metrics.ObserveRejected(op, reason)
	f.logger.Warn("批次被拒绝",
		zap.String("op", op),
		zap.String("batch_id", batchID),
		zap.Int("batch", n),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
