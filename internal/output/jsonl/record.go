package jsonl

// BatchRecord 单批次汇总记录（batches.jsonl 的一行）
type BatchRecord struct {
	// Seq 批次序号，从 0 开始
	Seq int `json:"seq"`
	// WrittenAtMs 记录生成时间（Unix 毫秒）
	WrittenAtMs int64 `json:"written_at_ms"`
	// FirstTs 批内首个快照时间戳
	FirstTs uint64 `json:"first_ts"`
	// LastTs 批内末个快照时间戳
	LastTs uint64 `json:"last_ts"`
	// Count 批内快照数
	Count int `json:"count"`

	ImbalanceBatchID string `json:"imbalance_batch_id"`
	CurvatureBatchID string `json:"curvature_batch_id"`

	// Mode 实际完成计算的模式
	Mode string `json:"mode"`
	// FellBack 任一内核从加速路径回退
	FellBack bool `json:"fell_back"`

	BuyPressure  int     `json:"buy_pressure"`
	SellPressure int     `json:"sell_pressure"`
	Neutral      int     `json:"neutral"`
	MeanOBI      float64 `json:"mean_obi"`

	MeanCurvature float64 `json:"mean_curvature"`
	Hole          bool    `json:"hole"`

	// Verdict 对手盘规则判定（基于批内最后一个快照的买卖量与价差百分比）
	Verdict string `json:"verdict"`

	ImbalanceLatencyMs float64 `json:"imbalance_latency_ms"`
	CurvatureLatencyMs float64 `json:"curvature_latency_ms"`
}

// RejectRecord 被拒绝批次记录
type RejectRecord struct {
	Seq         int    `json:"seq"`
	WrittenAtMs int64  `json:"written_at_ms"`
	Count       int    `json:"count"`
	Op          string `json:"op"`
	Error       string `json:"error"`
}
