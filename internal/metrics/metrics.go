// ============================================================================
// deadlock-sim Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集模擬過程的分配決策統計，並以 Prometheus 文字格式輸出
//
// 指標分類（皆帶 policy 標籤）:
//
//   1. 計數器 (Counter):
//      - sim_grants_total: 核准的申請次數
//      - sim_blocks_total: 被阻塞的申請次數
//      - sim_aborts_total{reason}: 中止的任務數
//      - sim_deadlock_recoveries_total: 死結恢復次數
//      - sim_cycles_total: 執行的週期數
//      - sim_runs_total: 完成的模擬次數
//
//   2. 狀態指標 (Gauge):
//      - sim_tasks_running / sim_tasks_blocked: 週期結束時的佇列長度
//
// 輸出方式:
//   模擬是批次工作，不常駐；以 WriteTextfile 寫出 textfile，
//   交給 node_exporter 的 textfile collector 收集。
//
// ============================================================================

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector Prometheus 指標收集器
type Collector struct {
	grants    *prometheus.CounterVec
	blocks    *prometheus.CounterVec
	aborts    *prometheus.CounterVec
	deadlocks *prometheus.CounterVec
	cycles    *prometheus.CounterVec
	runs      *prometheus.CounterVec
	running   *prometheus.GaugeVec
	blocked   *prometheus.GaugeVec
}

// NewCollector 創建新的指標收集器並註冊到 prometheus.DefaultRegisterer
func NewCollector() *Collector {
	return NewCollectorFor(prometheus.DefaultRegisterer)
}

// NewCollectorFor 創建新的指標收集器並註冊到 reg
func NewCollectorFor(reg prometheus.Registerer) *Collector {
	policy := []string{"policy"}
	c := &Collector{
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_grants_total",
			Help: "Total number of granted resource requests",
		}, policy),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_blocks_total",
			Help: "Total number of resource requests that blocked",
		}, policy),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_aborts_total",
			Help: "Total number of aborted tasks by reason",
		}, []string{"policy", "reason"}),
		deadlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_deadlock_recoveries_total",
			Help: "Total number of cycles in which deadlock was detected and broken",
		}, policy),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_cycles_total",
			Help: "Total number of simulated cycles",
		}, policy),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_runs_total",
			Help: "Total number of completed simulation runs",
		}, policy),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sim_tasks_running",
			Help: "Running queue length at the last cycle boundary",
		}, policy),
		blocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sim_tasks_blocked",
			Help: "Blocked queue length at the last cycle boundary",
		}, policy),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.grants,
		c.blocks,
		c.aborts,
		c.deadlocks,
		c.cycles,
		c.runs,
		c.running,
		c.blocked,
	)

	return c
}

// RecordGrant 記錄一次核准
func (c *Collector) RecordGrant(policy string) {
	c.grants.WithLabelValues(policy).Inc()
}

// RecordBlock 記錄一次阻塞
func (c *Collector) RecordBlock(policy string) {
	c.blocks.WithLabelValues(policy).Inc()
}

// RecordAbort 記錄一次中止
func (c *Collector) RecordAbort(policy, reason string) {
	c.aborts.WithLabelValues(policy, reason).Inc()
}

// RecordDeadlock 記錄一次死結恢復
func (c *Collector) RecordDeadlock(policy string) {
	c.deadlocks.WithLabelValues(policy).Inc()
}

// RecordCycle 記錄週期結束與佇列長度
func (c *Collector) RecordCycle(policy string, running, blocked int) {
	c.cycles.WithLabelValues(policy).Inc()
	c.running.WithLabelValues(policy).Set(float64(running))
	c.blocked.WithLabelValues(policy).Set(float64(blocked))
}

// RecordRun 記錄一次完整模擬
func (c *Collector) RecordRun(policy string) {
	c.runs.WithLabelValues(policy).Inc()
}

// WriteTextfile 將 g 收集到的所有指標以文字格式寫入 path
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
