// ============================================================================
// deadlock-sim 排程器 - 週期驅動的模擬核心
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 以離散週期驅動所有任務，將每個活動交給目前的分配政策處理
//
// 每個週期:
//   1. 先記下 blocked / running 佇列長度；本週期新加入者留到下一週期
//   2. 依佇列順序重試每個先前被阻塞的任務（waitingTime++）
//   3. 依佇列順序處理每個先前可執行的任務：
//      - computing: 倒數，歸零後前進
//      - initiate: 政策檢查 claim 後記錄
//      - request: 交給政策（Granted / Blocked / Aborted）
//      - release: holding → pendingRelease
//      - compute: 佔用 n 個週期（發出的週期算第 1 個）
//   4. policy.Resolve（樂觀政策在此偵測並解除死結）
//   5. pendingRelease 併入 available，週期 +1
//
// 結束條件:
//   兩個佇列皆空。每個週期至少有一個任務前進、被中止，或
//   （樂觀政策）blocked 集合因中止而縮小。
//
// 並發模型:
//   單次模擬為單執行緒且可重現；同一個 Scheduler 可重複 Run，
//   每次 Run 都從 trace 重建全新的狀態。
//
// ============================================================================

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/deadlock-sim/internal/banker"
	"github.com/ChuLiYu/deadlock-sim/internal/policy"
	"github.com/ChuLiYu/deadlock-sim/internal/resource"
	"github.com/ChuLiYu/deadlock-sim/internal/taskmanager"
	"github.com/ChuLiYu/deadlock-sim/internal/tracing"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
	"github.com/google/uuid"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrCycleLimit 超過設定的最大週期數
	ErrCycleLimit = errors.New("cycle limit exceeded")
	// ErrInvariant 會計不變量被破壞
	ErrInvariant = errors.New("resource accounting invariant violated")
	// ErrEmptyTrace trace 沒有任何任務
	ErrEmptyTrace = errors.New("trace has no tasks")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Scheduler 配置
type Config struct {
	MaxCycles       int  // 0 表示不限制
	CheckInvariants bool // 每個週期結束時驗證資源會計
}

// Recorder 接收分配決策統計（metrics.Collector 實作）
type Recorder interface {
	RecordGrant(policy string)
	RecordBlock(policy string)
	RecordAbort(policy, reason string)
	RecordDeadlock(policy string)
	RecordCycle(policy string, running, blocked int)
	RecordRun(policy string)
}

// Sink 接收模擬事件（journal.Journal 實作）
type Sink interface {
	Append(runID string, ev types.SimEvent) error
}

// Option 設定 Scheduler 的可選元件
type Option func(*Scheduler)

// WithConfig 設定 Config
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.config = cfg }
}

// WithRecorder 設定 metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithSink 設定事件 sink
func WithSink(sink Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithLogger 設定 logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler 以單一分配政策驅動模擬
type Scheduler struct {
	policy   policy.Policy
	config   Config
	recorder Recorder
	sink     Sink
	logger   *slog.Logger
}

// New 建立新的 Scheduler
func New(p policy.Policy, opts ...Option) *Scheduler {
	s := &Scheduler{policy: p}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler", "policy", string(p.Name()))
	return s
}

// Policy 目前使用的分配政策
func (s *Scheduler) Policy() policy.Policy { return s.policy }

// Run 執行整份 trace 直到所有任務結束或被中止
func (s *Scheduler) Run(ctx context.Context, trace *types.Trace) (res *types.RunResult, err error) {
	if trace.NumTasks() == 0 {
		return nil, ErrEmptyTrace
	}

	ctx, span := tracing.StartSpan(ctx, "simulate")
	defer func() { tracing.EndSpan(span, err) }()

	r := s.newRun(trace)
	r.span = span
	span.WithAttributes(map[string]string{
		"run_id": r.id,
		"policy": string(s.policy.Name()),
		"trace":  trace.Name,
	})
	r.logger.Debug("Simulation started", "tasks", trace.NumTasks(), "resources", trace.NumResources())

	for !r.state.Tasks.Idle() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.config.MaxCycles > 0 && r.cycle >= s.config.MaxCycles {
			return nil, fmt.Errorf("%w: %d", ErrCycleLimit, s.config.MaxCycles)
		}

		r.step()

		if r.sinkErr != nil {
			return nil, fmt.Errorf("failed to record event: %w", r.sinkErr)
		}
		if s.config.CheckInvariants {
			if err := r.audit(); err != nil {
				return nil, fmt.Errorf("%w at cycle %d: %v", ErrInvariant, r.cycle, err)
			}
		}
	}

	res = &types.RunResult{
		RunID:    r.id,
		Trace:    trace.Name,
		Policy:   s.policy.Name(),
		Cycles:   r.cycle,
		Tasks:    r.state.Tasks.Outcomes(),
		Aborts:   r.aborts,
		Deadlock: r.deadlocks,
	}

	span.SetInt("cycles", r.cycle).SetInt("aborts", len(r.aborts))
	if s.recorder != nil {
		s.recorder.RecordRun(string(s.policy.Name()))
	}
	total, waiting := res.Totals()
	r.logger.Info("Simulation finished",
		"cycles", r.cycle,
		"aborted", len(r.aborts),
		"total_time", total,
		"waiting_time", waiting)

	return res, nil
}

// ============================================================================
// 單次模擬狀態
// ============================================================================

type run struct {
	*Scheduler
	id        string
	state     *policy.State
	cycle     int
	aborts    []types.AbortRecord
	deadlocks int
	sinkErr   error
	logger    *slog.Logger
	span      *tracing.Span
}

func (s *Scheduler) newRun(trace *types.Trace) *run {
	id := uuid.NewString()
	return &run{
		Scheduler: s,
		id:        id,
		state: &policy.State{
			Tasks: taskmanager.NewManager(trace),
			Pool:  resource.NewPool(trace.Supply),
		},
		logger: s.logger.With("run_id", id),
	}
}

func (r *run) policyName() string { return string(r.policy.Name()) }

// step 執行一個完整週期
func (r *run) step() {
	tasks := r.state.Tasks
	numBlocked := tasks.BlockedLen()
	numRunning := tasks.RunningLen()

	// 先服務上一週期被阻塞的任務
	for i := 0; i < numBlocked; i++ {
		t := tasks.PopBlocked()
		t.WaitingTime++
		r.request(t)
	}

	for i := 0; i < numRunning; i++ {
		r.dispatch(tasks.PopRunning())
	}

	if n := r.policy.Resolve(r.state, r.abort); n > 0 {
		r.deadlocks++
		r.logger.Warn("Deadlock detected and broken", "cycle", r.cycle, "aborted", n)
		r.emit(types.EventDeadlock, -1, -1, n, "")
		r.span.AddEvent("deadlock", map[string]int{"cycle": r.cycle, "aborted": n})
		if r.recorder != nil {
			r.recorder.RecordDeadlock(r.policyName())
		}
	}

	r.state.Pool.Fold()
	if r.recorder != nil {
		r.recorder.RecordCycle(r.policyName(), tasks.RunningLen(), tasks.BlockedLen())
	}
	r.emit(types.EventCycle, -1, -1, 0, "")
	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		r.logger.Debug("Cycle complete", "cycle", r.cycle, "tasks", tasks.Stats())
	}
	r.cycle++
}

// dispatch 依活動種類處理一個可執行任務
func (r *run) dispatch(t *taskmanager.Task) {
	if t.Status == types.StatusComputing {
		t.ComputeRemaining--
		if t.ComputeRemaining <= 0 {
			t.Status = types.StatusRunning
			r.continueOrTerminate(t)
		} else {
			r.state.Tasks.EnqueueRunning(t)
		}
		return
	}

	act := t.Current()
	switch act.Kind {
	case types.KindInitiate:
		if err := r.policy.Initiate(r.state, t, act.Resource, act.Amount); err != nil {
			r.abort(t, err)
			return
		}
		t.Claim[act.Resource] = act.Amount
		r.emit(types.EventInitiate, t.ID, act.Resource, act.Amount, "")
		t.Advance()
		r.continueOrTerminate(t)

	case types.KindRequest:
		r.request(t)

	case types.KindRelease:
		amount := act.Amount
		if held := t.Holding[act.Resource]; amount > held {
			r.logger.Warn("Release exceeds holding, clamping",
				"task", t.ID+1, "resource", act.Resource+1, "release", amount, "holding", held)
			amount = held
		}
		t.Holding[act.Resource] -= amount
		r.state.Pool.Release(act.Resource, amount)
		r.emit(types.EventRelease, t.ID, act.Resource, amount, "")
		t.Advance()
		r.continueOrTerminate(t)

	case types.KindCompute:
		cycles := act.Amount
		if cycles < 1 {
			cycles = 1
		}
		r.emit(types.EventCompute, t.ID, -1, cycles, "")
		t.Advance()
		if cycles > 1 {
			t.Status = types.StatusComputing
			t.ComputeRemaining = cycles - 1
			r.state.Tasks.EnqueueRunning(t)
		} else {
			r.continueOrTerminate(t)
		}

	case types.KindTerminate:
		r.terminate(t, types.StatusTerminated)
	}
}

// request 將目前的 request 活動交給政策
func (r *run) request(t *taskmanager.Task) {
	act := t.Current()
	wasBlocked := t.Status == types.StatusBlocked
	d := r.policy.Allocate(r.state, t, act.Resource, act.Amount)

	switch d.Verdict {
	case policy.Granted:
		r.emit(types.EventGrant, t.ID, act.Resource, act.Amount, "")
		if r.recorder != nil {
			r.recorder.RecordGrant(r.policyName())
		}
		t.Advance()
		r.continueOrTerminate(t)

	case policy.Blocked:
		r.state.Tasks.EnqueueBlocked(t)
		if wasBlocked {
			return
		}
		r.emit(types.EventBlock, t.ID, act.Resource, act.Amount, "")
		if r.recorder != nil {
			r.recorder.RecordBlock(r.policyName())
		}

	case policy.Aborted:
		r.abort(t, d.Reason)
	}
}

func (r *run) continueOrTerminate(t *taskmanager.Task) {
	if t.NextIsTerminate() {
		r.terminate(t, types.StatusTerminated)
		return
	}
	r.state.Tasks.EnqueueRunning(t)
}

// abort 中止任務並回收其持有資源；也作為 policy.AbortFunc 傳給 Resolve
func (r *run) abort(t *taskmanager.Task, reason error) {
	released := 0
	for _, h := range t.Holding {
		released += h
	}

	rec := types.AbortRecord{
		Cycle:   r.cycle,
		Task:    t.ID,
		Reason:  ReasonKey(reason),
		Message: reason.Error(),
	}
	r.aborts = append(r.aborts, rec)

	r.logger.Info("Task aborted",
		"cycle", r.cycle,
		"task", t.ID+1,
		"reason", rec.Reason,
		"released", released)
	r.emit(types.EventAbort, t.ID, -1, released, rec.Reason)
	if r.recorder != nil {
		r.recorder.RecordAbort(r.policyName(), rec.Reason)
	}

	r.terminate(t, types.StatusAborted)
}

// terminate 回收所有持有資源到 pendingRelease，標記終態
func (r *run) terminate(t *taskmanager.Task, status types.TaskStatus) {
	for res, h := range t.Holding {
		if h > 0 {
			r.state.Pool.Release(res, h)
			t.Holding[res] = 0
		}
	}
	t.TotalTime = r.cycle + 1
	t.Status = status
	if status == types.StatusTerminated {
		r.emit(types.EventTerminate, t.ID, -1, 0, "")
	}
}

func (r *run) emit(kind types.EventType, task, res, amount int, detail string) {
	if r.sink == nil || r.sinkErr != nil {
		return
	}
	r.sinkErr = r.sink.Append(r.id, types.SimEvent{
		Cycle:    r.cycle,
		Type:     kind,
		Task:     task,
		Resource: res,
		Amount:   amount,
		Detail:   detail,
	})
}

// audit 驗證週期邊界的會計不變量；保守政策另外驗證 holding ≤ claim
func (r *run) audit() error {
	pool := r.state.Pool
	if err := pool.Audit(r.state.Tasks.Held(pool.Len())); err != nil {
		return err
	}
	if r.policy.Name() != types.PolicyConservative {
		return nil
	}
	for _, t := range r.state.Tasks.Live() {
		for res := range t.Holding {
			if t.Holding[res] > t.Claim[res] {
				return fmt.Errorf("task %d holds %d of resource %d, claim %d",
					t.ID+1, t.Holding[res], res+1, t.Claim[res])
			}
		}
	}
	// initiate 在持有資源之後出現時，宣告本身就可能讓狀態不安全
	if banker.NewChecker(r.state.Tasks, pool).Order() == nil {
		r.logger.Warn("Conservative state is unsafe", "cycle", r.cycle)
	}
	return nil
}

// ReasonKey 將中止原因轉為穩定的標籤
func ReasonKey(err error) string {
	switch {
	case errors.Is(err, policy.ErrClaimExceedsCapacity):
		return "claim_exceeds_capacity"
	case errors.Is(err, policy.ErrRequestExceedsClaim):
		return "request_exceeds_claim"
	case errors.Is(err, policy.ErrDeadlockVictim):
		return "deadlock_victim"
	default:
		return "unknown"
	}
}
