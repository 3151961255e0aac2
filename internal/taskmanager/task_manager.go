// ============================================================================
// deadlock-sim 任務管理器 - 任務狀態與佇列
// ============================================================================
//
// Package: internal/taskmanager
// 文件: task_manager.go
// 功能: 管理任務 arena 以及 running / blocked 兩個 FIFO 佇列
//
// 設計理念:
//   1. tasks []*Task - 以穩定整數 handle（任務索引）定址的 arena，作為單一真實來源
//   2. running / blocked - 只存放任務索引的 FIFO 佇列
//   3. Task.Status 與佇列位置同步；只有 scheduler 與 policy 會修改
//
// 任務狀態轉換:
//   Running ──request 失敗──> Blocked ──重試成功──> Running
//   Running ──compute──> Computing ──倒數結束──> Running
//   任何非終態 ──terminate──> Terminated
//   任何非終態 ──abort──> Aborted
//
// 並發模型:
//   一次模擬為單執行緒，Manager 不加鎖。
//
// ============================================================================

package taskmanager

import (
	"errors"

	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrTaskNotFound 任務索引不存在
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskFinal 任務已在終態
	ErrTaskFinal = errors.New("task already terminated or aborted")
)

// ============================================================================
// Task
// ============================================================================

// Task 單一任務的可變狀態
type Task struct {
	ID         int              // 任務索引（0-based）
	Claim      []int            // 每種資源宣告的最大需求
	Holding    []int            // 每種資源目前持有量
	Activities []types.Activity // 載入後不可變
	Cursor     int              // 目前活動位置

	ComputeRemaining int // compute 剩餘週期
	WaitingTime      int
	TotalTime        int
	Status           types.TaskStatus
}

func newTask(id, numResources int, activities []types.Activity) *Task {
	return &Task{
		ID:         id,
		Claim:      make([]int, numResources),
		Holding:    make([]int, numResources),
		Activities: activities,
		Status:     types.StatusRunning,
	}
}

// Current 目前待執行的活動
func (t *Task) Current() types.Activity {
	return t.Activities[t.Cursor]
}

// Advance 游標前進一步
func (t *Task) Advance() {
	if t.Cursor < len(t.Activities)-1 {
		t.Cursor++
	}
}

// NextIsTerminate 目前活動是否為 terminate
func (t *Task) NextIsTerminate() bool {
	return t.Cursor >= len(t.Activities) || t.Activities[t.Cursor].Kind == types.KindTerminate
}

// Need 資源 r 尚未滿足的需求（claim - holding）
func (t *Task) Need(r int) int {
	return t.Claim[r] - t.Holding[r]
}

// Live 任務是否仍在執行（非終態）
func (t *Task) Live() bool {
	return !t.Status.Final()
}

// ============================================================================
// Manager
// ============================================================================

// Manager 任務管理器
type Manager struct {
	tasks   []*Task
	running []int // 可執行佇列
	blocked []int // 阻塞佇列
}

// NewManager 依 trace 建立所有任務，claim/holding 皆為 0，並依索引排入 running
func NewManager(trace *types.Trace) *Manager {
	m := &Manager{
		tasks:   make([]*Task, 0, trace.NumTasks()),
		running: make([]int, 0, trace.NumTasks()),
		blocked: make([]int, 0),
	}
	for i, acts := range trace.Activities {
		m.tasks = append(m.tasks, newTask(i, trace.NumResources(), acts))
		m.running = append(m.running, i)
	}
	return m
}

// Len 任務總數
func (m *Manager) Len() int { return len(m.tasks) }

// Task 依索引取得任務；不存在時回傳 nil
func (m *Manager) Task(id int) *Task {
	if id < 0 || id >= len(m.tasks) {
		return nil
	}
	return m.tasks[id]
}

// Tasks 依索引排序的所有任務
func (m *Manager) Tasks() []*Task { return m.tasks }

// Live 所有非終態任務，依索引遞增
func (m *Manager) Live() []*Task {
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Live() {
			out = append(out, t)
		}
	}
	return out
}

// EnqueueRunning 將任務排入 running 佇列尾端
func (m *Manager) EnqueueRunning(t *Task) {
	if t.Status != types.StatusComputing {
		t.Status = types.StatusRunning
	}
	m.running = append(m.running, t.ID)
}

// EnqueueBlocked 將任務排入 blocked 佇列尾端
func (m *Manager) EnqueueBlocked(t *Task) {
	t.Status = types.StatusBlocked
	m.blocked = append(m.blocked, t.ID)
}

// PopRunning 取出 running 佇列第一個任務；佇列空時回傳 nil
func (m *Manager) PopRunning() *Task {
	if len(m.running) == 0 {
		return nil
	}
	id := m.running[0]
	m.running = m.running[1:]
	return m.tasks[id]
}

// PopBlocked 取出 blocked 佇列第一個任務；佇列空時回傳 nil
func (m *Manager) PopBlocked() *Task {
	if len(m.blocked) == 0 {
		return nil
	}
	id := m.blocked[0]
	m.blocked = m.blocked[1:]
	return m.tasks[id]
}

// RunningLen running 佇列長度
func (m *Manager) RunningLen() int { return len(m.running) }

// BlockedLen blocked 佇列長度
func (m *Manager) BlockedLen() int { return len(m.blocked) }

// Idle 兩個佇列皆為空
func (m *Manager) Idle() bool {
	return len(m.running) == 0 && len(m.blocked) == 0
}

// LowestBlocked 目前 blocked 佇列中索引最小的任務
func (m *Manager) LowestBlocked() (*Task, bool) {
	if len(m.blocked) == 0 {
		return nil, false
	}
	lowest := m.blocked[0]
	for _, id := range m.blocked[1:] {
		if id < lowest {
			lowest = id
		}
	}
	return m.tasks[lowest], true
}

// RemoveBlocked 從 blocked 佇列移除指定任務
func (m *Manager) RemoveBlocked(id int) error {
	for i, b := range m.blocked {
		if b == id {
			m.blocked = append(m.blocked[:i], m.blocked[i+1:]...)
			return nil
		}
	}
	return ErrTaskNotFound
}

// Held 每種資源在所有任務上的持有總量
func (m *Manager) Held(numResources int) []int {
	held := make([]int, numResources)
	for _, t := range m.tasks {
		for r, h := range t.Holding {
			held[r] += h
		}
	}
	return held
}

// Stats 取得各狀態任務的統計資訊
func (m *Manager) Stats() map[string]int {
	stats := map[string]int{
		"running":    0,
		"blocked":    0,
		"computing":  0,
		"terminated": 0,
		"aborted":    0,
	}
	for _, t := range m.tasks {
		stats[string(t.Status)]++
	}
	return stats
}

// Outcomes 依索引輸出每個任務的結果
func (m *Manager) Outcomes() []types.TaskOutcome {
	out := make([]types.TaskOutcome, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, types.TaskOutcome{
			Task:        t.ID,
			Aborted:     t.Status == types.StatusAborted,
			TotalTime:   t.TotalTime,
			WaitingTime: t.WaitingTime,
		})
	}
	return out
}
