// Package types 定義了 deadlock-sim 系統中使用的核心領域模型
package types

import (
	"strings"
)

// ActivityKind 活動種類
type ActivityKind string

// 定義活動種類常數
const (
	KindInitiate  ActivityKind = "initiate"  // 宣告某資源類型的最大需求（claim）
	KindRequest   ActivityKind = "request"   // 申請資源
	KindRelease   ActivityKind = "release"   // 釋放資源
	KindCompute   ActivityKind = "compute"   // 佔用若干週期進行計算
	KindTerminate ActivityKind = "terminate" // 任務結束
)

// ParseActivityKind 不分大小寫解析活動種類
func ParseActivityKind(s string) (ActivityKind, bool) {
	switch k := ActivityKind(strings.ToLower(s)); k {
	case KindInitiate, KindRequest, KindRelease, KindCompute, KindTerminate:
		return k, true
	}
	return "", false
}

// Activity 任務程式中的一個步驟，載入後不可變
type Activity struct {
	Kind     ActivityKind `json:"kind"`
	Task     int          `json:"task"`     // 任務索引（0-based）
	Resource int          `json:"resource"` // 資源類型索引（0-based），compute/terminate 不使用
	Amount   int          `json:"amount"`   // 單位數量；compute 時為週期數
}

// TaskStatus 任務生命週期狀態
type TaskStatus string

// 定義任務狀態常數
const (
	StatusRunning    TaskStatus = "running"    // 可在本週期執行下一個活動
	StatusBlocked    TaskStatus = "blocked"    // 等待資源
	StatusComputing  TaskStatus = "computing"  // 正在進行多週期計算
	StatusTerminated TaskStatus = "terminated" // 正常結束（終態）
	StatusAborted    TaskStatus = "aborted"    // 被政策中止（終態）
)

// Final 是否為終態
func (s TaskStatus) Final() bool {
	return s == StatusTerminated || s == StatusAborted
}

// Trace 由 loader 產生的完整模擬輸入
type Trace struct {
	Name       string       `json:"name,omitempty"` // 來源檔名（僅供報表使用）
	Supply     []int        `json:"supply"`         // 每種資源的初始單位數
	Activities [][]Activity `json:"activities"`     // 依任務索引分組的活動序列
}

// NumTasks 任務數量
func (t *Trace) NumTasks() int { return len(t.Activities) }

// NumResources 資源類型數量
func (t *Trace) NumResources() int { return len(t.Supply) }

// PolicyName 分配政策名稱
type PolicyName string

const (
	PolicyOptimistic   PolicyName = "optimistic"
	PolicyConservative PolicyName = "conservative"
)

// AbortRecord 記錄一次任務中止
type AbortRecord struct {
	Cycle   int    `json:"cycle"`
	Task    int    `json:"task"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// TaskOutcome 單一任務的結果
type TaskOutcome struct {
	Task        int  `json:"task"`
	Aborted     bool `json:"aborted"`
	TotalTime   int  `json:"total_time"`
	WaitingTime int  `json:"waiting_time"`
}

// RunResult 一次模擬的完整結果
type RunResult struct {
	RunID    string        `json:"run_id"`
	Trace    string        `json:"trace,omitempty"`
	Policy   PolicyName    `json:"policy"`
	Cycles   int           `json:"cycles"`
	Tasks    []TaskOutcome `json:"tasks"`
	Aborts   []AbortRecord `json:"aborts,omitempty"`
	Deadlock int           `json:"deadlock_recoveries"`
}

// Totals 非中止任務的 totalTime/waitingTime 加總
func (r *RunResult) Totals() (total, waiting int) {
	for _, t := range r.Tasks {
		if t.Aborted {
			continue
		}
		total += t.TotalTime
		waiting += t.WaitingTime
	}
	return total, waiting
}

// SnapshotData 快照資料，用於輸出一次執行的所有結果
type SnapshotData struct {
	Runs      []RunResult `json:"runs"`
	SchemaVer int         `json:"schema_ver"`
}

// EventType 模擬事件類型
type EventType string

const (
	EventInitiate  EventType = "INITIATE"  // 宣告 claim
	EventGrant     EventType = "GRANT"     // 申請被核准
	EventBlock     EventType = "BLOCK"     // 申請被阻塞
	EventRelease   EventType = "RELEASE"   // 釋放資源
	EventCompute   EventType = "COMPUTE"   // 開始計算
	EventTerminate EventType = "TERMINATE" // 任務正常結束
	EventAbort     EventType = "ABORT"     // 任務被中止
	EventDeadlock  EventType = "DEADLOCK"  // 偵測到死結並完成恢復
	EventCycle     EventType = "CYCLE"     // 週期結束
)

// SimEvent 模擬過程中的單一事件；Task/Resource 為 0-based，不適用時為 -1
type SimEvent struct {
	Cycle    int       `json:"cycle"`
	Type     EventType `json:"type"`
	Task     int       `json:"task"`
	Resource int       `json:"resource"`
	Amount   int       `json:"amount"`
	Detail   string    `json:"detail,omitempty"`
}
