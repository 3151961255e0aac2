package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// Job 一個模擬工作：以指定政策執行一份 trace
type Job struct {
	ID      string           // 工作識別碼，例如 "deadlock.txt/optimistic"
	Index   int              // 提交順序，由 RunBatch 指定
	Trace   *types.Trace     // 模擬輸入
	Policy  types.PolicyName // 分配政策
	Timeout time.Duration    // 執行超時時間，0 表示不限制
}

// Result 代表工作執行結果
type Result struct {
	JobID    string           // 工作 ID
	Index    int              // 對應 Job.Index
	Run      *types.RunResult // 模擬結果（失敗時為 nil）
	Err      error            // 錯誤訊息（如果有）
	Duration time.Duration    // 實際執行時間
}

// RunFunc 執行單一模擬；ctx 已帶有該工作的超時
type RunFunc func(ctx context.Context, job Job) (*types.RunResult, error)
