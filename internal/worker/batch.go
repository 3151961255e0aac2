package worker

import (
	"context"
	"fmt"
	"sort"
)

// RunBatch 以 workerCount 個 Worker 執行所有工作，結果依提交順序回傳。
// 單一工作失敗記錄在 Result.Err，不會中斷其他工作；只有 ctx 取消時回傳錯誤。
func RunBatch(ctx context.Context, jobs []Job, workerCount int, run RunFunc) ([]Result, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}

	// 緩衝足以容納全部工作與結果，Submit 與 Worker 都不會阻塞
	pool := NewPool(len(jobs), run)
	if err := pool.Start(ctx, workerCount); err != nil {
		return nil, err
	}
	defer pool.Stop()

	for i := range jobs {
		job := jobs[i]
		job.Index = i
		if err := pool.Submit(job); err != nil {
			return nil, fmt.Errorf("failed to submit job %s: %w", job.ID, err)
		}
	}

	results := make([]Result, 0, len(jobs))
	for range jobs {
		res, err := pool.ReceiveResult(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}
