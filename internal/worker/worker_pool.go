// ============================================================================
// deadlock-sim Worker Pool - 並發模擬執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理多個 Worker goroutine，並發執行彼此獨立的模擬
//
// 設計模式:
//   採用 Worker Pool 模式：
//   1. 固定數量的 Worker goroutine 持續運行
//   2. 通過共享的 taskCh 分發模擬工作
//   3. 通過 resultCh 收集執行結果
//
//   每個模擬擁有自己的 Scheduler 與狀態，Worker 之間不共享可變資料。
//
// 架構組件:
//   ┌─────────────┐
//   │  RunBatch   │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  └────────┘ │
//   └─────────────┘
//
// 生命週期:
//   1. NewPool() - 建立 Pool，初始化 channels
//   2. Start(ctx, n) - 啟動 n 個 Worker goroutines
//   3. Submit(job) - 提交工作到 taskCh
//   4. ReceiveResult(ctx) - 從 resultCh 讀取結果
//   5. Stop() - 關閉 taskCh，等待所有 Worker 完成
//
// 並發控制:
//   - Submit 持有讀鎖送出工作，Stop 取得寫鎖後才關閉 taskCh，
//     因此不會向已關閉的 channel 送資料
//   - Worker 一定會送出結果；resultCh 的緩衝必須足以容納未讀取的結果，
//     否則 Stop 會等待
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法提交新工作
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動，無法提交工作
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted 表示 Pool 已經啟動
	ErrPoolStarted = errors.New("worker pool already started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表 Worker 池，管理多個並發的 Worker
type Pool struct {
	run      RunFunc        // 每個工作的執行函式
	workers  []*Worker      // 所有啟動的 Worker
	taskCh   chan Job       // 工作通道
	resultCh chan Result    // 結果通道
	wg       sync.WaitGroup // 等待所有 Worker 完成
	started  bool
	stopped  bool
	mu       sync.RWMutex // 保護 started/stopped 與 taskCh 的關閉
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
// 參數：
//   - bufferSize: 工作和結果通道的緩衝大小
//   - run: 執行單一模擬的函式
func NewPool(bufferSize int, run RunFunc) *Pool {
	return &Pool{
		run:      run,
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Job, bufferSize),
		resultCh: make(chan Result, bufferSize),
	}
}

// Start 啟動指定數量的 Worker；ctx 取消時所有進行中的模擬都會停止
func (p *Pool) Start(ctx context.Context, workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}
	if workerCount < 1 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		worker := newWorker(ctx, i, p.run, p.taskCh, p.resultCh)
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(worker)
	}

	p.started = true
	return nil
}

// Submit 提交工作到 Worker Pool
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}
	p.taskCh <- job
	return nil
}

// ReceiveResult 從結果通道接收執行結果
func (p *Pool) ReceiveResult(ctx context.Context) (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop 優雅地關閉 Worker Pool
// 關閉流程：
//  1. 設定 stopped 標誌並關閉 taskCh
//  2. 等待所有 Worker 處理完已排入的工作
//  3. 關閉 resultCh
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskCh)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.resultCh)
}

// GetWorkerCount 返回當前 Worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}
