// ============================================================================
// deadlock-sim 資源池
// ============================================================================
//
// Package: internal/resource
// 文件: pool.go
// 功能: 追蹤每種資源類型的可用量與本週期釋放量
//
// 週期語意:
//   釋放（release 或任務結束）只會進入 pendingRelease，
//   直到 Fold() 在週期結尾把它們併入 available，下一週期才可使用。
//
// 不變量:
//   available + pendingRelease + Σ holding == supply
//
// ============================================================================

package resource

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficient 可用量不足
	ErrInsufficient = errors.New("insufficient units available")
	// ErrUnknownResource 資源索引超出範圍
	ErrUnknownResource = errors.New("unknown resource type")
)

// Pool 資源池，由 scheduler 在一次模擬中獨佔
type Pool struct {
	supply    []int // 初始單位數（固定）
	available []int // 目前可立即分配的單位
	pending   []int // 本週期釋放、下一週期才可用的單位
}

// NewPool 以初始供給建立資源池
func NewPool(supply []int) *Pool {
	p := &Pool{
		supply:    make([]int, len(supply)),
		available: make([]int, len(supply)),
		pending:   make([]int, len(supply)),
	}
	copy(p.supply, supply)
	copy(p.available, supply)
	return p
}

// Len 資源類型數量
func (p *Pool) Len() int { return len(p.supply) }

// Supply 資源 r 的總供給
func (p *Pool) Supply(r int) int { return p.supply[r] }

// Available 資源 r 目前可用量
func (p *Pool) Available(r int) int { return p.available[r] }

// PendingRelease 資源 r 本週期已釋放但尚不可用的量
func (p *Pool) PendingRelease(r int) int { return p.pending[r] }

// CanSatisfy 是否可立即分配 amount 個單位
func (p *Pool) CanSatisfy(r, amount int) bool {
	return p.available[r] >= amount
}

// Take 從可用量扣除 amount
func (p *Pool) Take(r, amount int) error {
	if r < 0 || r >= len(p.available) {
		return fmt.Errorf("%w: %d", ErrUnknownResource, r)
	}
	if p.available[r] < amount {
		return fmt.Errorf("%w: resource %d has %d, want %d", ErrInsufficient, r+1, p.available[r], amount)
	}
	p.available[r] -= amount
	return nil
}

// Release 將 amount 放入 pendingRelease
func (p *Pool) Release(r, amount int) {
	p.pending[r] += amount
}

// Fold 週期結尾：pendingRelease 併入 available 並歸零
func (p *Pool) Fold() {
	for r := range p.pending {
		p.available[r] += p.pending[r]
		p.pending[r] = 0
	}
}

// AvailableCopy 回傳 available 的副本（供 safety check 使用）
func (p *Pool) AvailableCopy() []int {
	out := make([]int, len(p.available))
	copy(out, p.available)
	return out
}

// Audit 驗證會計不變量；held 為所有任務對每種資源的持有總量
func (p *Pool) Audit(held []int) error {
	for r := range p.supply {
		if p.available[r] < 0 {
			return fmt.Errorf("resource %d: negative availability %d", r+1, p.available[r])
		}
		if got := p.available[r] + p.pending[r] + held[r]; got != p.supply[r] {
			return fmt.Errorf("resource %d: available %d + pending %d + held %d = %d, supply %d",
				r+1, p.available[r], p.pending[r], held[r], got, p.supply[r])
		}
	}
	return nil
}
