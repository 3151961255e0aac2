package journal

// ============================================================================
// Journal 核心實作
// 職責：
// 1. 追加模擬事件到 JSON-lines 檔案（append-only）
// 2. 批次緩衝，滿了或 Flush/Close 時才寫入並同步
// 3. 重放時逐筆驗證 checksum
// 4. 多個模擬可共用同一個 Journal（以 RunID 區分）
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// DefaultBufferSize 預設批次緩衝大小
const DefaultBufferSize = 256

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Journal 事件日誌
type Journal struct {
	mu         sync.Mutex
	file       FileInterface
	encoder    *json.Encoder
	path       string
	seq        uint64
	buffer     []Event
	bufferSize int
	closed     bool
}

/*
Open 建立或開啟一個 Journal

行為：
- 檔案不存在時建立，seq 從 0 開始
- 檔案已存在時掃描取得最後一個 seq 並繼續
- 以追加模式開啟，不覆蓋既有內容
*/
func Open(path string, bufferSize int) (*Journal, error) {
	seq, err := lastSeq(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Journal{
		file:       file,
		encoder:    json.NewEncoder(file),
		path:       path,
		seq:        seq,
		buffer:     make([]Event, 0, bufferSize),
		bufferSize: bufferSize,
	}, nil
}

// Append 追加一個事件；緩衝區滿時自動 flush
func (j *Journal) Append(runID string, ev types.SimEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	j.seq++
	event := Event{
		Seq:       j.seq,
		RunID:     runID,
		Type:      ev.Type,
		Cycle:     ev.Cycle,
		Task:      ev.Task,
		Resource:  ev.Resource,
		Amount:    ev.Amount,
		Detail:    ev.Detail,
		Timestamp: time.Now().UnixMilli(),
	}
	event.Checksum = CalculateChecksum(event)
	j.buffer = append(j.buffer, event)

	if len(j.buffer) >= j.bufferSize {
		return j.flushLocked()
	}
	return nil
}

// Flush 將緩衝事件寫入並同步到磁碟
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.flushLocked()
}

// Close flush 後關閉檔案；關閉後的 Journal 不可再使用
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// LastSeq 取得當前的事件序號
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path 日誌檔案路徑
func (j *Journal) Path() string { return j.path }

// flushLocked 內部方法，假設調用者已經持有 j.mu 鎖
func (j *Journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for _, event := range j.buffer {
		if err := j.encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to write journal event seq=%d: %w", event.Seq, err)
		}
	}
	j.buffer = j.buffer[:0]
	return j.file.Sync()
}

// Replay 依序讀取 path 內的所有事件，驗證 checksum 後交給 handler；
// handler 回傳錯誤時立即停止
func Replay(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return replay(file, handler)
}

func replay(r io.Reader, handler EventHandler) error {
	decoder := json.NewDecoder(r)
	for n := 1; ; n++ {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &CorruptionError{Record: n, Cause: err}
		}
		if err := VerifyChecksum(event); err != nil {
			return err
		}
		if err := handler(event); err != nil {
			return err
		}
	}
}

// lastSeq 掃描檔案取得最後一個事件的 seq；檔案不存在時回傳 0
func lastSeq(path string) (uint64, error) {
	var seq uint64
	err := Replay(path, func(e Event) error {
		seq = e.Seq
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("failed to scan journal: %w", err)
	}
	return seq, nil
}
