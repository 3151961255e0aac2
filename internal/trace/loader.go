// ============================================================================
// deadlock-sim Trace Loader - 模擬輸入解析
// ============================================================================
//
// Package: internal/trace
// 文件: loader.go
// 功能: 將文字 trace 解析為依任務分組的活動序列
//
// 輸入格式（以空白分隔，可任意換行）:
//
//   T R a1 a2 ... aR
//   <kind> <task> <p2> <p3>
//   ...
//
//   - T: 任務數，R: 資源類型數，ai: 資源 i 的初始單位數
//   - kind 不分大小寫: initiate / request / release / compute / terminate
//   - task、資源索引皆為 1-based；解析後轉為 0-based
//   - compute 的 p2 為週期數；terminate 忽略 p2/p3
//
// 驗證:
//   - 索引超出範圍回傳 ErrOutOfRange
//   - 格式錯誤、負數、缺少 terminate 回傳 ErrMalformed
//
// ============================================================================

package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

var (
	// ErrMalformed trace 格式錯誤
	ErrMalformed = errors.New("malformed trace")
	// ErrOutOfRange 任務或資源索引超出範圍
	ErrOutOfRange = errors.New("index out of range")
)

// LineError 帶行號的解析錯誤
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// token 一個帶行號的欄位
type token struct {
	text string
	line int
}

type tokenizer struct {
	tokens []token
	pos    int
	last   int
}

func tokenize(r io.Reader) (*tokenizer, error) {
	tz := &tokenizer{}
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		for _, f := range strings.Fields(sc.Text()) {
			tz.tokens = append(tz.tokens, token{text: f, line: line})
		}
		tz.last = line
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	return tz, nil
}

func (tz *tokenizer) done() bool { return tz.pos >= len(tz.tokens) }

func (tz *tokenizer) next(what string) (token, error) {
	if tz.done() {
		return token{}, &LineError{Line: tz.last, Err: fmt.Errorf("%w: unexpected end of input, want %s", ErrMalformed, what)}
	}
	tok := tz.tokens[tz.pos]
	tz.pos++
	return tok, nil
}

func (tz *tokenizer) nextInt(what string) (int, int, error) {
	tok, err := tz.next(what)
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.Atoi(tok.text)
	if err != nil {
		return 0, tok.line, &LineError{Line: tok.line, Err: fmt.Errorf("%w: %s %q is not an integer", ErrMalformed, what, tok.text)}
	}
	if n < 0 {
		return 0, tok.line, &LineError{Line: tok.line, Err: fmt.Errorf("%w: %s must not be negative, got %d", ErrMalformed, what, n)}
	}
	return n, tok.line, nil
}

// Parse 從 r 解析 trace
func Parse(r io.Reader) (*types.Trace, error) {
	tz, err := tokenize(r)
	if err != nil {
		return nil, err
	}

	numTasks, line, err := tz.nextInt("task count")
	if err != nil {
		return nil, err
	}
	if numTasks == 0 {
		return nil, &LineError{Line: line, Err: fmt.Errorf("%w: task count must be positive", ErrMalformed)}
	}
	numResources, line, err := tz.nextInt("resource type count")
	if err != nil {
		return nil, err
	}
	if numResources == 0 {
		return nil, &LineError{Line: line, Err: fmt.Errorf("%w: resource type count must be positive", ErrMalformed)}
	}

	tr := &types.Trace{
		Supply:     make([]int, numResources),
		Activities: make([][]types.Activity, numTasks),
	}
	for i := range tr.Supply {
		if tr.Supply[i], _, err = tz.nextInt(fmt.Sprintf("units of resource %d", i+1)); err != nil {
			return nil, err
		}
	}

	for !tz.done() {
		act, line, err := parseActivity(tz, numTasks, numResources)
		if err != nil {
			return nil, err
		}
		acts := tr.Activities[act.Task]
		if n := len(acts); n > 0 && acts[n-1].Kind == types.KindTerminate {
			return nil, &LineError{Line: line, Err: fmt.Errorf("%w: task %d has activities after terminate", ErrMalformed, act.Task+1)}
		}
		tr.Activities[act.Task] = append(acts, act)
	}

	for id, acts := range tr.Activities {
		if len(acts) == 0 || acts[len(acts)-1].Kind != types.KindTerminate {
			return nil, fmt.Errorf("%w: task %d does not end with terminate", ErrMalformed, id+1)
		}
	}
	return tr, nil
}

func parseActivity(tz *tokenizer, numTasks, numResources int) (types.Activity, int, error) {
	tok, err := tz.next("activity")
	if err != nil {
		return types.Activity{}, 0, err
	}
	kind, ok := types.ParseActivityKind(tok.text)
	if !ok {
		return types.Activity{}, tok.line, &LineError{Line: tok.line, Err: fmt.Errorf("%w: unknown activity %q", ErrMalformed, tok.text)}
	}

	task, line, err := tz.nextInt("task number")
	if err != nil {
		return types.Activity{}, 0, err
	}
	if task < 1 || task > numTasks {
		return types.Activity{}, line, &LineError{Line: line, Err: fmt.Errorf("%w: task %d not in 1..%d", ErrOutOfRange, task, numTasks)}
	}
	p2, p2Line, err := tz.nextInt("second parameter")
	if err != nil {
		return types.Activity{}, 0, err
	}
	p3, _, err := tz.nextInt("third parameter")
	if err != nil {
		return types.Activity{}, 0, err
	}

	act := types.Activity{Kind: kind, Task: task - 1}
	switch kind {
	case types.KindInitiate, types.KindRequest, types.KindRelease:
		if p2 < 1 || p2 > numResources {
			return types.Activity{}, p2Line, &LineError{Line: p2Line, Err: fmt.Errorf("%w: resource %d not in 1..%d", ErrOutOfRange, p2, numResources)}
		}
		act.Resource = p2 - 1
		act.Amount = p3
	case types.KindCompute:
		act.Amount = p2
	}
	return act, tok.line, nil
}

// Load 讀取並解析 trace 檔案；Trace.Name 為檔名
func Load(path string) (*types.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	tr, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tr.Name = filepath.Base(path)
	return tr, nil
}
