package journal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證事件的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"strconv"
	"strings"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 演算法：
// - 將事件的關鍵欄位以 '|' 串接
// - 使用 CRC32-IEEE 多項式計算
// - 不包含 Timestamp 與 Checksum 本身
func CalculateChecksum(e Event) uint32 {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(e.Seq, 10))
	for _, field := range []string{
		e.RunID,
		string(e.Type),
		strconv.Itoa(e.Cycle),
		strconv.Itoa(e.Task),
		strconv.Itoa(e.Resource),
		strconv.Itoa(e.Amount),
		e.Detail,
	} {
		b.WriteByte('|')
		b.WriteString(field)
	}
	return crc32.ChecksumIEEE([]byte(b.String()))
}

// VerifyChecksum 驗證事件的校驗和是否正確
func VerifyChecksum(e Event) error {
	if expected := CalculateChecksum(e); e.Checksum != expected {
		return &ChecksumError{Seq: e.Seq, Expected: expected, Actual: e.Checksum}
	}
	return nil
}
