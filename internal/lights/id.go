package lights

import (
	"fmt"
	"strconv"
	"strings"

	"streetlight-api/internal/errkind"
)

const (
	IDLength   = 5
	CodeLength = 2
	seqSpan    = 1000
)

// CleanID 去除首尾空白与试算表残留的引号（如 '01001、"01001"）
func CleanID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "'")
	s = strings.Trim(s, "\"")
	return strings.TrimSpace(s)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidID：恰好 5 位 ASCII 数字
func ValidID(s string) bool { return len(s) == IDLength && allDigits(s) }

// ValidVillageCode：恰好 2 位 ASCII 数字
func ValidVillageCode(code string) bool { return len(code) == CodeLength && allDigits(code) }

// VillageOf 返回编号所属的村里代码
func VillageOf(id string) string {
	id = CleanID(id)
	if !ValidID(id) {
		return ""
	}
	return id[:CodeLength]
}

// 文档注释：计算村里内下一个流水编号
// 背景：取现有编号中以村里代码开头且长度为 5 的最大值加一；无现有编号时以 code+"000" 为起点。
// 约束：纯函数，不保留编号；调用方须在同一临界区内插入后才能再次分配，否则会得到相同结果。
// 异常：代码非 2 位数字返回 InvalidVillageCode；流水号用尽（已到 xx999）返回 IDExhausted。
func NextID(villageCode string, existingIDs []string) (string, error) {
	villageCode = strings.TrimSpace(villageCode)
	if !ValidVillageCode(villageCode) {
		return "", errkind.InvalidVillageCode.WithMessagef("village code %q must be %d digits", villageCode, CodeLength)
	}
	base, _ := strconv.Atoi(villageCode)
	max := base * seqSpan
	for _, raw := range existingIDs {
		id := CleanID(raw)
		if !ValidID(id) || !strings.HasPrefix(id, villageCode) {
			continue
		}
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	next := max + 1
	if next >= (base+1)*seqSpan {
		return "", errkind.IDExhausted.WithMessagef("village %s has no free sequence number", villageCode)
	}
	return fmt.Sprintf("%0*d", IDLength, next), nil
}
