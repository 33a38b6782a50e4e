package mongoutil

import (
	"fmt"
	"regexp"
	"strings"
)

var objectIDPattern = regexp.MustCompile("^[a-fA-F0-9]{24}$")

// ValidateObjectID 驗證 MongoDB ObjectID 十六進位格式
func ValidateObjectID(id string) error {
	if !objectIDPattern.MatchString(id) {
		return fmt.Errorf("無效的 ObjectID 格式")
	}
	return nil
}

// SafeStringValue 移除可能被解讀為查詢操作符的字元
func SafeStringValue(value string) string {
	value = strings.ReplaceAll(value, "\x00", "")
	value = strings.ReplaceAll(value, "$", "")
	value = strings.ReplaceAll(value, "{", "")
	value = strings.ReplaceAll(value, "}", "")
	return value
}

// ClampLimit 限制查詢數量，limit <= 0 時使用預設值
func ClampLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
