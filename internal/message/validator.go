package message

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/middleware"

	"github.com/gabriel-vasile/mimetype"
)

// errTooLarge 上傳超過大小上限，回 413
var errTooLarge = errors.New("upload too large")

// UploadRule 一種上傳的限制.
type UploadRule struct {
	Field      string
	MaxBytes   int64
	Extensions []string
	// MimePrefixes 為空時接受任何偵測到的類型
	MimePrefixes []string
}

// VoiceRule 語音上傳規則.
func VoiceRule(maxBytes int64, extensions []string) UploadRule {
	return UploadRule{
		Field:        FieldAudio,
		MaxBytes:     maxBytes,
		Extensions:   extensions,
		MimePrefixes: []string{"audio/", "video/webm", "application/ogg"},
	}
}

// FileRule 一般檔案上傳規則.
func FileRule(maxBytes int64, extensions []string) UploadRule {
	return UploadRule{Field: FieldFile, MaxBytes: maxBytes, Extensions: extensions}
}

// checkHeader 檢查檔名與宣告大小.
func (r UploadRule) checkHeader(fh *multipart.FileHeader) error {
	const op = "message.upload"

	if fh.Size <= 0 {
		return chat.NewValidationError(op, "上傳檔案為空")
	}
	if r.MaxBytes > 0 && fh.Size > r.MaxBytes {
		return fmt.Errorf("%w: %d > %d", errTooLarge, fh.Size, r.MaxBytes)
	}
	if !r.allowedExtension(fh.Filename) {
		return chat.NewValidationError(op, "不支援的檔案格式")
	}
	return nil
}

func (r UploadRule) allowedExtension(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, allowed := range r.Extensions {
		if strings.TrimPrefix(strings.ToLower(allowed), ".") == ext {
			return true
		}
	}
	return false
}

// sniff 以檔案內容判斷類型，讀完後回到開頭.
func (r UploadRule) sniff(f multipart.File) (string, error) {
	const op = "message.upload"

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("偵測檔案類型失敗: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("重設檔案位置失敗: %w", err)
	}

	detected := mtype.String()
	if len(r.MimePrefixes) == 0 {
		return detected, nil
	}
	for m := mtype; m != nil; m = m.Parent() {
		for _, prefix := range r.MimePrefixes {
			if strings.HasPrefix(m.String(), prefix) {
				return detected, nil
			}
		}
	}
	return "", chat.NewValidationError(op, "檔案內容與格式不符")
}

// cleanFileName 只保留檔名本身並移除控制字元.
func cleanFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = middleware.SanitizeInput(strings.ReplaceAll(name, "\n", ""))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

// parseDuration 語音長度（秒），未提供時為 0.
func parseDuration(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, chat.NewValidationError("message.voice", "duration 必須為非負數")
	}
	return d, nil
}

// parseLimit 解析分頁大小，0 代表使用預設值.
func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, chat.NewValidationError("message.history", "limit 必須為非負整數")
	}
	switch {
	case n == 0:
		return def, nil
	case max > 0 && n > max:
		return max, nil
	default:
		return n, nil
	}
}

// parseBefore 解析 RFC3339 游標.
func parseBefore(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, chat.NewValidationError("message.history", "before 必須為 RFC3339 時間")
	}
	return t.UTC(), nil
}

// validateCounterpart 驗證路徑中的對話對象.
func validateCounterpart(userID string) error {
	if err := middleware.ValidateUserID(userID); err != nil {
		return chat.NewValidationError("message.counterpart", err.Error())
	}
	return nil
}
