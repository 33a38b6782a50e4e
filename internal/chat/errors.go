package chat

import (
	"errors"
	"fmt"
)

// ErrorKind 錯誤分類
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindTransientStore
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindTransientStore:
		return "transient_store"
	default:
		return "unknown"
	}
}

// Error 領域錯誤，Op 為發生錯誤的操作名稱
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrDuplicate 儲存層唯一索引衝突
var ErrDuplicate = errors.New("duplicate record")

// NewValidationError 輸入格式錯誤
func NewValidationError(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// NewAuthenticationError 缺少或無效的身份憑證
func NewAuthenticationError(op, msg string) error {
	return &Error{Kind: KindAuthentication, Op: op, Message: msg}
}

// NewAuthorizationError 無權執行此操作
func NewAuthorizationError(op, msg string) error {
	return &Error{Kind: KindAuthorization, Op: op, Message: msg}
}

// NewNotFoundError 資源不存在或已被全域刪除
func NewNotFoundError(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

// NewTransientStoreError 儲存層暫時不可用
func NewTransientStoreError(op string, err error) error {
	return &Error{Kind: KindTransientStore, Op: op, Message: "儲存層暫時不可用", Err: err}
}

// KindOf 取得錯誤分類
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsValidation 檢查是否為驗證錯誤
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuthentication 檢查是否為認證錯誤
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }

// IsAuthorization 檢查是否為授權錯誤
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }

// IsNotFound 檢查是否為找不到資源
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient 檢查是否為可重試的儲存錯誤
func IsTransient(err error) bool { return KindOf(err) == KindTransientStore }

// PublicMessage 取得可回傳給用戶端的錯誤描述
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "內部錯誤"
}

// wrapStore 將儲存層錯誤包裝成帶操作名稱的錯誤，保留既有分類
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
