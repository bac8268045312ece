package model

import "fmt"

// RemoteError はリトライ上限まで失敗したリモートAPI呼び出しのエラー。
// 失敗したリクエストURLを保持する。
type RemoteError struct {
	URL     string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.URL)
}

// NewRemoteError はRemoteErrorを生成する。
func NewRemoteError(url, message string) *RemoteError {
	return &RemoteError{URL: url, Message: message}
}

// ValidationError は参照URLの形式不正やサポート外の種別を表すエラー。
// 監視対象の追加時に呼び出し元へ即座に返す。
type ValidationError struct {
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError はValidationErrorを生成する。
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// APIError はHTTP APIの統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, remote, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	ErrCodeDuplicateMonitor  = "DUPLICATE_MONITOR"
	ErrCodeMonitorNotFound   = "MONITOR_NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// NewInvalidURLError は無効な参照URLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
	}
}

// NewRemoteUnavailableError はリモート情報を取得できなかった場合のエラーを生成する。
func NewRemoteUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeRemoteUnavailable,
		Message:  "bilibiliから情報を取得できませんでした。IDとネットワークを確認してください。",
		Category: "remote",
	}
}

// NewDuplicateMonitorError は監視対象の重複登録エラーを生成する。
func NewDuplicateMonitorError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateMonitor,
		Message:  "この監視対象は既に登録されています。",
		Category: "validation",
	}
}

// NewMonitorNotFoundError は監視対象が見つからない場合のエラーを生成する。
func NewMonitorNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeMonitorNotFound,
		Message:  fmt.Sprintf("指定された監視対象が見つかりません: %d", id),
		Category: "validation",
	}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "アクセストークンが無効です。",
		Category: "auth",
	}
}
