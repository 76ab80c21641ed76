// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, user, remote, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_FAILED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeRemoteFailed         = "REMOTE_FAILED"
	ErrCodeLoadFailed           = "LOAD_FAILED"
	ErrCodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrCodeEmptySelection       = "EMPTY_SELECTION"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeMissingTokens        = "MISSING_TOKENS"
	ErrCodeCSRFFailed           = "CSRF_FAILED"
	ErrCodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// RemoteError はBaaSへの呼び出しが失敗したことを表す。
// Message はリモートが返した文言をそのまま保持し、可能な限りユーザーに表示する。
type RemoteError struct {
	Op         string // 論理操作名（listUsers, deleteUser など）
	StatusCode int    // HTTPステータス。通信エラーの場合は0
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// LoadError は一覧の全件ロードに失敗したことを表す。
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// FieldError はフォーム項目1件の検証エラー。
type FieldError struct {
	Field   string
	Rule    string // required, minlength, pattern, email, oneof
	Message string
}

// ValidationError はローカルのフォーム検証エラー。リモートには送信されない。
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add はフィールドエラーを追加する。
func (e *ValidationError) Add(field, rule, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Message: message})
}

// HasErrors はエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// NotFoundError はIDによる参照で対象が見つからなかったことを表す。
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsNotFound はエラーチェーンにNotFoundErrorが含まれるかを返す。
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "user",
		Action:   "一覧を更新してから再度お試しください。",
	}
}

// NewValidationError はフォーム検証エラーのAPIエラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRemoteFailedError はBaaS呼び出し失敗のAPIエラーを生成する。
// メッセージはリモートの文言をそのまま使う。
func NewRemoteFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteFailed,
		Message:  message,
		Category: "remote",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewLoadFailedError はユーザー一覧のロード失敗のAPIエラーを生成する。
func NewLoadFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeLoadFailed,
		Message:  message,
		Category: "remote",
		Action:   "一覧を再読み込みしてください。直前に取得した一覧は引き続き表示されます。",
	}
}

// NewConfirmationRequiredError は破壊的操作に確認が必要な場合のAPIエラーを生成する。
// Message には確認ダイアログに表示する文言を入れる。
func NewConfirmationRequiredError(prompt string) *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationRequired,
		Message:  prompt,
		Category: "user",
		Action:   "内容を確認のうえ confirmed を true にして再送信してください。",
	}
}

// NewEmptySelectionError は一括操作の対象が未選択の場合のAPIエラーを生成する。
func NewEmptySelectionError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptySelection,
		Message:  "ユーザーが1件も選択されていません。",
		Category: "validation",
		Action:   "少なくとも1件のユーザーを選択してください。",
	}
}

// NewUnauthorizedError は未認証のAPIエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正のAPIエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewMissingTokensError はコールバックURLにトークンが含まれない場合のAPIエラーを生成する。
func NewMissingTokensError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingTokens,
		Message:  "認証トークンがURLに含まれていません。",
		Category: "auth",
		Action:   "招待メールのリンクを開き直すか、再度ログインしてください。",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗のAPIエラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はリクエスト過多のAPIエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーのAPIエラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
