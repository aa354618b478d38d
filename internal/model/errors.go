// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // 公開してよいエラーメッセージ
	Category string // カテゴリ: auth, validation, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation               = "VALIDATION_ERROR"
	ErrCodeConflict                 = "CONFLICT"
	ErrCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	ErrCodeInvalidVerificationToken = "INVALID_VERIFICATION_TOKEN"
	ErrCodeUnauthenticated          = "UNAUTHENTICATED"
	ErrCodeForbidden                = "FORBIDDEN"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeRateLimited              = "RATE_LIMITED"
	ErrCodeInternal                 = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewConflictError は既に登録済みのメールアドレスで登録しようとした場合のエラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "User already exists",
		Category: "account",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザー列挙を防ぐため、未登録メールとパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewInvalidVerificationTokenError はメール確認トークンが無効な場合のエラーを生成する。
func NewInvalidVerificationTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVerificationToken,
		Message:  "Invalid or expired verification token",
		Category: "auth",
		Action:   "確認メールを再送してください。",
	}
}

// NewUnauthenticatedError は認証情報が提示されなかった場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "Authorizationヘッダーにアクセストークンを指定してください。",
	}
}

// NewForbiddenError はトークンが無効または期限切れの場合のエラーを生成する。
// 失敗理由（期限切れ、署名不正、形式不正）は呼び出し元に区別させない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Invalid or expired token",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "account",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests, please try again later.",
		Category: "system",
		Action:   "指定された時間待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
