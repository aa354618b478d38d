package auth

import (
	"net/mail"
	"strings"

	"github.com/hitoshi/insan/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

// maxPhoneLength は電話番号として受け付ける最大文字数。
const maxPhoneLength = 32

// plainText はタグや実体参照を含まないプレーンテキストかを判定するためのポリシー。
// Policyは構築後であれば並行利用できる。
var plainText = bluemonday.StrictPolicy()

// normalizeEmail はメールアドレスの前後の空白を除き、単一のアドレスとして妥当か検証する。
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", model.NewValidationError("Email and password are required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", model.NewValidationError("Email is invalid")
	}
	return email, nil
}

// normalizePhone は電話番号の前後の空白を除く。未指定の場合はnilを返す。
// HTMLとして解釈される文字を含む値はプロフィール表示側で問題になるため受け付けない。
func normalizePhone(raw string) (*string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return nil, nil
	}
	if len(phone) > maxPhoneLength || plainText.Sanitize(phone) != phone {
		return nil, model.NewValidationError("Phone is invalid")
	}
	return &phone, nil
}
