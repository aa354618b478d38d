package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost はbcryptのコスト。
const DefaultBcryptCost = 10

// MaxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
const MaxPasswordBytes = 72

// ErrPasswordTooLong はbcryptの上限を超えるパスワードに対するエラー。
var ErrPasswordTooLong = errors.New("password must be at most 72 bytes")

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher は指定コストのPasswordHasherを生成する。
// 範囲外のコストはDefaultBcryptCostに置き換える。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash はパスワードのbcryptハッシュを生成する。ソルトはハッシュに含まれる。
func (h *PasswordHasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify はパスワードがハッシュと一致するかを返す。
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
