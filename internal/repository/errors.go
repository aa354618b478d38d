package repository

import (
	"errors"

	"github.com/lib/pq"
)

// 一意制約違反を呼び出し元が判別するためのエラー。
var (
	ErrDuplicateEmail        = errors.New("email already exists")
	ErrDuplicateReferralCode = errors.New("referral code already exists")
)

// uniqueViolation はPostgreSQLの一意制約違反コード。
const uniqueViolation = "23505"

// マイグレーションで命名している制約名。
const (
	constraintUsersEmail        = "users_email_key"
	constraintUsersReferralCode = "users_referral_code_key"
)

// classifyUniqueViolation は一意制約違反を対応するセンチネルエラーに変換する。
// 対象外のエラーはそのまま返す。
func classifyUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return err
	}

	switch pqErr.Constraint {
	case constraintUsersEmail:
		return ErrDuplicateEmail
	case constraintUsersReferralCode:
		return ErrDuplicateReferralCode
	default:
		return err
	}
}
