// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/insan/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID はプロフィール表示用の全項目を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は認証に必要な項目（パスワードハッシュ、確認トークン）を含めて取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByReferralCode は紹介コードからユーザーを検索する。見つからない場合はnilを返す。
	FindByReferralCode(ctx context.Context, code string) (*model.User, error)

	// CreateWithAccount はユーザー、ウォレット、レベル、紹介レコードを同一トランザクションで作成する。
	// referralがnilの場合は紹介レコードを作成しない。
	// メールアドレスまたは紹介コードの一意制約違反はErrDuplicateEmail / ErrDuplicateReferralCodeを返す。
	CreateWithAccount(ctx context.Context, user *model.User, wallet *model.Wallet, level *model.UserLevel, referral *model.Referral) error

	// UpdateLastLogin は最終ログイン日時を更新する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// MarkEmailVerified はメール確認済みにし、確認トークンを破棄する。
	MarkEmailVerified(ctx context.Context, id string) error
}

// WalletRepository はウォレットデータの永続化インターフェース。
type WalletRepository interface {
	// FindByUserID はユーザーのウォレットを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Wallet, error)
}

// UserLevelRepository はユーザーレベルの永続化インターフェース。
type UserLevelRepository interface {
	// FindByUserID はユーザーのレベルを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.UserLevel, error)
}

// ReferralRepository は紹介レコードの永続化インターフェース。
type ReferralRepository interface {
	// ListByReferrerID は指定ユーザーが紹介した紹介レコードを新しい順に返す。
	ListByReferrerID(ctx context.Context, referrerID string) ([]*model.Referral, error)
}
