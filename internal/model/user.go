// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashとVerificationTokenはレスポンスに含めてはならない。
type User struct {
	ID                string
	Email             string
	Phone             *string
	PasswordHash      string
	ReferralCode      string
	ReferredBy        *string
	VerificationToken *string
	EmailVerified     bool
	FirstName         *string
	LastName          *string
	Country           *string
	BirthDate         *time.Time
	AvatarURL         *string
	CreatedAt         time.Time
	LastLogin         *time.Time
}

// Wallet はユーザーに1対1で紐付くトークンウォレット。
// 登録時に初期値で作成される。
type Wallet struct {
	ID        string
	UserID    string
	Address   *string
	Balance   string // NUMERIC列を精度を落とさず保持する
	CreatedAt time.Time
}

// UserLevel はユーザーに1対1で紐付く進捗レコード。
type UserLevel struct {
	ID         string
	UserID     string
	Level      int
	Experience int64
	CreatedAt  time.Time
}

// ReferralStatus は紹介レコードの状態を表す。
type ReferralStatus string

// ReferralStatusPending は紹介直後の初期状態。
const ReferralStatusPending ReferralStatus = "pending"

// Referral は紹介者と被紹介者の紐付けを表す。
type Referral struct {
	ID         string
	ReferrerID string
	ReferredID string
	Status     ReferralStatus
	CreatedAt  time.Time
}

// Identity はアクセストークンから復元した認証済みユーザーの識別情報。
type Identity struct {
	UserID string
	Email  string
}

// TokenPair はログイン時に発行するアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
