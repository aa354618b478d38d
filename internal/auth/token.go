package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken は署名不正、形式不正、種別違いなどでトークンを受け付けない場合のエラー。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は有効期限切れのトークンに対するエラー。
	ErrExpiredToken = errors.New("token has expired")
)

// トークン種別。同じ秘密鍵で署名するアクセストークンと確認トークンを取り違えないために使う。
const (
	tokenTypeAccess       = "access"
	tokenTypeRefresh      = "refresh"
	tokenTypeVerification = "verification"
)

// TokenConfig はトークン発行の設定。
type TokenConfig struct {
	AccessSecret    string        // アクセストークンと確認トークンの署名鍵（JWT_SECRET）
	RefreshSecret   string        // リフレッシュトークンの署名鍵（JWT_REFRESH_SECRET）
	AccessTTL       time.Duration // 既定1時間
	RefreshTTL      time.Duration // 既定7日
	VerificationTTL time.Duration // 既定1日
}

// DefaultTokenTTLs は秘密鍵以外の既定値を埋めたTokenConfigを返す。
func DefaultTokenTTLs(accessSecret, refreshSecret string) TokenConfig {
	return TokenConfig{
		AccessSecret:    accessSecret,
		RefreshSecret:   refreshSecret,
		AccessTTL:       time.Hour,
		RefreshTTL:      7 * 24 * time.Hour,
		VerificationTTL: 24 * time.Hour,
	}
}

// AccessClaims はアクセストークンのクレーム。ユーザーIDとメールアドレスを持つ。
type AccessClaims struct {
	UserID    string `json:"id"`
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims はリフレッシュトークンのクレーム。ユーザーIDのみを持つ。
type RefreshClaims struct {
	UserID    string `json:"id"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// VerificationClaims はメール確認トークンのクレーム。
type VerificationClaims struct {
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のJWTを発行・検証する。
type TokenIssuer struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(config TokenConfig) *TokenIssuer {
	return &TokenIssuer{config: config, now: time.Now}
}

// IssueAccessToken はアクセストークンを発行する。
func (t *TokenIssuer) IssueAccessToken(userID, email string) (string, error) {
	claims := AccessClaims{
		UserID:           userID,
		Email:            email,
		TokenType:        tokenTypeAccess,
		RegisteredClaims: t.registered(t.config.AccessTTL),
	}
	return t.sign(claims, t.config.AccessSecret)
}

// IssueRefreshToken はリフレッシュトークンを発行する。
func (t *TokenIssuer) IssueRefreshToken(userID string) (string, error) {
	claims := RefreshClaims{
		UserID:           userID,
		TokenType:        tokenTypeRefresh,
		RegisteredClaims: t.registered(t.config.RefreshTTL),
	}
	return t.sign(claims, t.config.RefreshSecret)
}

// IssueVerificationToken はメール確認トークンを発行する。
func (t *TokenIssuer) IssueVerificationToken(email string) (string, error) {
	claims := VerificationClaims{
		Email:            email,
		TokenType:        tokenTypeVerification,
		RegisteredClaims: t.registered(t.config.VerificationTTL),
	}
	return t.sign(claims, t.config.AccessSecret)
}

// VerifyAccessToken はアクセストークンを検証してクレームを返す。
func (t *TokenIssuer) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(token, claims, t.config.AccessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefreshToken はリフレッシュトークンを検証してクレームを返す。
func (t *TokenIssuer) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(token, claims, t.config.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyVerificationToken はメール確認トークンを検証してクレームを返す。
func (t *TokenIssuer) VerifyVerificationToken(token string) (*VerificationClaims, error) {
	claims := &VerificationClaims{}
	if err := t.parse(token, claims, t.config.AccessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeVerification || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// registered は共通の登録済みクレームを生成する。
// jtiを付与するため、同一秒内に発行したトークンも互いに異なる。
func (t *TokenIssuer) registered(ttl time.Duration) jwt.RegisteredClaims {
	now := t.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (t *TokenIssuer) sign(claims jwt.Claims, secret string) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (t *TokenIssuer) parse(token string, claims jwt.Claims, secret string) error {
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
