// Package auth はメール・パスワード認証、トークン発行、紹介コードの紐付けを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/insan/internal/model"
	"github.com/hitoshi/insan/internal/repository"
	"github.com/hitoshi/insan/internal/session"
)

// maxReferralCodeAttempts は紹介コード衝突時に登録を試行する最大回数。
const maxReferralCodeAttempts = 4

// VerificationMailer は確認メールの送信インターフェース。
type VerificationMailer interface {
	SendVerification(ctx context.Context, email, token string) error
}

// MetricsRecorder は認証イベントのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordRegistration(referred bool)
	RecordLogin(success bool)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	StoreTimeout time.Duration // DB呼び出し1回あたりの上限
	CacheTimeout time.Duration // Redis呼び出し1回あたりの上限
	MailTimeout  time.Duration // 確認メール送信の上限
}

// RegisterInput は登録リクエストの入力値。
type RegisterInput struct {
	Email        string
	Password     string
	Phone        string
	ReferralCode string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions session.Store
	tokens   *TokenIssuer
	hasher   *PasswordHasher
	codes    *ReferralCodeGenerator
	mailer   VerificationMailer
	metrics  MetricsRecorder
	config   ServiceConfig
	now      func() time.Time

	// 未登録メールでもパスワード照合と同程度の時間をかけるためのダミーハッシュ
	dummyHashOnce sync.Once
	dummyHash     string
}

// NewService はServiceを生成する。mailerとmetricsはnilでもよい。
func NewService(
	users repository.UserRepository,
	sessions session.Store,
	tokens *TokenIssuer,
	hasher *PasswordHasher,
	codes *ReferralCodeGenerator,
	mailer VerificationMailer,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		codes:    codes,
		mailer:   mailer,
		metrics:  metrics,
		config:   config,
		now:      time.Now,
	}
}

// Register はユーザーを登録する。
// ユーザー、ウォレット、レベル、紹介レコードは1トランザクションで作成する。
// 存在しない紹介コードはエラーにせず無視する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if in.Password == "" {
		return nil, model.NewValidationError("Email and password are required")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	phone, err := normalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}

	// 1. メールアドレスの重複確認
	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewConflictError()
	}

	// 2. パスワードのハッシュ化
	passwordHash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, ErrPasswordTooLong) {
		return nil, model.NewValidationError("Password must be at most 72 bytes")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 3. 紹介者の解決
	var referredBy *string
	if code := strings.TrimSpace(in.ReferralCode); code != "" {
		referrer, err := s.findByReferralCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if referrer != nil {
			referredBy = &referrer.ID
		}
	}

	// 4. 確認トークンの発行
	verificationToken, err := s.tokens.IssueVerificationToken(email)
	if err != nil {
		return nil, err
	}

	userID := uuid.NewString()
	user := &model.User{
		ID:                userID,
		Email:             email,
		PasswordHash:      passwordHash,
		ReferredBy:        referredBy,
		VerificationToken: &verificationToken,
		Phone:             phone,
	}
	wallet := &model.Wallet{ID: uuid.NewString(), UserID: userID}
	level := &model.UserLevel{ID: uuid.NewString(), UserID: userID}
	var referral *model.Referral
	if referredBy != nil {
		referral = &model.Referral{
			ID:         uuid.NewString(),
			ReferrerID: *referredBy,
			ReferredID: userID,
			Status:     model.ReferralStatusPending,
		}
	}

	// 5. 一括作成（紹介コード衝突時は接尾辞付きで再試行）
	if err := s.createAccount(ctx, user, wallet, level, referral); err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.Bool("referred", referredBy != nil),
	)
	if s.metrics != nil {
		s.metrics.RecordRegistration(referredBy != nil)
	}

	s.sendVerificationAsync(ctx, email, verificationToken)

	return user, nil
}

// createAccount はアカウント一式を作成する。
func (s *Service) createAccount(ctx context.Context, user *model.User, wallet *model.Wallet, level *model.UserLevel, referral *model.Referral) error {
	for attempt := 0; attempt < maxReferralCodeAttempts; attempt++ {
		user.ReferralCode = s.codes.Code(user.Email, attempt)

		storeCtx, cancel := withTimeout(ctx, s.config.StoreTimeout)
		err := s.users.CreateWithAccount(storeCtx, user, wallet, level, referral)
		cancel()

		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrDuplicateEmail):
			// 同一メールの同時登録は一意制約で1件のみ成功する
			return model.NewConflictError()
		case errors.Is(err, repository.ErrDuplicateReferralCode):
			slog.Warn("referral code collision, regenerating",
				slog.String("referral_code", user.ReferralCode),
				slog.Int("attempt", attempt+1),
			)
			continue
		default:
			return fmt.Errorf("failed to create account: %w", err)
		}
	}
	return fmt.Errorf("failed to allocate a unique referral code after %d attempts", maxReferralCodeAttempts)
}

// Login はメールアドレスとパスワードを照合し、アクセストークンとリフレッシュトークンを発行する。
// 未登録メールとパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.TokenPair, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.recordLogin(false)
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// 照合時間の差からユーザーの存在を推測されないようにする
		s.hasher.Verify(password, s.getDummyHash())
		s.recordLogin(false)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.recordLogin(false)
		return nil, model.NewInvalidCredentialsError()
	}

	// 最終ログイン日時の更新に失敗した場合はトークンをキャッシュに残さない
	storeCtx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	err = s.users.UpdateLastLogin(storeCtx, user.ID, s.now())
	cancel()
	if err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	s.recordLogin(true)

	return pair, nil
}

// Refresh はリフレッシュトークンを検証し、新しいトークンの組を発行する。
// キャッシュ上の最新トークンと一致しない場合は拒否する。
// 置き換えは比較と同時に行うため、同じトークンでの同時リフレッシュは1件のみ成功する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	if refreshToken == "" {
		return nil, model.NewValidationError("refreshToken is required")
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, model.NewForbiddenError()
	}

	cacheCtx, cancel := withTimeout(ctx, s.config.CacheTimeout)
	stored, err := s.sessions.Get(cacheCtx, claims.UserID)
	cancel()
	if err != nil {
		return nil, err
	}
	if stored == "" || stored != refreshToken {
		return nil, model.NewForbiddenError()
	}

	storeCtx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	user, err := s.users.FindByID(storeCtx, claims.UserID)
	cancel()
	if err != nil {
		return nil, err
	}
	if user == nil {
		if err := s.Logout(ctx, claims.UserID); err != nil {
			slog.Warn("failed to drop session of deleted user", slog.String("error", err.Error()))
		}
		return nil, model.NewForbiddenError()
	}

	pair, err := s.newPair(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	cacheCtx, cancel = withTimeout(ctx, s.config.CacheTimeout)
	rotated, err := s.sessions.Rotate(cacheCtx, user.ID, refreshToken, pair.RefreshToken)
	cancel()
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, model.NewForbiddenError()
	}

	return pair, nil
}

// Logout はユーザーのリフレッシュトークンを破棄する。存在しない場合もエラーにならない。
func (s *Service) Logout(ctx context.Context, userID string) error {
	cacheCtx, cancel := withTimeout(ctx, s.config.CacheTimeout)
	defer cancel()

	if err := s.sessions.Delete(cacheCtx, userID); err != nil {
		return err
	}

	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// VerifyEmail は確認トークンを検証し、メールアドレスを確認済みにする。
// 確認済みのユーザーに対しては何もしない。
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.tokens.VerifyVerificationToken(token)
	if err != nil {
		return model.NewInvalidVerificationTokenError()
	}

	user, err := s.findByEmail(ctx, claims.Email)
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewInvalidVerificationTokenError()
	}
	if user.EmailVerified {
		return nil
	}
	if user.VerificationToken == nil || *user.VerificationToken != token {
		return model.NewInvalidVerificationTokenError()
	}

	storeCtx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.users.MarkEmailVerified(storeCtx, user.ID); err != nil {
		return err
	}

	slog.Info("email verified", slog.String("user_id", user.ID))
	return nil
}

// VerifyAccessToken はアクセストークンを検証し、認証済みユーザーの識別情報を返す。
// ストアへの問い合わせは行わない。
func (s *Service) VerifyAccessToken(token string) (*model.Identity, error) {
	claims, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}
	return &model.Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// issuePair はトークンの組を発行し、リフレッシュトークンをキャッシュに保存する。
func (s *Service) issuePair(ctx context.Context, userID, email string) (*model.TokenPair, error) {
	pair, err := s.newPair(userID, email)
	if err != nil {
		return nil, err
	}

	cacheCtx, cancel := withTimeout(ctx, s.config.CacheTimeout)
	defer cancel()
	if err := s.sessions.Save(cacheCtx, userID, pair.RefreshToken); err != nil {
		return nil, err
	}

	return pair, nil
}

// newPair はトークンの組を発行する。キャッシュには保存しない。
func (s *Service) newPair(userID, email string) (*model.TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(userID, email)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(userID)
	if err != nil {
		return nil, err
	}
	return &model.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*model.User, error) {
	storeCtx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.users.FindByEmail(storeCtx, email)
}

func (s *Service) findByReferralCode(ctx context.Context, code string) (*model.User, error) {
	storeCtx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.users.FindByReferralCode(storeCtx, code)
}

// sendVerificationAsync は確認メールをバックグラウンドで送信する。
// 送信失敗はログに記録するのみで登録結果には影響しない。
func (s *Service) sendVerificationAsync(ctx context.Context, email, token string) {
	if s.mailer == nil {
		return
	}
	mailCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.config.MailTimeout)
	go func() {
		defer cancel()
		if err := s.mailer.SendVerification(mailCtx, email, token); err != nil {
			slog.Error("failed to send verification email", slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}

func (s *Service) getDummyHash() string {
	s.dummyHashOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			slog.Error("failed to prepare dummy hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// withTimeout はtimeoutが正の場合のみ期限付きコンテキストを返す。
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
