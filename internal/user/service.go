// Package user はプロフィール、ウォレット、紹介一覧の参照を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/hitoshi/insan/internal/model"
	"github.com/hitoshi/insan/internal/repository"
)

// BalanceReader はオンチェーン残高の取得インターフェース。
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// WalletView はウォレット、レベル、オンチェーン残高をまとめた表示用の構造体。
// OnchainBalanceは取得できなかった場合nil。
type WalletView struct {
	Wallet         *model.Wallet
	Level          *model.UserLevel
	OnchainBalance *big.Int
}

// Config はサービスのタイムアウト設定。
type Config struct {
	StoreTimeout time.Duration
	ChainTimeout time.Duration
}

// Service はユーザー情報参照のサービス層。
type Service struct {
	userRepo     repository.UserRepository
	walletRepo   repository.WalletRepository
	levelRepo    repository.UserLevelRepository
	referralRepo repository.ReferralRepository
	balances     BalanceReader
	config       Config
}

// NewService はServiceの新しいインスタンスを生成する。
// balancesがnilの場合はオンチェーン残高を取得しない。
func NewService(
	userRepo repository.UserRepository,
	walletRepo repository.WalletRepository,
	levelRepo repository.UserLevelRepository,
	referralRepo repository.ReferralRepository,
	balances BalanceReader,
	config Config,
) *Service {
	return &Service{
		userRepo:     userRepo,
		walletRepo:   walletRepo,
		levelRepo:    levelRepo,
		referralRepo: referralRepo,
		balances:     balances,
		config:       config,
	}
}

// GetProfile はユーザーのプロフィールを返す。
// アクセストークンが有効でもユーザーが削除済みの場合はUserNotFoundを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// GetWallet はウォレットとレベルを返す。
// アドレスが登録済みでチェーンクライアントがある場合はオンチェーン残高も取得する。
// チェーン呼び出しの失敗はログに記録し、残高なしとして扱う。
func (s *Service) GetWallet(ctx context.Context, userID string) (*WalletView, error) {
	storeCtx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	wallet, err := s.walletRepo.FindByUserID(storeCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("ウォレットの取得に失敗しました: %w", err)
	}
	if wallet == nil {
		return nil, model.NewUserNotFoundError()
	}

	level, err := s.levelRepo.FindByUserID(storeCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("レベルの取得に失敗しました: %w", err)
	}

	view := &WalletView{Wallet: wallet, Level: level}

	if s.balances != nil && wallet.Address != nil && *wallet.Address != "" {
		chainCtx, chainCancel := withTimeout(ctx, s.config.ChainTimeout)
		defer chainCancel()

		balance, err := s.balances.GetBalance(chainCtx, *wallet.Address)
		if err != nil {
			slog.Warn("オンチェーン残高の取得に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		} else {
			view.OnchainBalance = balance
		}
	}

	return view, nil
}

// ListReferrals はユーザーが紹介した紹介レコードを新しい順に返す。
func (s *Service) ListReferrals(ctx context.Context, userID string) ([]*model.Referral, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	referrals, err := s.referralRepo.ListByReferrerID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("紹介一覧の取得に失敗しました: %w", err)
	}
	if referrals == nil {
		referrals = []*model.Referral{}
	}
	return referrals, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
