package user

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/hitoshi/insan/internal/model"
	"github.com/hitoshi/insan/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	repository.UserRepository
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFn(ctx, id)
}

type mockWalletRepo struct {
	findByUserIDFn func(ctx context.Context, userID string) (*model.Wallet, error)
}

func (m *mockWalletRepo) FindByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	return m.findByUserIDFn(ctx, userID)
}

type mockLevelRepo struct {
	findByUserIDFn func(ctx context.Context, userID string) (*model.UserLevel, error)
}

func (m *mockLevelRepo) FindByUserID(ctx context.Context, userID string) (*model.UserLevel, error) {
	if m.findByUserIDFn != nil {
		return m.findByUserIDFn(ctx, userID)
	}
	return &model.UserLevel{UserID: userID, Level: 1}, nil
}

type mockReferralRepo struct {
	listFn func(ctx context.Context, referrerID string) ([]*model.Referral, error)
}

func (m *mockReferralRepo) ListByReferrerID(ctx context.Context, referrerID string) ([]*model.Referral, error) {
	return m.listFn(ctx, referrerID)
}

type mockBalanceReader struct {
	calls        int
	getBalanceFn func(ctx context.Context, address string) (*big.Int, error)
}

func (m *mockBalanceReader) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	m.calls++
	return m.getBalanceFn(ctx, address)
}

var (
	_ repository.WalletRepository    = (*mockWalletRepo)(nil)
	_ repository.UserLevelRepository = (*mockLevelRepo)(nil)
	_ repository.ReferralRepository  = (*mockReferralRepo)(nil)
	_ BalanceReader                  = (*mockBalanceReader)(nil)
)

var testConfig = Config{StoreTimeout: time.Second, ChainTimeout: time.Second}

func strPtr(s string) *string { return &s }

// --- GetProfile ---

func TestGetProfile_ExistingUser_ReturnsProjection(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "a@x.com", ReferralCode: "YUB4LmNvbQ"}, nil
		},
	}
	svc := NewService(users, nil, nil, nil, nil, testConfig)

	first, err := svc.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	second, err := svc.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}

	// 連続した取得は同じ内容を返すこと
	if *first != *second {
		t.Errorf("profiles differ: %+v vs %+v", first, second)
	}
	if first.Email != "a@x.com" {
		t.Errorf("email = %q, want %q", first.Email, "a@x.com")
	}
}

func TestGetProfile_MissingUser_ReturnsNotFound(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*model.User, error) { return nil, nil },
	}
	svc := NewService(users, nil, nil, nil, nil, testConfig)

	_, err := svc.GetProfile(context.Background(), "deleted")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("error = %v, want USER_NOT_FOUND", err)
	}
}

func TestGetProfile_StoreError_IsWrapped(t *testing.T) {
	dbErr := errors.New("connection reset")
	users := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*model.User, error) { return nil, dbErr },
	}
	svc := NewService(users, nil, nil, nil, nil, testConfig)

	_, err := svc.GetProfile(context.Background(), "user-1")
	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
}

// --- GetWallet ---

func TestGetWallet_WithAddress_IncludesOnchainBalance(t *testing.T) {
	wallets := &mockWalletRepo{
		findByUserIDFn: func(_ context.Context, userID string) (*model.Wallet, error) {
			return &model.Wallet{UserID: userID, Address: strPtr("0xabc"), Balance: "10"}, nil
		},
	}
	balances := &mockBalanceReader{
		getBalanceFn: func(_ context.Context, address string) (*big.Int, error) {
			if address != "0xabc" {
				t.Errorf("address = %q, want %q", address, "0xabc")
			}
			return big.NewInt(42), nil
		},
	}
	svc := NewService(nil, wallets, &mockLevelRepo{}, nil, balances, testConfig)

	view, err := svc.GetWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if view.Wallet.Balance != "10" {
		t.Errorf("balance = %q, want %q", view.Wallet.Balance, "10")
	}
	if view.Level == nil || view.Level.Level != 1 {
		t.Errorf("level = %+v, want level 1", view.Level)
	}
	if view.OnchainBalance == nil || view.OnchainBalance.Int64() != 42 {
		t.Errorf("onchain balance = %v, want 42", view.OnchainBalance)
	}
}

func TestGetWallet_ChainFailure_OmitsBalance(t *testing.T) {
	wallets := &mockWalletRepo{
		findByUserIDFn: func(_ context.Context, userID string) (*model.Wallet, error) {
			return &model.Wallet{UserID: userID, Address: strPtr("0xabc"), Balance: "0"}, nil
		},
	}
	balances := &mockBalanceReader{
		getBalanceFn: func(context.Context, string) (*big.Int, error) {
			return nil, errors.New("node unreachable")
		},
	}
	svc := NewService(nil, wallets, &mockLevelRepo{}, nil, balances, testConfig)

	view, err := svc.GetWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if view.OnchainBalance != nil {
		t.Errorf("onchain balance = %v, want nil", view.OnchainBalance)
	}
}

func TestGetWallet_NoAddress_SkipsChain(t *testing.T) {
	wallets := &mockWalletRepo{
		findByUserIDFn: func(_ context.Context, userID string) (*model.Wallet, error) {
			return &model.Wallet{UserID: userID, Balance: "0"}, nil
		},
	}
	balances := &mockBalanceReader{
		getBalanceFn: func(context.Context, string) (*big.Int, error) { return big.NewInt(1), nil },
	}
	svc := NewService(nil, wallets, &mockLevelRepo{}, nil, balances, testConfig)

	if _, err := svc.GetWallet(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if balances.calls != 0 {
		t.Errorf("GetBalance called %d times, want 0", balances.calls)
	}
}

func TestGetWallet_MissingWallet_ReturnsNotFound(t *testing.T) {
	wallets := &mockWalletRepo{
		findByUserIDFn: func(context.Context, string) (*model.Wallet, error) { return nil, nil },
	}
	svc := NewService(nil, wallets, &mockLevelRepo{}, nil, nil, testConfig)

	_, err := svc.GetWallet(context.Background(), "user-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("error = %v, want USER_NOT_FOUND", err)
	}
}

// --- ListReferrals ---

func TestListReferrals_ReturnsRepositoryOrder(t *testing.T) {
	now := time.Now()
	referrals := &mockReferralRepo{
		listFn: func(_ context.Context, referrerID string) ([]*model.Referral, error) {
			return []*model.Referral{
				{ReferrerID: referrerID, ReferredID: "new", Status: model.ReferralStatusPending, CreatedAt: now},
				{ReferrerID: referrerID, ReferredID: "old", Status: model.ReferralStatusPending, CreatedAt: now.Add(-time.Hour)},
			}, nil
		},
	}
	svc := NewService(nil, nil, nil, referrals, nil, testConfig)

	got, err := svc.ListReferrals(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListReferrals() error = %v", err)
	}
	if len(got) != 2 || got[0].ReferredID != "new" || got[1].ReferredID != "old" {
		t.Errorf("referrals = %+v, want [new old]", got)
	}
}

func TestListReferrals_None_ReturnsEmptySlice(t *testing.T) {
	referrals := &mockReferralRepo{
		listFn: func(context.Context, string) ([]*model.Referral, error) { return nil, nil },
	}
	svc := NewService(nil, nil, nil, referrals, nil, testConfig)

	got, err := svc.ListReferrals(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListReferrals() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("referrals = %v, want empty non-nil slice", got)
	}
}
