package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/insan/internal/model"
	"github.com/hitoshi/insan/internal/user"
)

// birthDateLayout は生年月日の出力形式。
const birthDateLayout = "2006-01-02"

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	GetWallet(ctx context.Context, userID string) (*user.WalletView, error)
	ListReferrals(ctx context.Context, userID string) ([]*model.Referral, error)
}

// UserHandler はログインユーザー自身の情報を返すHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// profileResponse はプロフィールのレスポンス。
type profileResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Phone        *string    `json:"phone"`
	FirstName    *string    `json:"first_name"`
	LastName     *string    `json:"last_name"`
	Country      *string    `json:"country"`
	BirthDate    *string    `json:"birth_date"`
	AvatarURL    *string    `json:"avatar_url"`
	ReferralCode string     `json:"referral_code"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
}

// walletResponse はウォレットのレスポンス。
// onchain_balanceはチェーンから取得できた場合のみ含む。
type walletResponse struct {
	ID             string    `json:"id"`
	Address        *string   `json:"address"`
	Balance        string    `json:"balance"`
	OnchainBalance *string   `json:"onchain_balance,omitempty"`
	Level          int       `json:"level"`
	Experience     int64     `json:"experience"`
	CreatedAt      time.Time `json:"created_at"`
}

// referralResponse は紹介レコードのレスポンス。
type referralResponse struct {
	ReferredID string    `json:"referred_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Me はログインユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	u, err := h.service.GetProfile(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(u))
}

// Wallet はログインユーザーのウォレットを返す。
// GET /api/users/me/wallet
func (h *UserHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	view, err := h.service.GetWallet(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWalletResponse(view))
}

// Referrals はログインユーザーが紹介したユーザーの一覧を返す。
// GET /api/users/me/referrals
func (h *UserHandler) Referrals(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	referrals, err := h.service.ListReferrals(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]referralResponse, len(referrals))
	for i, ref := range referrals {
		resp[i] = referralResponse{
			ReferredID: ref.ReferredID,
			Status:     string(ref.Status),
			CreatedAt:  ref.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toProfileResponse(u *model.User) profileResponse {
	resp := profileResponse{
		ID:           u.ID,
		Email:        u.Email,
		Phone:        u.Phone,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Country:      u.Country,
		AvatarURL:    u.AvatarURL,
		ReferralCode: u.ReferralCode,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
	if u.BirthDate != nil {
		s := u.BirthDate.Format(birthDateLayout)
		resp.BirthDate = &s
	}
	return resp
}

func toWalletResponse(view *user.WalletView) walletResponse {
	resp := walletResponse{
		ID:        view.Wallet.ID,
		Address:   view.Wallet.Address,
		Balance:   view.Wallet.Balance,
		CreatedAt: view.Wallet.CreatedAt,
	}
	if view.Level != nil {
		resp.Level = view.Level.Level
		resp.Experience = view.Level.Experience
	}
	if view.OnchainBalance != nil {
		s := view.OnchainBalance.String()
		resp.OnchainBalance = &s
	}
	return resp
}
