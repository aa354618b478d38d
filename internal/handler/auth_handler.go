// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/insan/internal/auth"
	"github.com/hitoshi/insan/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	VerifyEmail(ctx context.Context, token string) error
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// registerRequest は登録リクエストのボディ。
type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Phone        string `json:"phone"`
	ReferralCode string `json:"referralCode"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest はトークン更新リクエストのボディ。
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// registerResponse は登録結果のレスポンス。
type registerResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// tokenResponse はトークン発行のレスポンス。
type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Register はユーザー登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		Phone:        req.Phone,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:        user.ID,
		Email:     user.Email,
		Phone:     user.Phone,
		CreatedAt: user.CreatedAt,
	})
}

// Login はログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// Refresh はリフレッシュトークンから新しいトークンの組を発行する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// Logout はリフレッシュトークンを破棄する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity := requireIdentity(w, r)
	if identity == nil {
		return
	}

	if err := h.service.Logout(r.Context(), identity.UserID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail はメール確認リンクを処理する。
// GET /api/auth/verify?token=xxx
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		handleServiceError(w, model.NewInvalidVerificationTokenError())
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}
