// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/insan/internal/metrics"
	"github.com/hitoshi/insan/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var identityContextKey = contextKey("identity")

// AccessTokenVerifier はアクセストークンの検証インターフェース。
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (*model.Identity, error)
}

// GuardRejectionRecorder はガードによる拒否の記録インターフェース。
type GuardRejectionRecorder interface {
	RecordGuardRejection(reason string)
}

// NewAccessGuard はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// トークンがない場合は401、検証に失敗した場合は理由によらず403を返す。
// 検証成功時は識別情報をリクエストコンテキストに注入する。ストアへの問い合わせは行わない。
func NewAccessGuard(verifier AccessTokenVerifier, recorder GuardRejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Bearerトークンを取得
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				if recorder != nil {
					recorder.RecordGuardRejection(metrics.RejectionMissingToken)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 2. トークンを検証
			identity, err := verifier.VerifyAccessToken(token)
			if err != nil {
				slog.Debug("access token rejected", slog.String("error", err.Error()))
				if recorder != nil {
					recorder.RecordGuardRejection(metrics.RejectionInvalidToken)
				}
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			// 3. 識別情報をコンテキストに注入
			setRequestUserID(r.Context(), identity.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// bearerToken は"Bearer <token>"形式のヘッダー値からトークンを取り出す。
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// IdentityFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// アクセスガードを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil || identity.UserID == "" {
		return nil, errors.New("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
