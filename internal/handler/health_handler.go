package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout は依存サービスへの疎通確認1回あたりの上限。
const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存サービスの疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthCheckerFunc は関数をHealthCheckerとして扱うためのアダプタ。
type HealthCheckerFunc func(ctx context.Context) error

// PingContext はf(ctx)を呼ぶ。
func (f HealthCheckerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checks map[string]HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checksのキーはレスポンスに出力する名前。
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health は全依存サービスへの疎通を確認する。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.PingContext(ctx)
		cancel()

		if err != nil {
			slog.Warn("health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
