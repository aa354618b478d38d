// Package logger は構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// levelより低いレベルのログは出力しない。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 出力レベルは環境変数LOG_LEVELから決定し、未設定ならInfoとする。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, ParseLevel(os.Getenv("LOG_LEVEL")))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel は"debug"、"info"、"warn"、"error"をslog.Levelに変換する。
// 解釈できない値はInfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
