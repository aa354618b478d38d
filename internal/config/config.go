// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnLifetime time.Duration
	DBTimeout      time.Duration
	RedisURL       string
	RedisTimeout   time.Duration

	// Token
	JWTSecret            string
	JWTRefreshSecret     string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	VerificationTokenTTL time.Duration
	BcryptCost           int

	// Blockchain（NodeURLとContractAddressが揃った場合のみ有効）
	BlockchainNodeURL    string
	TokenContractAddress string
	AdminPrivateKey      string
	ChainTimeout         time.Duration

	// Mail（SendGridAPIKeyが未設定の場合はログ出力のみ）
	SendGridAPIKey string
	MailFrom       string
	MailTimeout    time.Duration
	AppBaseURL     string

	// Rate Limit
	RateLimitGeneral       int
	RateLimitGeneralWindow time.Duration
	RateLimitAuth          int
	RateLimitAuthWindow    time.Duration

	// Worker
	CleanupInterval time.Duration

	// Server
	Port            string
	ShutdownTimeout time.Duration

	// CORS
	CORSAllowedOrigin string
}

// ChainEnabled はオンチェーン残高の参照が設定されているかを返す。
func (c *Config) ChainEnabled() bool {
	return c.BlockchainNodeURL != "" && c.TokenContractAddress != ""
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Debug("loaded environment file", slog.String("path", path))
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.JWTRefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	if cfg.JWTRefreshSecret == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.JWTSecret == cfg.JWTRefreshSecret {
		return nil, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.DBTimeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)
	cfg.RedisTimeout = getEnvDuration("REDIS_TIMEOUT", 2*time.Second)

	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", time.Hour)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	cfg.VerificationTokenTTL = getEnvDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)

	cfg.BlockchainNodeURL = os.Getenv("BLOCKCHAIN_NODE_URL")
	cfg.TokenContractAddress = os.Getenv("TOKEN_CONTRACT_ADDRESS")
	cfg.AdminPrivateKey = strings.TrimPrefix(os.Getenv("ADMIN_PRIVATE_KEY"), "0x")
	cfg.ChainTimeout = getEnvDuration("CHAIN_TIMEOUT", 10*time.Second)

	cfg.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@localhost")
	cfg.MailTimeout = getEnvDuration("MAIL_TIMEOUT", 10*time.Second)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 100)
	cfg.RateLimitGeneralWindow = getEnvDuration("RATE_LIMIT_GENERAL_WINDOW", 15*time.Minute)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RateLimitAuthWindow = getEnvDuration("RATE_LIMIT_AUTH_WINDOW", time.Minute)

	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)

	cfg.Port = getEnvString("PORT", "3000")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.AppBaseURL = strings.TrimRight(getEnvString("APP_BASE_URL", "http://localhost:"+cfg.Port), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default",
			slog.String("key", key),
			slog.Int("default", defaultVal),
		)
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment, using default",
			slog.String("key", key),
			slog.String("default", defaultVal.String()),
		)
		return defaultVal
	}
	return d
}
