package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/insan/internal/model"
)

// PostgresWalletRepo はPostgreSQLを使用したウォレットリポジトリ。
type PostgresWalletRepo struct {
	db *sql.DB
}

// NewPostgresWalletRepo はPostgresWalletRepoを生成する。
func NewPostgresWalletRepo(db *sql.DB) *PostgresWalletRepo {
	return &PostgresWalletRepo{db: db}
}

// FindByUserID はユーザーのウォレットを取得する。見つからない場合はnilを返す。
func (r *PostgresWalletRepo) FindByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet := &model.Wallet{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, address, balance::text, created_at FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&wallet.ID, &wallet.UserID, &wallet.Address, &wallet.Balance, &wallet.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}

	return wallet, nil
}

// PostgresUserLevelRepo はPostgreSQLを使用したユーザーレベルリポジトリ。
type PostgresUserLevelRepo struct {
	db *sql.DB
}

// NewPostgresUserLevelRepo はPostgresUserLevelRepoを生成する。
func NewPostgresUserLevelRepo(db *sql.DB) *PostgresUserLevelRepo {
	return &PostgresUserLevelRepo{db: db}
}

// FindByUserID はユーザーのレベルを取得する。見つからない場合はnilを返す。
func (r *PostgresUserLevelRepo) FindByUserID(ctx context.Context, userID string) (*model.UserLevel, error) {
	level := &model.UserLevel{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, level, experience, created_at FROM user_levels WHERE user_id = $1`,
		userID,
	).Scan(&level.ID, &level.UserID, &level.Level, &level.Experience, &level.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user level: %w", err)
	}

	return level, nil
}

// compile-time interface check
var (
	_ WalletRepository    = (*PostgresWalletRepo)(nil)
	_ UserLevelRepository = (*PostgresUserLevelRepo)(nil)
)
