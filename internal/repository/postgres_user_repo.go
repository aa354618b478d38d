package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/insan/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID はプロフィール表示用の全項目を取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, phone, first_name, last_name, country,
		        birth_date, avatar_url, referral_code, created_at, last_login
		 FROM users WHERE id = $1`,
		id,
	).Scan(
		&user.ID, &user.Email, &user.Phone, &user.FirstName, &user.LastName, &user.Country,
		&user.BirthDate, &user.AvatarURL, &user.ReferralCode, &user.CreatedAt, &user.LastLogin,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindByEmail は認証に必要な項目を含めてユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, verification_token, email_verified
		 FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.VerificationToken, &user.EmailVerified)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

// FindByReferralCode は紹介コードからユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByReferralCode(ctx context.Context, code string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, referral_code FROM users WHERE referral_code = $1`,
		code,
	).Scan(&user.ID, &user.Email, &user.ReferralCode)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by referral code: %w", err)
	}

	return user, nil
}

// CreateWithAccount はユーザーと付随レコードを同一トランザクションで作成する。
// 作成後のcreated_atはuserに書き戻す。
func (r *PostgresUserRepo) CreateWithAccount(
	ctx context.Context,
	user *model.User,
	wallet *model.Wallet,
	level *model.UserLevel,
	referral *model.Referral,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (id, email, phone, password_hash, referral_code, referred_by, verification_token)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		user.ID, user.Email, user.Phone, user.PasswordHash, user.ReferralCode, user.ReferredBy, user.VerificationToken,
	).Scan(&user.CreatedAt)
	if err != nil {
		if classified := classifyUniqueViolation(err); classified != err {
			return classified
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// ウォレットを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO wallets (id, user_id) VALUES ($1, $2)`,
		wallet.ID, wallet.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}

	// レベルを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_levels (id, user_id) VALUES ($1, $2)`,
		level.ID, level.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user level: %w", err)
	}

	// 紹介レコードを作成
	if referral != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO referrals (id, referrer_id, referred_id, status) VALUES ($1, $2, $3, $4)`,
			referral.ID, referral.ReferrerID, referral.ReferredID, string(referral.Status),
		)
		if err != nil {
			return fmt.Errorf("failed to insert referral: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// MarkEmailVerified はメール確認済みにし、確認トークンを破棄する。
func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE, verification_token = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
