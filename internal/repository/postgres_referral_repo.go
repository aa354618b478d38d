package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/insan/internal/model"
)

// PostgresReferralRepo はPostgreSQLを使用した紹介レコードリポジトリ。
type PostgresReferralRepo struct {
	db *sql.DB
}

// NewPostgresReferralRepo はPostgresReferralRepoを生成する。
func NewPostgresReferralRepo(db *sql.DB) *PostgresReferralRepo {
	return &PostgresReferralRepo{db: db}
}

// ListByReferrerID は指定ユーザーが紹介した紹介レコードを新しい順に返す。
func (r *PostgresReferralRepo) ListByReferrerID(ctx context.Context, referrerID string) ([]*model.Referral, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, referrer_id, referred_id, status, created_at
		 FROM referrals
		 WHERE referrer_id = $1
		 ORDER BY created_at DESC`,
		referrerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	var referrals []*model.Referral
	for rows.Next() {
		ref := &model.Referral{}
		var status string
		if err := rows.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredID, &status, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		ref.Status = model.ReferralStatus(status)
		referrals = append(referrals, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate referrals: %w", err)
	}

	return referrals, nil
}

// compile-time interface check
var _ ReferralRepository = (*PostgresReferralRepo)(nil)
