package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/astronote/astronote-backend/internal/model"
)

type IdempotencyRepositoryInterface interface {
	Get(ctx context.Context, campaignID int64, key string) (*model.IdempotencyKey, error)
	Put(ctx context.Context, rec *model.IdempotencyKey) error
	Delete(ctx context.Context, campaignID int64, key string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type IdempotencyRepository struct {
	DB *sql.DB
}

func (r *IdempotencyRepository) Get(ctx context.Context, campaignID int64, key string) (*model.IdempotencyKey, error) {
	query := `
		SELECT campaign_id, key, queued_count, created_at
		FROM idempotency_keys
		WHERE campaign_id=$1 AND key=$2
	`
	var rec model.IdempotencyKey
	err := r.DB.QueryRowContext(ctx, query, campaignID, key).Scan(
		&rec.CampaignID, &rec.Key, &rec.QueuedCount, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *IdempotencyRepository) Put(ctx context.Context, rec *model.IdempotencyKey) error {
	query := `
		INSERT INTO idempotency_keys (campaign_id, key, queued_count, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (campaign_id, key) DO NOTHING
	`
	_, err := r.DB.ExecContext(ctx, query, rec.CampaignID, rec.Key, rec.QueuedCount)
	return err
}

func (r *IdempotencyRepository) Delete(ctx context.Context, campaignID int64, key string) error {
	query := `DELETE FROM idempotency_keys WHERE campaign_id=$1 AND key=$2`
	_, err := r.DB.ExecContext(ctx, query, campaignID, key)
	return err
}

// DeleteOlderThan prunes keys past their useful life. Server-minted launch
// keys are single-use, so without pruning the table grows by one row per
// scheduler pass forever.
func (r *IdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ IdempotencyRepositoryInterface = (*IdempotencyRepository)(nil)
