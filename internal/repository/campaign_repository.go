package repository

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/astronote/astronote-backend/internal/errors"
	"github.com/astronote/astronote-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	GetByIDForOwner(ctx context.Context, id, ownerID int64) (*model.Campaign, error)

	// State transitions. All are compare-and-set on the current status and
	// report whether this caller won the transition.
	MarkSending(ctx context.Context, id int64, from model.CampaignStatus) (bool, error)
	TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error)
	Finalize(ctx context.Context, id int64, to model.CampaignStatus, sent, failed int) (bool, error)

	SetTotals(ctx context.Context, id int64, total int) error
	UpdateAggregates(ctx context.Context, id int64, sent, failed int) error
	ResetAfterFailedEnqueue(ctx context.Context, id int64, to model.CampaignStatus) error

	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
	ListSending(ctx context.Context) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, owner_id, name, message_text, status, total, sent, failed,
	scheduled_at, started_at, finished_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.MessageText, &c.Status,
		&c.Total, &c.Sent, &c.Failed,
		&c.ScheduledAt, &c.StartedAt, &c.FinishedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) GetByIDForOwner(ctx context.Context, id, ownerID int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1 AND owner_id=$2`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	return c, err
}

// MarkSending claims the campaign for dispatch. The status predicate makes
// concurrent enqueues race safely: exactly one caller sees a rows-affected
// of 1.
func (r *CampaignRepository) MarkSending(ctx context.Context, id int64, from model.CampaignStatus) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$1, started_at=NOW(), updated_at=NOW()
		WHERE id=$2 AND status=$3
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignSending, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := r.DB.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Finalize closes out a sending campaign and stamps finished_at. Only one
// of the workers racing to finalize wins; the rest see false and move on.
func (r *CampaignRepository) Finalize(ctx context.Context, id int64, to model.CampaignStatus, sent, failed int) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$1, sent=$2, failed=$3, finished_at=NOW(), updated_at=NOW()
		WHERE id=$4 AND status=$5
	`
	res, err := r.DB.ExecContext(ctx, query, to, sent, failed, id, model.CampaignSending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *CampaignRepository) SetTotals(ctx context.Context, id int64, total int) error {
	query := `UPDATE campaigns SET total=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, total, id)
	return err
}

func (r *CampaignRepository) UpdateAggregates(ctx context.Context, id int64, sent, failed int) error {
	query := `UPDATE campaigns SET sent=$1, failed=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, sent, failed, id)
	return err
}

// ResetAfterFailedEnqueue rolls a campaign back out of sending when the
// enqueue pipeline failed before any job reached the queue.
func (r *CampaignRepository) ResetAfterFailedEnqueue(ctx context.Context, id int64, to model.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status=$1, total=0, started_at=NULL, updated_at=NOW()
		WHERE id=$2 AND status=$3
	`
	_, err := r.DB.ExecContext(ctx, query, to, id, model.CampaignSending)
	return err
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
	`
	return r.listCampaigns(ctx, query, model.CampaignScheduled, now, limit)
}

func (r *CampaignRepository) ListSending(ctx context.Context) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY id`
	return r.listCampaigns(ctx, query, model.CampaignSending)
}

func (r *CampaignRepository) listCampaigns(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
