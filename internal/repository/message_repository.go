package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/astronote/astronote-backend/internal/model"
)

type MessageRepositoryInterface interface {
	Create(ctx context.Context, m *model.CampaignMessage) error
	BulkCreate(ctx context.Context, msgs []*model.CampaignMessage) error
	GetByID(ctx context.Context, id int64) (*model.CampaignMessage, error)

	// ClaimForSend moves a queued message to sending. It is the send
	// worker's idempotency barrier: a redelivered job whose message was
	// already claimed gets false and must not send again.
	ClaimForSend(ctx context.Context, id int64) (bool, error)
	ReleaseClaim(ctx context.Context, id int64) error

	MarkSent(ctx context.Context, id int64, providerMessageID string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	MarkDelivered(ctx context.Context, id int64) error

	CountsForCampaign(ctx context.Context, campaignID int64) (model.MessageCounts, error)
	ListSentForPoll(ctx context.Context, olderThan time.Duration, limit int) ([]*model.CampaignMessage, error)
	FailQueuedForCampaign(ctx context.Context, campaignID int64, reason string) (int, error)
	FailStuckSending(ctx context.Context, stuckAfter time.Duration, reason string) (int, error)
	DeleteByCampaign(ctx context.Context, campaignID int64) error
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, owner_id, campaign_id, automation_id, contact_id, to_phone, body,
	status, provider_message_id, error, attempts, sent_at, delivered_at, failed_at,
	created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.CampaignMessage, error) {
	var m model.CampaignMessage
	var errText sql.NullString
	err := row.Scan(&m.ID, &m.OwnerID, &m.CampaignID, &m.AutomationID, &m.ContactID,
		&m.To, &m.Body, &m.Status, &m.ProviderMessageID, &errText, &m.Attempts,
		&m.SentAt, &m.DeliveredAt, &m.FailedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Error = errText.String
	return &m, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.CampaignMessage) error {
	if m.Status == "" {
		m.Status = model.MessageQueued
	}
	query := `
		INSERT INTO campaign_messages
			(owner_id, campaign_id, automation_id, contact_id, to_phone, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, query,
		m.OwnerID, m.CampaignID, m.AutomationID, m.ContactID, m.To, m.Body, m.Status,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// BulkCreate inserts all rows in one statement and backfills the IDs in
// input order.
func (r *MessageRepository) BulkCreate(ctx context.Context, msgs []*model.CampaignMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO campaign_messages
		(owner_id, campaign_id, automation_id, contact_id, to_phone, body, status, created_at, updated_at) VALUES `)
	for i, m := range msgs {
		if m.Status == "" {
			m.Status = model.MessageQueued
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW(), NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, m.OwnerID, m.CampaignID, m.AutomationID, m.ContactID, m.To, m.Body, m.Status)
	}
	sb.WriteString(" RETURNING id")

	rows, err := r.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(msgs) {
			break
		}
		if err := rows.Scan(&msgs[i].ID); err != nil {
			return err
		}
		i++
	}
	return rows.Err()
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.CampaignMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages WHERE id=$1`
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *MessageRepository) ClaimForSend(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE campaign_messages
		SET status=$1, attempts=attempts+1, updated_at=NOW()
		WHERE id=$2 AND status=$3 AND provider_message_id IS NULL
	`
	res, err := r.DB.ExecContext(ctx, query, model.MessageSending, id, model.MessageQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseClaim puts a transiently failed message back to queued so a queue
// retry can claim it again.
func (r *MessageRepository) ReleaseClaim(ctx context.Context, id int64) error {
	query := `
		UPDATE campaign_messages SET status=$1, updated_at=NOW()
		WHERE id=$2 AND status=$3
	`
	_, err := r.DB.ExecContext(ctx, query, model.MessageQueued, id, model.MessageSending)
	return err
}

func (r *MessageRepository) MarkSent(ctx context.Context, id int64, providerMessageID string) error {
	query := `
		UPDATE campaign_messages
		SET status=$1, provider_message_id=$2, error='', sent_at=NOW(), updated_at=NOW()
		WHERE id=$3
	`
	_, err := r.DB.ExecContext(ctx, query, model.MessageSent, providerMessageID, id)
	return err
}

func (r *MessageRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE campaign_messages
		SET status=$1, error=$2, failed_at=NOW(), updated_at=NOW()
		WHERE id=$3
	`
	_, err := r.DB.ExecContext(ctx, query, model.MessageFailed, reason, id)
	return err
}

func (r *MessageRepository) MarkDelivered(ctx context.Context, id int64) error {
	query := `
		UPDATE campaign_messages
		SET status=$1, delivered_at=NOW(), updated_at=NOW()
		WHERE id=$2 AND status=$3
	`
	_, err := r.DB.ExecContext(ctx, query, model.MessageDelivered, id, model.MessageSent)
	return err
}

func (r *MessageRepository) CountsForCampaign(ctx context.Context, campaignID int64) (model.MessageCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'sending'),
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered')),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM campaign_messages
		WHERE campaign_id = $1
	`
	var c model.MessageCounts
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&c.Queued, &c.Sending, &c.Sent, &c.Failed)
	return c, err
}

// ListSentForPoll returns sent messages awaiting a delivery verdict, oldest
// first. The age floor keeps the poller from hammering the provider about
// messages it only just accepted.
func (r *MessageRepository) ListSentForPoll(ctx context.Context, olderThan time.Duration, limit int) ([]*model.CampaignMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM campaign_messages
		WHERE status=$1 AND provider_message_id IS NOT NULL AND sent_at <= $2
		ORDER BY sent_at
		LIMIT $3
	`
	rows, err := r.DB.QueryContext(ctx, query, model.MessageSent, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CampaignMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepository) FailQueuedForCampaign(ctx context.Context, campaignID int64, reason string) (int, error) {
	query := `
		UPDATE campaign_messages
		SET status=$1, error=$2, failed_at=NOW(), updated_at=NOW()
		WHERE campaign_id=$3 AND status=$4
	`
	res, err := r.DB.ExecContext(ctx, query, model.MessageFailed, reason, campaignID, model.MessageQueued)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *MessageRepository) FailStuckSending(ctx context.Context, stuckAfter time.Duration, reason string) (int, error) {
	query := `
		UPDATE campaign_messages
		SET status=$1, error=$2, failed_at=NOW(), updated_at=NOW()
		WHERE status=$3 AND updated_at <= $4
	`
	res, err := r.DB.ExecContext(ctx, query,
		model.MessageFailed, reason, model.MessageSending, time.Now().Add(-stuckAfter))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *MessageRepository) DeleteByCampaign(ctx context.Context, campaignID int64) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM campaign_messages WHERE campaign_id=$1`, campaignID)
	return err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
