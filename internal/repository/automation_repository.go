package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/astronote/astronote-backend/internal/model"
)

type AutomationRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Automation, error)
	ListActiveByTrigger(ctx context.Context, ownerID int64, trigger model.AutomationTrigger) ([]*model.Automation, error)
	// OwnersWithActive lists every owner that has at least one active
	// automation, so the pollers skip tenants with nothing to do.
	OwnersWithActive(ctx context.Context) ([]int64, error)
	IncrementTriggered(ctx context.Context, id int64) error

	ListOrderEventsAfter(ctx context.Context, ownerID int64, after time.Time, limit int) ([]*model.OrderEvent, error)

	GetCheckpoint(ctx context.Context, ownerID int64, kind string) (time.Time, error)
	SetCheckpoint(ctx context.Context, ownerID int64, kind string, at time.Time) error
}

type AutomationRepository struct {
	DB *sql.DB
}

const automationColumns = `id, owner_id, name, trigger, message_text, active, triggered_count, created_at`

func scanAutomation(row interface{ Scan(...any) error }) (*model.Automation, error) {
	var a model.Automation
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Trigger, &a.MessageText,
		&a.Active, &a.TriggeredCount, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AutomationRepository) GetByID(ctx context.Context, id int64) (*model.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id=$1`
	a, err := scanAutomation(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *AutomationRepository) ListActiveByTrigger(ctx context.Context, ownerID int64, trigger model.AutomationTrigger) ([]*model.Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE owner_id=$1 AND trigger=$2 AND active=TRUE
		ORDER BY id
	`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, trigger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AutomationRepository) OwnersWithActive(ctx context.Context) ([]int64, error) {
	query := `SELECT DISTINCT owner_id FROM automations WHERE active=TRUE ORDER BY owner_id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *AutomationRepository) IncrementTriggered(ctx context.Context, id int64) error {
	query := `UPDATE automations SET triggered_count=triggered_count+1 WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

func (r *AutomationRepository) ListOrderEventsAfter(ctx context.Context, ownerID int64, after time.Time, limit int) ([]*model.OrderEvent, error) {
	query := `
		SELECT id, owner_id, contact_id, kind, occurred_at
		FROM order_events
		WHERE owner_id=$1 AND occurred_at > $2
		ORDER BY occurred_at
		LIMIT $3
	`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.OrderEvent
	for rows.Next() {
		var e model.OrderEvent
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.ContactID, &e.Kind, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetCheckpoint returns the zero time when no checkpoint row exists yet;
// the poller treats that as "start from now" rather than replaying history.
func (r *AutomationRepository) GetCheckpoint(ctx context.Context, ownerID int64, kind string) (time.Time, error) {
	query := `SELECT last_seen_at FROM automation_checkpoints WHERE owner_id=$1 AND kind=$2`
	var at time.Time
	err := r.DB.QueryRowContext(ctx, query, ownerID, kind).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return at, err
}

func (r *AutomationRepository) SetCheckpoint(ctx context.Context, ownerID int64, kind string, at time.Time) error {
	query := `
		INSERT INTO automation_checkpoints (owner_id, kind, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, kind) DO UPDATE SET last_seen_at=EXCLUDED.last_seen_at
	`
	_, err := r.DB.ExecContext(ctx, query, ownerID, kind, at)
	return err
}

var _ AutomationRepositoryInterface = (*AutomationRepository)(nil)
