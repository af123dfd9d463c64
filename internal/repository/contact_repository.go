package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/astronote/astronote-backend/internal/model"
)

type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Contact, error)
	ListSubscribed(ctx context.Context, ownerID int64) ([]*model.Contact, error)
	ListCreatedAfter(ctx context.Context, ownerID int64, after time.Time) ([]*model.Contact, error)
	// ListBirthdayCandidates returns subscribed contacts whose birth month
	// and day match for the given owner. Timezone math happens in the
	// scheduler, which knows the owner's local date.
	ListBirthdayCandidates(ctx context.Context, ownerID int64, month time.Month, day int) ([]*model.Contact, error)
	GetOwnerSettings(ctx context.Context, ownerID int64) (*model.OwnerSettings, error)
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, owner_id, phone, first_name, last_name, subscribed, birth_date, created_at`

func scanContact(row interface{ Scan(...any) error }) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.OwnerID, &c.Phone, &c.FirstName, &c.LastName,
		&c.Subscribed, &c.BirthDate, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id=$1`
	c, err := scanContact(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ContactRepository) ListSubscribed(ctx context.Context, ownerID int64) ([]*model.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE owner_id=$1 AND subscribed=TRUE
		ORDER BY id
	`
	return r.listContacts(ctx, query, ownerID)
}

func (r *ContactRepository) ListCreatedAfter(ctx context.Context, ownerID int64, after time.Time) ([]*model.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE owner_id=$1 AND subscribed=TRUE AND created_at > $2
		ORDER BY created_at
	`
	return r.listContacts(ctx, query, ownerID, after)
}

func (r *ContactRepository) ListBirthdayCandidates(ctx context.Context, ownerID int64, month time.Month, day int) ([]*model.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE owner_id=$1 AND subscribed=TRUE AND birth_date IS NOT NULL
			AND EXTRACT(MONTH FROM birth_date)=$2 AND EXTRACT(DAY FROM birth_date)=$3
		ORDER BY id
	`
	return r.listContacts(ctx, query, ownerID, int(month), day)
}

func (r *ContactRepository) GetOwnerSettings(ctx context.Context, ownerID int64) (*model.OwnerSettings, error) {
	query := `SELECT owner_id, timezone, credits FROM owner_settings WHERE owner_id=$1`
	var s model.OwnerSettings
	err := r.DB.QueryRowContext(ctx, query, ownerID).Scan(&s.OwnerID, &s.Timezone, &s.Credits)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ContactRepository) listContacts(ctx context.Context, query string, args ...any) ([]*model.Contact, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
