package model

import "time"

type Contact struct {
	ID         int64      `db:"id" json:"id"`
	OwnerID    int64      `db:"owner_id" json:"owner_id"`
	Phone      string     `db:"phone" json:"phone"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	Subscribed bool       `db:"subscribed" json:"subscribed"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// OwnerSettings carries the per-tenant values the dispatch core reads:
// the timezone used by the birthday scheduler and the SMS credit balance
// consulted by the billing gate.
type OwnerSettings struct {
	OwnerID  int64  `db:"owner_id" json:"owner_id"`
	Timezone string `db:"timezone" json:"timezone"`
	Credits  int64  `db:"credits" json:"credits"`
}
