package model

import "time"

// IdempotencyKey records a completed enqueue so a retried request with the
// same key replays the original result instead of dispatching twice. Keys
// are scoped per campaign.
type IdempotencyKey struct {
	CampaignID  int64     `db:"campaign_id" json:"campaign_id"`
	Key         string    `db:"key" json:"key"`
	QueuedCount int       `db:"queued_count" json:"queued_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
