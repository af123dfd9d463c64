package model

import "time"

// CampaignStatus is the campaign lifecycle state.
//
// draft -> scheduled -> sending -> completed
// paused is reachable from scheduled, failed from sending.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignPaused    CampaignStatus = "paused"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Admissible reports whether a campaign in this status may be enqueued.
func (s CampaignStatus) Admissible() bool {
	return s == CampaignDraft || s == CampaignScheduled || s == CampaignPaused
}

// Terminal reports whether the campaign has finished.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

type Campaign struct {
	ID          int64          `db:"id" json:"id"`
	OwnerID     int64          `db:"owner_id" json:"owner_id"`
	Name        string         `db:"name" json:"name"`
	MessageText string         `db:"message_text" json:"message_text"`
	Status      CampaignStatus `db:"status" json:"status"`
	Total       int            `db:"total" json:"total"`
	Sent        int            `db:"sent" json:"sent"`
	Failed      int            `db:"failed" json:"failed"`
	ScheduledAt *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}
