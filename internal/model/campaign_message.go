package model

import "time"

// MessageStatus is the per-recipient delivery state.
//
// queued -> sending -> sent -> delivered
// failed is reachable from sending (terminal send failure) and from sent
// (provider-reported delivery failure).
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// Terminal reports whether no worker will touch this message again.
func (s MessageStatus) Terminal() bool {
	return s == MessageDelivered || s == MessageFailed
}

// CampaignMessage is one per-recipient unit of work. Exactly one of
// CampaignID / AutomationID is set: campaign batch sends carry the former,
// automation-triggered sends the latter.
type CampaignMessage struct {
	ID                int64         `db:"id" json:"id"`
	OwnerID           int64         `db:"owner_id" json:"owner_id"`
	CampaignID        *int64        `db:"campaign_id" json:"campaign_id,omitempty"`
	AutomationID      *int64        `db:"automation_id" json:"automation_id,omitempty"`
	ContactID         int64         `db:"contact_id" json:"contact_id"`
	To                string        `db:"to_phone" json:"to"`
	Body              string        `db:"body" json:"body"`
	Status            MessageStatus `db:"status" json:"status"`
	ProviderMessageID *string       `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Error             string        `db:"error" json:"error,omitempty"`
	Attempts          int           `db:"attempts" json:"attempts"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	FailedAt          *time.Time    `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// MessageCounts aggregates per-status message counts for one campaign.
// Sent includes delivered: delivery confirmation refines a sent message,
// it does not un-send it.
type MessageCounts struct {
	Queued  int `json:"queued"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Processed is the number of messages in a terminal outcome.
func (c MessageCounts) Processed() int { return c.Sent + c.Failed }
