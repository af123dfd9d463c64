package model

import "time"

// AutomationTrigger names the contact/order event an automation fires on.
type AutomationTrigger string

const (
	TriggerWelcome        AutomationTrigger = "welcome"
	TriggerBirthday       AutomationTrigger = "birthday"
	TriggerOrderPlaced    AutomationTrigger = "order_placed"
	TriggerOrderFulfilled AutomationTrigger = "order_fulfilled"
)

// Automation is a standing rule that sends on events rather than a manual
// batch. The dispatch core reads it and bumps TriggeredCount; everything
// else belongs to the authoring flow.
type Automation struct {
	ID             int64             `db:"id" json:"id"`
	OwnerID        int64             `db:"owner_id" json:"owner_id"`
	Name           string            `db:"name" json:"name"`
	Trigger        AutomationTrigger `db:"trigger" json:"trigger"`
	MessageText    string            `db:"message_text" json:"message_text"`
	Active         bool              `db:"active" json:"active"`
	TriggeredCount int64             `db:"triggered_count" json:"triggered_count"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// OrderEvent is a qualifying contact order event picked up by the
// automation poller.
type OrderEvent struct {
	ID         int64             `db:"id" json:"id"`
	OwnerID    int64             `db:"owner_id" json:"owner_id"`
	ContactID  int64             `db:"contact_id" json:"contact_id"`
	Kind       AutomationTrigger `db:"kind" json:"kind"`
	OccurredAt time.Time         `db:"occurred_at" json:"occurred_at"`
}
