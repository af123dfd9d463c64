package queue

import (
	"fmt"
	"time"
)

// Logical queue names. SendQueue carries one job per recipient message;
// SchedulerQueue carries coarse periodic tasks and automation triggers.
const (
	SendQueue      = "sms.send"
	SchedulerQueue = "sms.scheduler"
)

// Scheduler task names.
const (
	TaskCampaignCheck = "campaign-check"
	TaskPollDelivery  = "poll-delivery"
	TaskReconcile     = "reconcile"
)

// Kind discriminates the payload variant.
type Kind string

const (
	KindSend       Kind = "send"
	KindAutomation Kind = "automation"
	KindTask       Kind = "task"
)

// SendJob addresses one campaign or automation message to dispatch.
type SendJob struct {
	MessageID  int64  `json:"message_id"`
	CampaignID *int64 `json:"campaign_id,omitempty"`
	ContactID  int64  `json:"contact_id"`
}

// AutomationTriggerJob is one qualifying contact event for an automation.
type AutomationTriggerJob struct {
	AutomationID int64     `json:"automation_id"`
	ContactID    int64     `json:"contact_id"`
	Event        string    `json:"event"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// SchedulerTask is a coarse periodic trigger. CampaignID is set for
// campaign-scoped tasks (campaign-check) and zero for fleet-wide ones.
type SchedulerTask struct {
	Name       string `json:"name"`
	CampaignID int64  `json:"campaign_id,omitempty"`
}

// Payload is the tagged union carried by every job. Exactly one variant
// is set, matching Kind; consumers dispatch exhaustively on Kind.
type Payload struct {
	Kind       Kind                  `json:"kind"`
	Send       *SendJob              `json:"send,omitempty"`
	Automation *AutomationTriggerJob `json:"automation,omitempty"`
	Task       *SchedulerTask        `json:"task,omitempty"`
}

func NewSendJob(messageID int64, campaignID *int64, contactID int64) Payload {
	return Payload{Kind: KindSend, Send: &SendJob{MessageID: messageID, CampaignID: campaignID, ContactID: contactID}}
}

func NewAutomationTrigger(automationID, contactID int64, event string, occurredAt time.Time) Payload {
	return Payload{Kind: KindAutomation, Automation: &AutomationTriggerJob{
		AutomationID: automationID,
		ContactID:    contactID,
		Event:        event,
		OccurredAt:   occurredAt,
	}}
}

func NewTask(name string, campaignID int64) Payload {
	return Payload{Kind: KindTask, Task: &SchedulerTask{Name: name, CampaignID: campaignID}}
}

// Validate checks that exactly the variant named by Kind is present.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindSend:
		if p.Send == nil || p.Automation != nil || p.Task != nil {
			return fmt.Errorf("payload kind %q does not match variant", p.Kind)
		}
	case KindAutomation:
		if p.Automation == nil || p.Send != nil || p.Task != nil {
			return fmt.Errorf("payload kind %q does not match variant", p.Kind)
		}
	case KindTask:
		if p.Task == nil || p.Send != nil || p.Automation != nil {
			return fmt.Errorf("payload kind %q does not match variant", p.Kind)
		}
	default:
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}
	return nil
}
