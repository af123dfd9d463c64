package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/astronote/astronote-backend/internal/errors"
	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memCampaigns struct {
	mu   sync.Mutex
	rows map[int64]*model.Campaign
}

func newMemCampaigns(cs ...*model.Campaign) *memCampaigns {
	m := &memCampaigns{rows: make(map[int64]*model.Campaign)}
	for _, c := range cs {
		m.rows[c.ID] = c
	}
	return m
}

func (r *memCampaigns) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaigns) GetByIDForOwner(ctx context.Context, id, ownerID int64) (*model.Campaign, error) {
	return r.GetByID(ctx, id)
}

func (r *memCampaigns) MarkSending(ctx context.Context, id int64, from model.CampaignStatus) (bool, error) {
	return r.TransitionStatus(ctx, id, from, model.CampaignSending)
}

func (r *memCampaigns) TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *memCampaigns) Finalize(ctx context.Context, id int64, to model.CampaignStatus, sent, failed int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok || c.Status != model.CampaignSending {
		return false, nil
	}
	now := time.Now()
	c.Status = to
	c.Sent = sent
	c.Failed = failed
	c.FinishedAt = &now
	return true, nil
}

func (r *memCampaigns) SetTotals(ctx context.Context, id int64, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.rows[id]; ok {
		c.Total = total
	}
	return nil
}

func (r *memCampaigns) UpdateAggregates(ctx context.Context, id int64, sent, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.rows[id]; ok {
		c.Sent = sent
		c.Failed = failed
	}
	return nil
}

func (r *memCampaigns) ResetAfterFailedEnqueue(ctx context.Context, id int64, to model.CampaignStatus) error {
	return nil
}

func (r *memCampaigns) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	return nil, nil
}

func (r *memCampaigns) ListSending(ctx context.Context) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.rows {
		if c.Status == model.CampaignSending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memMessages struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.CampaignMessage
}

func newMemMessages(msgs ...*model.CampaignMessage) *memMessages {
	m := &memMessages{rows: make(map[int64]*model.CampaignMessage)}
	for _, msg := range msgs {
		if msg.ID == 0 {
			m.nextID++
			msg.ID = m.nextID
		} else if msg.ID > m.nextID {
			m.nextID = msg.ID
		}
		if msg.UpdatedAt.IsZero() {
			msg.UpdatedAt = time.Now()
		}
		m.rows[msg.ID] = msg
	}
	return m
}

func (r *memMessages) Create(ctx context.Context, m *model.CampaignMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m.ID = r.nextID
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	r.rows[m.ID] = &cp
	return nil
}

func (r *memMessages) BulkCreate(ctx context.Context, msgs []*model.CampaignMessage) error {
	for _, m := range msgs {
		if err := r.Create(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *memMessages) GetByID(ctx context.Context, id int64) (*model.CampaignMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *memMessages) ClaimForSend(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != model.MessageQueued || m.ProviderMessageID != nil {
		return false, nil
	}
	m.Status = model.MessageSending
	m.Attempts++
	m.UpdatedAt = time.Now()
	return true, nil
}

func (r *memMessages) ReleaseClaim(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok && m.Status == model.MessageSending {
		m.Status = model.MessageQueued
	}
	return nil
}

func (r *memMessages) MarkSent(ctx context.Context, id int64, providerMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok {
		now := time.Now()
		m.Status = model.MessageSent
		m.ProviderMessageID = &providerMessageID
		m.SentAt = &now
	}
	return nil
}

func (r *memMessages) MarkFailed(ctx context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok {
		now := time.Now()
		m.Status = model.MessageFailed
		m.Error = reason
		m.FailedAt = &now
	}
	return nil
}

func (r *memMessages) MarkDelivered(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok && m.Status == model.MessageSent {
		now := time.Now()
		m.Status = model.MessageDelivered
		m.DeliveredAt = &now
	}
	return nil
}

func (r *memMessages) CountsForCampaign(ctx context.Context, campaignID int64) (model.MessageCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c model.MessageCounts
	for _, m := range r.rows {
		if m.CampaignID == nil || *m.CampaignID != campaignID {
			continue
		}
		switch m.Status {
		case model.MessageQueued:
			c.Queued++
		case model.MessageSending:
			c.Sending++
		case model.MessageSent, model.MessageDelivered:
			c.Sent++
		case model.MessageFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (r *memMessages) ListSentForPoll(ctx context.Context, olderThan time.Duration, limit int) ([]*model.CampaignMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*model.CampaignMessage
	for _, m := range r.rows {
		if m.Status == model.MessageSent && m.ProviderMessageID != nil &&
			m.SentAt != nil && !m.SentAt.After(cutoff) {
			cp := *m
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memMessages) FailQueuedForCampaign(ctx context.Context, campaignID int64, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.rows {
		if m.CampaignID != nil && *m.CampaignID == campaignID && m.Status == model.MessageQueued {
			m.Status = model.MessageFailed
			m.Error = reason
			n++
		}
	}
	return n, nil
}

func (r *memMessages) FailStuckSending(ctx context.Context, stuckAfter time.Duration, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-stuckAfter)
	n := 0
	for _, m := range r.rows {
		if m.Status == model.MessageSending && !m.UpdatedAt.After(cutoff) {
			m.Status = model.MessageFailed
			m.Error = reason
			n++
		}
	}
	return n, nil
}

func (r *memMessages) DeleteByCampaign(ctx context.Context, campaignID int64) error {
	return nil
}

type memContacts struct {
	contacts []*model.Contact
}

func (r *memContacts) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	for _, c := range r.contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *memContacts) ListSubscribed(ctx context.Context, ownerID int64) ([]*model.Contact, error) {
	return nil, nil
}

func (r *memContacts) ListCreatedAfter(ctx context.Context, ownerID int64, after time.Time) ([]*model.Contact, error) {
	return nil, nil
}

func (r *memContacts) ListBirthdayCandidates(ctx context.Context, ownerID int64, month time.Month, day int) ([]*model.Contact, error) {
	return nil, nil
}

func (r *memContacts) GetOwnerSettings(ctx context.Context, ownerID int64) (*model.OwnerSettings, error) {
	return nil, nil
}

type memAutomations struct {
	mu   sync.Mutex
	rows map[int64]*model.Automation
}

func newMemAutomations(as ...*model.Automation) *memAutomations {
	m := &memAutomations{rows: make(map[int64]*model.Automation)}
	for _, a := range as {
		m.rows[a.ID] = a
	}
	return m
}

func (r *memAutomations) GetByID(ctx context.Context, id int64) (*model.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *memAutomations) ListActiveByTrigger(ctx context.Context, ownerID int64, trigger model.AutomationTrigger) ([]*model.Automation, error) {
	return nil, nil
}

func (r *memAutomations) OwnersWithActive(ctx context.Context) ([]int64, error) {
	return nil, nil
}

func (r *memAutomations) IncrementTriggered(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		a.TriggeredCount++
	}
	return nil
}

func (r *memAutomations) ListOrderEventsAfter(ctx context.Context, ownerID int64, after time.Time, limit int) ([]*model.OrderEvent, error) {
	return nil, nil
}

func (r *memAutomations) GetCheckpoint(ctx context.Context, ownerID int64, kind string) (time.Time, error) {
	return time.Time{}, nil
}

func (r *memAutomations) SetCheckpoint(ctx context.Context, ownerID int64, kind string, at time.Time) error {
	return nil
}

// captureQueue records enqueued payloads without consuming them.
type captureQueue struct {
	mu       sync.Mutex
	payloads []queue.Payload
	depth    int
}

func (q *captureQueue) Enqueue(ctx context.Context, queueName string, p queue.Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return nil
}

func (q *captureQueue) Consume(ctx context.Context, queueName string, concurrency int, h queue.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (q *captureQueue) Depth(ctx context.Context, queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth, nil
}

func (q *captureQueue) Close() error { return nil }

func (q *captureQueue) tasks(name string) []queue.Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Payload
	for _, p := range q.payloads {
		if p.Kind == queue.KindTask && p.Task.Name == name {
			out = append(out, p)
		}
	}
	return out
}

type memIdempotency struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *memIdempotency) Get(ctx context.Context, campaignID int64, key string) (*model.IdempotencyKey, error) {
	return nil, nil
}

func (f *memIdempotency) Put(ctx context.Context, rec *model.IdempotencyKey) error { return nil }

func (f *memIdempotency) Delete(ctx context.Context, campaignID int64, key string) error { return nil }

func (f *memIdempotency) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, nil
}

func (f *memIdempotency) pruneCutoffs() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.cutoffs...)
}

type fakeCron struct {
	mu      sync.Mutex
	starts  int
	running bool
}

func (f *fakeCron) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.running = true
	return nil
}

func (f *fakeCron) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeCron) active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCron) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func campaignRef(id int64) *int64 { return &id }

func queuedMessage(id, campaignID int64, to string) *model.CampaignMessage {
	return &model.CampaignMessage{
		ID: id, OwnerID: 1, CampaignID: campaignRef(campaignID), ContactID: id,
		To: to, Body: fmt.Sprintf("hello %d", id), Status: model.MessageQueued,
	}
}

var (
	_ repository.CampaignRepositoryInterface    = (*memCampaigns)(nil)
	_ repository.MessageRepositoryInterface     = (*memMessages)(nil)
	_ repository.ContactRepositoryInterface     = (*memContacts)(nil)
	_ repository.AutomationRepositoryInterface  = (*memAutomations)(nil)
	_ repository.IdempotencyRepositoryInterface = (*memIdempotency)(nil)
	_ queue.Queue                               = (*captureQueue)(nil)
	_ CronRunner                                = (*fakeCron)(nil)
)
