package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/astronote/astronote-backend/internal/errors"
	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
)

type fakeCampaigns struct {
	mu        sync.Mutex
	campaigns map[int64]*model.Campaign
}

func newFakeCampaigns(cs ...*model.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{campaigns: make(map[int64]*model.Campaign)}
	for _, c := range cs {
		f.campaigns[c.ID] = c
	}
	return f
}

func (f *fakeCampaigns) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaigns) GetByIDForOwner(ctx context.Context, id, ownerID int64) (*model.Campaign, error) {
	c, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (f *fakeCampaigns) MarkSending(ctx context.Context, id int64, from model.CampaignStatus) (bool, error) {
	return f.TransitionStatus(ctx, id, from, model.CampaignSending)
}

func (f *fakeCampaigns) TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if to == model.CampaignSending {
		now := time.Now()
		c.StartedAt = &now
	}
	return true, nil
}

func (f *fakeCampaigns) Finalize(ctx context.Context, id int64, to model.CampaignStatus, sent, failed int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
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

func (f *fakeCampaigns) SetTotals(ctx context.Context, id int64, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok {
		c.Total = total
	}
	return nil
}

func (f *fakeCampaigns) UpdateAggregates(ctx context.Context, id int64, sent, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok {
		c.Sent = sent
		c.Failed = failed
	}
	return nil
}

func (f *fakeCampaigns) ResetAfterFailedEnqueue(ctx context.Context, id int64, to model.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[id]; ok && c.Status == model.CampaignSending {
		c.Status = to
		c.Total = 0
		c.StartedAt = nil
	}
	return nil
}

func (f *fakeCampaigns) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Campaign
	for _, c := range f.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCampaigns) ListSending(ctx context.Context) ([]*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Campaign
	for _, c := range f.campaigns {
		if c.Status == model.CampaignSending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.CampaignMessage

	bulkCreateErr error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: make(map[int64]*model.CampaignMessage)}
}

func (f *fakeMessages) Create(ctx context.Context, m *model.CampaignMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	f.rows[m.ID] = &cp
	return nil
}

func (f *fakeMessages) BulkCreate(ctx context.Context, msgs []*model.CampaignMessage) error {
	if f.bulkCreateErr != nil {
		return f.bulkCreateErr
	}
	for _, m := range msgs {
		if err := f.Create(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMessages) GetByID(ctx context.Context, id int64) (*model.CampaignMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) ClaimForSend(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok || m.Status != model.MessageQueued || m.ProviderMessageID != nil {
		return false, nil
	}
	m.Status = model.MessageSending
	m.Attempts++
	return true, nil
}

func (f *fakeMessages) ReleaseClaim(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.rows[id]; ok && m.Status == model.MessageSending {
		m.Status = model.MessageQueued
	}
	return nil
}

func (f *fakeMessages) MarkSent(ctx context.Context, id int64, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.rows[id]; ok {
		now := time.Now()
		m.Status = model.MessageSent
		m.ProviderMessageID = &providerMessageID
		m.SentAt = &now
	}
	return nil
}

func (f *fakeMessages) MarkFailed(ctx context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.rows[id]; ok {
		now := time.Now()
		m.Status = model.MessageFailed
		m.Error = reason
		m.FailedAt = &now
	}
	return nil
}

func (f *fakeMessages) MarkDelivered(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.rows[id]; ok && m.Status == model.MessageSent {
		now := time.Now()
		m.Status = model.MessageDelivered
		m.DeliveredAt = &now
	}
	return nil
}

func (f *fakeMessages) CountsForCampaign(ctx context.Context, campaignID int64) (model.MessageCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c model.MessageCounts
	for _, m := range f.rows {
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

func (f *fakeMessages) ListSentForPoll(ctx context.Context, olderThan time.Duration, limit int) ([]*model.CampaignMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*model.CampaignMessage
	for _, m := range f.rows {
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

func (f *fakeMessages) FailQueuedForCampaign(ctx context.Context, campaignID int64, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.rows {
		if m.CampaignID != nil && *m.CampaignID == campaignID && m.Status == model.MessageQueued {
			now := time.Now()
			m.Status = model.MessageFailed
			m.Error = reason
			m.FailedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) FailStuckSending(ctx context.Context, stuckAfter time.Duration, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-stuckAfter)
	n := 0
	for _, m := range f.rows {
		if m.Status == model.MessageSending && !m.UpdatedAt.After(cutoff) {
			m.Status = model.MessageFailed
			m.Error = reason
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) DeleteByCampaign(ctx context.Context, campaignID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.rows {
		if m.CampaignID != nil && *m.CampaignID == campaignID {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeContacts struct {
	contacts []*model.Contact
	settings map[int64]*model.OwnerSettings
}

func (f *fakeContacts) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	for _, c := range f.contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeContacts) ListSubscribed(ctx context.Context, ownerID int64) ([]*model.Contact, error) {
	var out []*model.Contact
	for _, c := range f.contacts {
		if c.OwnerID == ownerID && c.Subscribed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContacts) ListCreatedAfter(ctx context.Context, ownerID int64, after time.Time) ([]*model.Contact, error) {
	var out []*model.Contact
	for _, c := range f.contacts {
		if c.OwnerID == ownerID && c.Subscribed && c.CreatedAt.After(after) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContacts) ListBirthdayCandidates(ctx context.Context, ownerID int64, month time.Month, day int) ([]*model.Contact, error) {
	var out []*model.Contact
	for _, c := range f.contacts {
		if c.OwnerID == ownerID && c.Subscribed && c.BirthDate != nil &&
			c.BirthDate.Month() == month && c.BirthDate.Day() == day {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContacts) GetOwnerSettings(ctx context.Context, ownerID int64) (*model.OwnerSettings, error) {
	if f.settings == nil {
		return nil, nil
	}
	return f.settings[ownerID], nil
}

type fakeIdempotency struct {
	mu   sync.Mutex
	rows map[string]*model.IdempotencyKey
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{rows: make(map[string]*model.IdempotencyKey)}
}

func idemMapKey(campaignID int64, key string) string {
	return fmt.Sprintf("%d/%s", campaignID, key)
}

func (f *fakeIdempotency) Get(ctx context.Context, campaignID int64, key string) (*model.IdempotencyKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[idemMapKey(campaignID, key)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeIdempotency) Put(ctx context.Context, rec *model.IdempotencyKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := idemMapKey(rec.CampaignID, rec.Key)
	if _, ok := f.rows[k]; ok {
		return nil
	}
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	f.rows[k] = &cp
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, campaignID int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, idemMapKey(campaignID, key))
	return nil
}

func (f *fakeIdempotency) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, rec := range f.rows {
		if rec.CreatedAt.Before(cutoff) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

// recordQueue captures enqueued payloads; FailAll simulates a broker outage.
type recordQueue struct {
	mu       sync.Mutex
	payloads []queue.Payload
	FailAll  bool
}

func (q *recordQueue) Enqueue(ctx context.Context, queueName string, p queue.Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailAll {
		return fmt.Errorf("broker unavailable")
	}
	q.payloads = append(q.payloads, p)
	return nil
}

func (q *recordQueue) Consume(ctx context.Context, queueName string, concurrency int, h queue.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (q *recordQueue) Depth(ctx context.Context, queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.payloads), nil
}

func (q *recordQueue) Close() error { return nil }

func (q *recordQueue) sendJobs() []queue.Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Payload
	for _, p := range q.payloads {
		if p.Kind == queue.KindSend {
			out = append(out, p)
		}
	}
	return out
}

type fakeGate struct {
	credits map[int64]int64
}

func (g *fakeGate) CanSend(ctx context.Context, ownerID int64, count int) error {
	balance := g.credits[ownerID]
	if balance < int64(count) {
		return apperrors.NewInsufficientCredits(ownerID, count, balance)
	}
	return nil
}

var (
	_ repository.CampaignRepositoryInterface    = (*fakeCampaigns)(nil)
	_ repository.MessageRepositoryInterface     = (*fakeMessages)(nil)
	_ repository.ContactRepositoryInterface     = (*fakeContacts)(nil)
	_ repository.IdempotencyRepositoryInterface = (*fakeIdempotency)(nil)
	_ queue.Queue                               = (*recordQueue)(nil)
)
