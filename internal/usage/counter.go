package usage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Counter is the billing source of truth for how many distinct contacts an
// organization has ever tracked. Increments arrive only from the contact
// dedup path, exactly once per genuinely new canonical key; decrements only
// from audited resets.
type Counter interface {
	IncrementIfNew(ctx context.Context, orgID uint64) error
	Decrement(ctx context.Context, orgID uint64, reason, actor string) error
	CurrentCount(ctx context.Context, orgID uint64) (uint64, error)
	ResetHistory(ctx context.Context, orgID uint64) ([]ResetRecord, error)
}

// ResetRecord is one entry of an organization's audited reset history.
type ResetRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor"`
	Reason        string    `json:"reason"`
	PreviousCount uint64    `json:"previous_count"`
}

var (
	ErrOrganizationNotFound = errors.New("usage: organization not found")
	ErrCounterUnderflow     = errors.New("usage: counter underflow")
)

// InMemory implements Counter with per-organization records guarded by a
// single mutex. Suitable for tests and single-process deployments; durable
// deployments use the pg store, which serializes per organization at the
// database instead.
type InMemory struct {
	mu   sync.Mutex
	orgs map[uint64]*orgRecord
}

type orgRecord struct {
	count  uint64
	resets []ResetRecord
}

// NewInMemory creates an empty counter.
func NewInMemory() *InMemory {
	return &InMemory{orgs: make(map[uint64]*orgRecord)}
}

func (c *InMemory) IncrementIfNew(ctx context.Context, orgID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.orgs[orgID]
	if !ok {
		rec = &orgRecord{}
		c.orgs[orgID] = rec
	}
	rec.count++
	return nil
}

func (c *InMemory) Decrement(ctx context.Context, orgID uint64, reason, actor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.orgs[orgID]
	if !ok || rec.count == 0 {
		return ErrCounterUnderflow
	}
	rec.resets = append(rec.resets, ResetRecord{
		Timestamp:     time.Now().UTC(),
		Actor:         actor,
		Reason:        reason,
		PreviousCount: rec.count,
	})
	rec.count--
	return nil
}

func (c *InMemory) CurrentCount(ctx context.Context, orgID uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.orgs[orgID]
	if !ok {
		return 0, nil
	}
	return rec.count, nil
}

func (c *InMemory) ResetHistory(ctx context.Context, orgID uint64) ([]ResetRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.orgs[orgID]
	if !ok {
		return nil, nil
	}
	out := make([]ResetRecord, len(rec.resets))
	copy(out, rec.resets)
	return out, nil
}
