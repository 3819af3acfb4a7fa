package usage

import "context"

// LimitSource resolves the plan limit for an organization. Billing owns the
// actual plan configuration; StaticLimits covers tests and single-tenant
// deployments.
type LimitSource interface {
	Limit(ctx context.Context, orgID uint64) (uint64, error)
}

// Stats is a read-only usage snapshot combining the counter with plan limits.
type Stats struct {
	OrganizationID   uint64  `json:"organization_id"`
	DistinctContacts uint64  `json:"distinct_contacts"`
	Limit            uint64  `json:"limit"`
	Remaining        uint64  `json:"remaining"`
	PercentUsed      float64 `json:"percent_used"`
}

// Reporter produces usage snapshots. Pure read path; it never mutates the
// counter.
type Reporter struct {
	counter Counter
	limits  LimitSource
}

func NewReporter(counter Counter, limits LimitSource) *Reporter {
	return &Reporter{counter: counter, limits: limits}
}

func (r *Reporter) Stats(ctx context.Context, orgID uint64) (Stats, error) {
	limit, err := r.limits.Limit(ctx, orgID)
	if err != nil {
		return Stats{}, err
	}
	count, err := r.counter.CurrentCount(ctx, orgID)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		OrganizationID:   orgID,
		DistinctContacts: count,
		Limit:            limit,
	}
	if count < limit {
		s.Remaining = limit - count
	}
	if limit > 0 {
		s.PercentUsed = float64(count) / float64(limit) * 100
	}
	return s, nil
}

// StaticLimits is a LimitSource backed by a fixed table with an optional
// default for unknown organizations. A zero Default means unknown
// organizations are rejected.
type StaticLimits struct {
	Limits  map[uint64]uint64
	Default uint64
}

func (s StaticLimits) Limit(ctx context.Context, orgID uint64) (uint64, error) {
	if limit, ok := s.Limits[orgID]; ok {
		return limit, nil
	}
	if s.Default > 0 {
		return s.Default, nil
	}
	return 0, ErrOrganizationNotFound
}
