package contacts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quotewell.org/internal/usage"
)

// Service defines contact tracking operations.
type Service interface {
	Track(ctx context.Context, orgID, agentID uint64, identity Identity) (TrackResult, error)
	TrackBatch(ctx context.Context, orgID, agentID uint64, identities []Identity) (BatchResult, error)
	Reset(ctx context.Context, orgID uint64, email, reason, actor string) (bool, error)
	GetContact(ctx context.Context, orgID, contactID uint64) (Contact, error)
	ListContacts(ctx context.Context, orgID uint64, limit int) ([]Contact, error)
}

// InMemory implements Service with in-process concurrency safety. Creation
// and the usage increment happen under one lock so the counter can never
// diverge from the contact set. Durable deployments use the pg store.
type InMemory struct {
	mu      sync.Mutex
	counter usage.Counter
	nextID  uint64
	byOrg   map[uint64]map[string]*Contact // org -> normalized email -> contact
}

// NewInMemory creates an empty service backed by the given counter.
func NewInMemory(counter usage.Counter) *InMemory {
	return &InMemory{
		counter: counter,
		byOrg:   make(map[uint64]map[string]*Contact),
	}
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) Track(ctx context.Context, orgID, agentID uint64, identity Identity) (TrackResult, error) {
	email := NormalizeEmail(identity.Email)
	if email == "" {
		return TrackResult{}, ErrInvalidIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.byOrg[orgID]
	if !ok {
		org = make(map[string]*Contact)
		s.byOrg[orgID] = org
	}
	if existing, ok := org[email]; ok {
		return TrackResult{ContactID: existing.ID, IsNew: false}, nil
	}

	s.nextID++
	contact := newContact(s.nextID, orgID, agentID, email, identity)
	org[email] = contact

	// Creation and increment are one logical unit: undo the creation if the
	// increment cannot be recorded.
	if err := s.counter.IncrementIfNew(ctx, orgID); err != nil {
		delete(org, email)
		s.nextID--
		return TrackResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return TrackResult{ContactID: contact.ID, IsNew: true}, nil
}

func (s *InMemory) TrackBatch(ctx context.Context, orgID, agentID uint64, identities []Identity) (BatchResult, error) {
	res := BatchResult{Items: make([]BatchItem, len(identities))}
	// Dedupe within the batch before touching storage; only the first
	// occurrence of a normalized email is tracked.
	first := make(map[string]int, len(identities))
	for i, identity := range identities {
		email := NormalizeEmail(identity.Email)
		res.Items[i].Email = email
		if email == "" {
			res.Items[i].Error = ErrInvalidIdentity.Error()
			continue
		}
		if j, seen := first[email]; seen {
			res.Items[i].ContactID = res.Items[j].ContactID
			continue
		}
		first[email] = i
		tr, err := s.Track(ctx, orgID, agentID, identity)
		if err != nil {
			res.Items[i].Error = err.Error()
			delete(first, email)
			continue
		}
		res.Items[i].ContactID = tr.ContactID
		res.Items[i].IsNew = tr.IsNew
		if tr.IsNew {
			res.NewCount++
		}
	}
	res.Processed = len(identities)
	return res, nil
}

func (s *InMemory) Reset(ctx context.Context, orgID uint64, email, reason, actor string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, ErrInvalidIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.byOrg[orgID]
	if !ok {
		return false, nil
	}
	contact, ok := org[email]
	if !ok {
		return false, nil
	}
	delete(org, email)
	if err := s.counter.Decrement(ctx, orgID, reason, actor); err != nil {
		org[email] = contact
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return true, nil
}

func (s *InMemory) GetContact(ctx context.Context, orgID, contactID uint64) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range s.byOrg[orgID] {
		if contact.ID == contactID {
			return *contact, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (s *InMemory) ListContacts(ctx context.Context, orgID uint64, limit int) ([]Contact, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Contact
	for _, contact := range s.byOrg[orgID] {
		out = append(out, *contact)
	}
	// Newest first; ids are assigned monotonically.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newContact(id, orgID, agentID uint64, email string, identity Identity) *Contact {
	return &Contact{
		ID:             id,
		OrganizationID: orgID,
		Email:          email,
		FirstName:      identity.FirstName,
		LastName:       identity.LastName,
		CurrentCarrier: identity.CurrentCarrier,
		PlanType:       identity.PlanType,
		EffectiveDate:  identity.EffectiveDate,
		BirthDate:      identity.BirthDate,
		TobaccoUser:    identity.TobaccoUser,
		Gender:         identity.Gender,
		State:          identity.State,
		ZipCode:        identity.ZipCode,
		CreatedByAgent: agentID,
		CreatedAt:      time.Now().UTC(),
	}
}
