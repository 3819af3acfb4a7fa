package contacts

import (
	"errors"
	"strings"
	"time"
)

// Identity is the raw submission for a prospective contact. Email is the
// deduplication key; everything else is profile data carried on the record.
type Identity struct {
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	CurrentCarrier string     `json:"current_carrier,omitempty"`
	PlanType       string     `json:"plan_type,omitempty"`
	EffectiveDate  *time.Time `json:"effective_date,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	TobaccoUser    bool       `json:"tobacco_user,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	State          string     `json:"state,omitempty"`
	ZipCode        string     `json:"zip_code,omitempty"`
}

// Contact is the stored record. Created exactly once per
// (organization, normalized email) pair; the ID is stable and is the value
// embedded in quote tokens.
type Contact struct {
	ID             uint64     `json:"id"`
	OrganizationID uint64     `json:"organization_id"`
	Email          string     `json:"email"` // normalized
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	CurrentCarrier string     `json:"current_carrier,omitempty"`
	PlanType       string     `json:"plan_type,omitempty"`
	EffectiveDate  *time.Time `json:"effective_date,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	TobaccoUser    bool       `json:"tobacco_user,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	State          string     `json:"state,omitempty"`
	ZipCode        string     `json:"zip_code,omitempty"`
	CreatedByAgent uint64     `json:"created_by_agent_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TrackResult reports the outcome of a single Track call.
type TrackResult struct {
	ContactID uint64 `json:"contact_id"`
	IsNew     bool   `json:"is_new"`
}

// BatchItem is one slot of a TrackBatch result, in input order.
// A malformed entry carries Error and no contact id.
type BatchItem struct {
	Email     string `json:"email"`
	ContactID uint64 `json:"contact_id,omitempty"`
	IsNew     bool   `json:"is_new"`
	Error     string `json:"error,omitempty"`
}

// BatchResult aggregates a TrackBatch call.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	NewCount  int         `json:"new_count"`
	Processed int         `json:"processed"`
}

var (
	ErrInvalidIdentity    = errors.New("contacts: invalid identity (email required)")
	ErrNotFound           = errors.New("contacts: not found")
	ErrStorageUnavailable = errors.New("contacts: storage unavailable")
)

// NormalizeEmail lowercases and trims the address. Two raw inputs that
// normalize to the same value are the same contact within an organization.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
