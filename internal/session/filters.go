package session

import (
	"strings"
	"sync"
	"time"

	"klaxer/internal/domain"

	"github.com/google/uuid"
)

// Filter is one user-driven snooze predicate.
// Params: closed-set field, contains needle, and optional expiry.
// Returns: service-agnostic exclusion entry.
type Filter struct {
	ID        string       `json:"id"`
	Field     domain.Field `json:"field"`
	Contains  string       `json:"contains"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// Filters is the process-lifetime, runtime-mutable snooze list.
// The pipeline applies it as a second exclusion pass after source rules;
// mutation happens through the HTTP filters API.
// Params: clock source and guarded entry list.
// Returns: shared session filter state.
type Filters struct {
	mu    sync.Mutex
	now   func() time.Time
	items []Filter
}

// NewFilters creates an empty session filter list.
// Params: now provides current time for expiry checks.
// Returns: initialized filter list.
func NewFilters(now func() time.Time) *Filters {
	return &Filters{now: now}
}

// Add appends one snooze entry.
// Params: field selector, contains needle, and ttl (0 means no expiry).
// Returns: stored filter with generated ID.
func (f *Filters) Add(field domain.Field, contains string, ttl time.Duration) Filter {
	entry := Filter{
		ID:       uuid.NewString(),
		Field:    field,
		Contains: contains,
	}
	if ttl > 0 {
		expires := f.now().Add(ttl)
		entry.ExpiresAt = &expires
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, entry)
	return entry
}

// Remove deletes one entry by ID.
// Params: filter ID.
// Returns: true when an entry was removed.
func (f *Filters) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, entry := range f.items {
		if entry.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops all entries.
// Params: none.
// Returns: empty filter list.
func (f *Filters) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
}

// List returns the active (non-expired) entries.
// Params: none.
// Returns: detached copy of active filters.
func (f *Filters) List() []Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked()
	out := make([]Filter, len(f.items))
	copy(out, f.items)
	return out
}

// Matches reports whether any active filter suppresses the alert.
// Expired entries are pruned lazily on each pass.
// Params: alert under session exclusion check.
// Returns: true when the alert should be silently dropped.
func (f *Filters) Matches(alert *domain.Alert) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked()
	for _, entry := range f.items {
		value, ok := alert.FieldValue(entry.Field)
		if !ok || entry.Contains == "" {
			continue
		}
		if strings.Contains(strings.ToLower(value), strings.ToLower(entry.Contains)) {
			return true
		}
	}
	return false
}

// pruneLocked removes expired entries; caller holds the mutex.
// Params: none.
// Returns: item list filtered in place.
func (f *Filters) pruneLocked() {
	if len(f.items) == 0 {
		return
	}
	now := f.now()
	kept := f.items[:0]
	for _, entry := range f.items {
		if entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
			continue
		}
		kept = append(kept, entry)
	}
	f.items = kept
}
