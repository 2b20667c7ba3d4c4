package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the ordered alert classification level.
// Params: ascending constants from unset to critical.
// Returns: comparable level where higher values dominate.
type Severity int

const (
	// SeverityUnset marks an alert that has not passed classification yet.
	SeverityUnset Severity = iota
	// SeverityUnknown is assigned when no classification rule matches.
	SeverityUnknown
	// SeverityOK marks informational recovery-style alerts.
	SeverityOK
	// SeverityWarning marks degraded-but-working conditions.
	SeverityWarning
	// SeverityCritical marks conditions that need immediate attention.
	SeverityCritical
)

// String renders severity as its canonical upper-case name.
// Params: none.
// Returns: severity name or "UNSET".
func (s Severity) String() string {
	switch s {
	case SeverityUnknown:
		return "UNKNOWN"
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNSET"
	}
}

// ParseSeverity converts a case-insensitive severity name into a level.
// Params: value is a severity name from configuration.
// Returns: parsed severity or error for unknown names.
func ParseSeverity(value string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "UNKNOWN":
		return SeverityUnknown, nil
	case "OK":
		return SeverityOK, nil
	case "WARNING":
		return SeverityWarning, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityUnset, fmt.Errorf("unsupported severity %q", value)
	}
}

// MarshalJSON renders severity as JSON string.
// Params: none.
// Returns: quoted severity name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Field identifies one member of the closed set of alert fields that
// rules may read and enrichment may write.
// Params: constants for message, title, and service.
// Returns: validated field selector for rule evaluation.
type Field string

const (
	// FieldMessage selects the alert message body.
	FieldMessage Field = "message"
	// FieldTitle selects the alert title.
	FieldTitle Field = "title"
	// FieldService selects the read-only originating service name.
	FieldService Field = "service"
)

// ParseField validates a field name from configuration.
// Params: value is a field name.
// Returns: field selector or error for names outside the closed set.
func ParseField(value string) (Field, error) {
	switch Field(strings.ToLower(strings.TrimSpace(value))) {
	case FieldMessage:
		return FieldMessage, nil
	case FieldTitle:
		return FieldTitle, nil
	case FieldService:
		return FieldService, nil
	default:
		return "", fmt.Errorf("unsupported alert field %q", value)
	}
}

// Alert is the normalized unit of monitoring data flowing through the pipeline.
// Params: identity fields, classification/routing results, and duplicate count.
// Returns: mutable per-request work item; never persisted by the process.
type Alert struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Target    string    `json:"target,omitempty"`
	Count     int       `json:"count"`
}

// FieldValue reads one closed-set field from the alert.
// Params: field selector.
// Returns: field value and false for unsupported selectors.
func (a *Alert) FieldValue(field Field) (string, bool) {
	switch field {
	case FieldMessage:
		return a.Message, true
	case FieldTitle:
		return a.Title, true
	case FieldService:
		return a.Service, true
	default:
		return "", false
	}
}

// SetField writes one mutable field on the alert.
// Params: field selector and new value.
// Returns: error when the field is outside the mutable set.
func (a *Alert) SetField(field Field, value string) error {
	switch field {
	case FieldMessage:
		a.Message = value
		return nil
	case FieldTitle:
		a.Title = value
		return nil
	default:
		return fmt.Errorf("field %q is not enrichable", string(field))
	}
}

// IdentityKey builds the deduplication identity tuple.
// Timestamp, count, and ID are excluded so that textually identical alerts
// arriving at different times still collapse into one key.
// Params: none.
// Returns: deterministic identity string.
func (a *Alert) IdentityKey() string {
	return a.Severity.String() + "\x00" + strings.ToLower(a.Service) + "\x00" + a.Title + "\x00" + a.Message
}
