package rules

import (
	"fmt"
	"strings"
	"text/template"

	"klaxer/internal/domain"
)

// ClassificationPolicy selects how competing classification matches combine.
// Params: constants for first-match and highest-severity policies.
// Returns: policy applied by Classify.
type ClassificationPolicy string

const (
	// PolicyFirstMatch takes the first rule that yields a severity.
	PolicyFirstMatch ClassificationPolicy = "first"
	// PolicyHighestSeverity evaluates all rules and keeps the maximum severity.
	PolicyHighestSeverity ClassificationPolicy = "highest"
)

// ParsePolicy validates a classification policy name from configuration.
// Params: value is a policy name; empty selects the highest-severity default.
// Returns: parsed policy or error for unknown names.
func ParsePolicy(value string) (ClassificationPolicy, error) {
	switch ClassificationPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return PolicyHighestSeverity, nil
	case PolicyFirstMatch:
		return PolicyFirstMatch, nil
	case PolicyHighestSeverity:
		return PolicyHighestSeverity, nil
	default:
		return "", fmt.Errorf("unsupported classify_policy %q", value)
	}
}

// ClassificationRule yields one severity when any needle occurs in the field.
// Params: field selector, case-insensitive needles, and resulting severity.
// Returns: data-driven classification predicate.
type ClassificationRule struct {
	Field    domain.Field
	Needles  []string
	Severity domain.Severity
}

// Evaluate applies the rule to one alert.
// Params: alert under classification.
// Returns: severity and true when any needle matches.
func (r ClassificationRule) Evaluate(alert *domain.Alert) (domain.Severity, bool) {
	value, ok := alert.FieldValue(r.Field)
	if !ok {
		return domain.SeverityUnset, false
	}
	if containsAnyFold(value, r.Needles) {
		return r.Severity, true
	}
	return domain.SeverityUnset, false
}

// ExclusionRule drops an alert when any needle occurs in the field.
// Params: field selector and case-insensitive needles.
// Returns: data-driven exclusion predicate.
type ExclusionRule struct {
	Field   domain.Field
	Needles []string
}

// Matches applies the rule to one alert.
// Params: alert under exclusion check.
// Returns: true when the alert should be dropped.
func (r ExclusionRule) Matches(alert *domain.Alert) bool {
	value, ok := alert.FieldValue(r.Field)
	if !ok {
		return false
	}
	return containsAnyFold(value, r.Needles)
}

// EnrichmentRule rewrites one mutable field through a template when the
// condition needle occurs in it. An empty condition always fires.
// Params: target field, optional condition needle, and compiled template.
// Returns: data-driven enrichment transform.
type EnrichmentRule struct {
	Field    domain.Field
	If       string
	Template *template.Template
}

// enrichContext is the template data model for enrichment rendering.
// Params: alert snapshot plus the current value of the target field.
// Returns: read-only view exposed to rule templates.
type enrichContext struct {
	Service  string
	Title    string
	Message  string
	Severity string
	Value    string
}

// Evaluate renders the rule into a field update when the condition matches.
// Params: alert under enrichment.
// Returns: new field value, applied flag, and render error.
func (r EnrichmentRule) Evaluate(alert *domain.Alert) (string, bool, error) {
	value, ok := alert.FieldValue(r.Field)
	if !ok {
		return "", false, nil
	}
	if r.If != "" && !strings.Contains(strings.ToLower(value), strings.ToLower(r.If)) {
		return "", false, nil
	}

	var rendered strings.Builder
	err := r.Template.Execute(&rendered, enrichContext{
		Service:  alert.Service,
		Title:    alert.Title,
		Message:  alert.Message,
		Severity: alert.Severity.String(),
		Value:    value,
	})
	if err != nil {
		return "", false, fmt.Errorf("render enrichment for field %q: %w", string(r.Field), err)
	}
	return rendered.String(), true, nil
}

// RoutingRule assigns a destination channel when the condition needle occurs
// in the field. An empty condition routes unconditionally.
// Params: field selector, optional condition needle, and channel name.
// Returns: data-driven routing predicate.
type RoutingRule struct {
	Field   domain.Field
	If      string
	Channel string
}

// Evaluate applies the rule to one alert.
// Params: alert under routing.
// Returns: channel name and true when the rule applies.
func (r RoutingRule) Evaluate(alert *domain.Alert) (string, bool) {
	if r.If == "" {
		return r.Channel, true
	}
	value, ok := alert.FieldValue(r.Field)
	if !ok {
		return "", false
	}
	if strings.Contains(strings.ToLower(value), strings.ToLower(r.If)) {
		return r.Channel, true
	}
	return "", false
}

// Set holds the ordered rule lists of one source service.
// Params: per-kind rule slices built once from configuration.
// Returns: immutable rule sets consumed by the pipeline stages.
type Set struct {
	Service        string
	Token          string
	Policy         ClassificationPolicy
	Classification []ClassificationRule
	Exclusion      []ExclusionRule
	Enrichment     []EnrichmentRule
	Routing        []RoutingRule
}

// Classify assigns severity to the alert under the selected policy.
// An empty rule set or no matching rule yields SeverityUnknown; classification
// never fails.
// Params: alert, ordered classification rules, and combine policy.
// Returns: the same alert with severity set.
func Classify(alert *domain.Alert, rules []ClassificationRule, policy ClassificationPolicy) *domain.Alert {
	best := domain.SeverityUnset
	for _, rule := range rules {
		severity, ok := rule.Evaluate(alert)
		if !ok {
			continue
		}
		if policy == PolicyFirstMatch {
			alert.Severity = severity
			return alert
		}
		if severity > best {
			best = severity
		}
	}
	if best == domain.SeverityUnset {
		best = domain.SeverityUnknown
	}
	alert.Severity = best
	return alert
}

// Excluded reports whether any exclusion rule matches the alert.
// Params: alert and ordered exclusion rules.
// Returns: true when the alert should be silently dropped.
func Excluded(alert *domain.Alert, rules []ExclusionRule) bool {
	for _, rule := range rules {
		if rule.Matches(alert) {
			return true
		}
	}
	return false
}

// Enrich applies enrichment rules sequentially; later rules observe earlier
// updates and a rule targeting the same field overwrites the previous value.
// Render failures skip the rule since enrichment has no error path; templates
// are validated at registry build time.
// Params: alert and ordered enrichment rules.
// Returns: the same alert with field updates applied.
func Enrich(alert *domain.Alert, rules []EnrichmentRule) *domain.Alert {
	for _, rule := range rules {
		value, applied, err := rule.Evaluate(alert)
		if err != nil || !applied {
			continue
		}
		if setErr := alert.SetField(rule.Field, value); setErr != nil {
			continue
		}
	}
	return alert
}

// Route assigns the destination channel from the first matching routing rule.
// Params: alert and ordered routing rules.
// Returns: the same alert with target set, or ErrNoRouteFound.
func Route(alert *domain.Alert, rules []RoutingRule) (*domain.Alert, error) {
	for _, rule := range rules {
		channel, ok := rule.Evaluate(alert)
		if !ok || strings.TrimSpace(channel) == "" {
			continue
		}
		alert.Target = channel
		return alert, nil
	}
	return nil, fmt.Errorf("%w for alert from service %q", domain.ErrNoRouteFound, alert.Service)
}

// containsAnyFold checks case-insensitive substring containment for any needle.
// Params: haystack value and needle list.
// Returns: true when at least one non-empty needle occurs.
func containsAnyFold(value string, needles []string) bool {
	lowered := strings.ToLower(value)
	for _, needle := range needles {
		if needle == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}
