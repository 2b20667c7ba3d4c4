package rules

import (
	"fmt"
	"strings"

	"klaxer/internal/config"
	"klaxer/internal/domain"
	"klaxer/internal/templatefmt"
)

// Registry resolves compiled rule sets by source service name.
// Params: sets keyed by lower-case service name.
// Returns: immutable lookup built once per config snapshot.
type Registry struct {
	sets map[string]*Set
}

// Compile builds the registry from raw service rule configuration.
// Rules are compiled once into tagged variants; evaluation never touches
// configuration again.
// Params: normalized per-service rule definitions.
// Returns: registry or first compile error.
func Compile(services []config.ServiceRules) (*Registry, error) {
	sets := make(map[string]*Set, len(services))
	for _, service := range services {
		set, err := compileService(service)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", service.Name, err)
		}
		sets[strings.ToLower(strings.TrimSpace(service.Name))] = set
	}
	return &Registry{sets: sets}, nil
}

// Lookup resolves the rule set for one service name (case-insensitive).
// Params: inbound service name.
// Returns: rule set or ErrServiceNotConfigured.
func (r *Registry) Lookup(service string) (*Set, error) {
	set, ok := r.sets[strings.ToLower(strings.TrimSpace(service))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrServiceNotConfigured, service)
	}
	return set, nil
}

// Services returns the configured service names in registry order.
// Params: none.
// Returns: lower-case service keys.
func (r *Registry) Services() []string {
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	return names
}

// compileService builds one service's rule set from its field tables.
// Message rules come before title rules within every rule kind, matching the
// order rules are authored per field.
// Params: one service rule configuration.
// Returns: compiled rule set or compile error.
func compileService(service config.ServiceRules) (*Set, error) {
	policy, err := ParsePolicy(service.ClassifyPolicy)
	if err != nil {
		return nil, err
	}

	set := &Set{
		Service: service.Name,
		Token:   strings.TrimSpace(service.Token),
		Policy:  policy,
	}

	fields := []struct {
		field domain.Field
		rules config.FieldRules
	}{
		{domain.FieldMessage, service.Message},
		{domain.FieldTitle, service.Title},
	}

	for _, entry := range fields {
		classification, err := compileClassification(entry.field, entry.rules.Classification)
		if err != nil {
			return nil, err
		}
		set.Classification = append(set.Classification, classification...)

		if len(entry.rules.Exclude) > 0 {
			set.Exclusion = append(set.Exclusion, ExclusionRule{
				Field:   entry.field,
				Needles: entry.rules.Exclude,
			})
		}

		enrichment, err := compileEnrichment(service.Name, entry.field, entry.rules.Enrichments)
		if err != nil {
			return nil, err
		}
		set.Enrichment = append(set.Enrichment, enrichment...)

		for _, route := range entry.rules.Routes {
			if strings.TrimSpace(route.Channel) == "" {
				return nil, fmt.Errorf("%s route with condition %q has empty channel", string(entry.field), route.If)
			}
			set.Routing = append(set.Routing, RoutingRule{
				Field:   entry.field,
				If:      route.If,
				Channel: strings.TrimSpace(route.Channel),
			})
		}
	}

	return set, nil
}

// compileClassification converts severity-keyed needle lists into rules.
// Severities are emitted in descending order so first-match policy prefers
// the most severe signal, matching how rule authors read the table.
// Params: target field and severity-name-to-needles map.
// Returns: ordered classification rules or severity parse error.
func compileClassification(field domain.Field, table map[string][]string) ([]ClassificationRule, error) {
	if len(table) == 0 {
		return nil, nil
	}

	parsed := make(map[domain.Severity][]string, len(table))
	for name, needles := range table {
		severity, err := domain.ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("%s classification: %w", string(field), err)
		}
		parsed[severity] = append(parsed[severity], needles...)
	}

	order := []domain.Severity{
		domain.SeverityCritical,
		domain.SeverityWarning,
		domain.SeverityOK,
		domain.SeverityUnknown,
	}
	out := make([]ClassificationRule, 0, len(parsed))
	for _, severity := range order {
		needles, ok := parsed[severity]
		if !ok || len(needles) == 0 {
			continue
		}
		out = append(out, ClassificationRule{
			Field:    field,
			Needles:  needles,
			Severity: severity,
		})
	}
	return out, nil
}

// compileEnrichment parses conditional enrichment templates for one field.
// Params: service name (for template naming), target field, and entries.
// Returns: ordered enrichment rules or template parse error.
func compileEnrichment(service string, field domain.Field, entries []config.ConditionalTemplate) ([]EnrichmentRule, error) {
	out := make([]EnrichmentRule, 0, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.Then) == "" {
			return nil, fmt.Errorf("%s enrichment %d has empty template", string(field), i)
		}
		name := fmt.Sprintf("services.%s.%s.enrichments.%d", service, string(field), i)
		compiled, err := templatefmt.ParseEnrichmentTemplate(name, entry.Then)
		if err != nil {
			return nil, fmt.Errorf("%s enrichment %d: %w", string(field), i, err)
		}
		out = append(out, EnrichmentRule{
			Field:    field,
			If:       entry.If,
			Template: compiled,
		})
	}
	return out, nil
}
