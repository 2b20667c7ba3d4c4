package pipeline

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"klaxer/internal/clock"
	"klaxer/internal/deliver"
	"klaxer/internal/domain"
	"klaxer/internal/metrics"
	"klaxer/internal/permanent"
	"klaxer/internal/rules"
	"klaxer/internal/session"
)

// Status is the terminal outcome of one processed alert.
// Params: constants for delivered, dropped, and debug-routed alerts.
// Returns: outward status reported to ingest callers.
type Status string

const (
	// StatusDelivered marks an alert posted to its destination channel.
	StatusDelivered Status = "delivered"
	// StatusDropped marks an alert suppressed by exclusion or session rules.
	StatusDropped Status = "dropped"
	// StatusRouted marks a debug-mode alert that was routed but not delivered.
	StatusRouted Status = "routed"
)

// Outcome is the result of one pipeline run.
// Params: terminal status, alert snapshot, and posted message when delivered.
// Returns: structured result for the ingest layer.
type Outcome struct {
	Status Status
	Alert  *domain.Alert
	Posted *deliver.Message
}

// Pipeline runs the classify/filter/enrich/route/deliver chain.
// The pure stages are per-alert computation and run fully in parallel across
// inbound alerts; only the poster serializes per destination channel. The
// rule registry swaps atomically on configuration reload.
// Params: registry pointer, session filters, poster, logger, and clock.
// Returns: alert processing entry point.
type Pipeline struct {
	registry atomic.Pointer[rules.Registry]
	session  *session.Filters
	poster   *deliver.Poster
	logger   *slog.Logger
	clock    clock.Clock
}

// New creates a pipeline over one compiled registry.
// Params: compiled rule registry, session filters, poster, logger, clock.
// Returns: initialized pipeline.
func New(registry *rules.Registry, filters *session.Filters, poster *deliver.Poster, logger *slog.Logger, clk clock.Clock) *Pipeline {
	p := &Pipeline{
		session: filters,
		poster:  poster,
		logger:  logger,
		clock:   clk,
	}
	p.registry.Store(registry)
	return p
}

// SetRegistry swaps the compiled rule registry atomically.
// In-flight alerts keep the set they resolved at lookup time.
// Params: newly compiled registry.
// Returns: registry replaced for subsequent lookups.
func (p *Pipeline) SetRegistry(registry *rules.Registry) {
	p.registry.Store(registry)
}

// Authorize validates the per-service ingest token.
// Params: service name and presented token.
// Returns: nil, ErrServiceNotConfigured, or ErrUnauthorized.
func (p *Pipeline) Authorize(service, token string) error {
	set, err := p.registry.Load().Lookup(service)
	if err != nil {
		return permanent.Mark(err)
	}
	if set.Token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(set.Token), []byte(token)) != 1 {
		return permanent.Mark(fmt.Errorf("%w: bad token for service %q", domain.ErrUnauthorized, service))
	}
	return nil
}

// Process runs the full pipeline for one inbound event, including delivery.
// Params: context, originating service name, and raw JSON payload.
// Returns: outcome or a typed failure; config and client failures carry the
// permanent marker so brokers do not redeliver them.
func (p *Pipeline) Process(ctx context.Context, service string, raw []byte) (Outcome, error) {
	outcome, set, err := p.run(service, raw)
	if err != nil || outcome.Status == StatusDropped {
		return outcome, err
	}

	posted, err := p.poster.Deliver(ctx, outcome.Alert)
	if err != nil {
		metrics.IncDeliveryFailure(set.Service)
		p.logger.Error("alert delivery failed",
			"alert_id", outcome.Alert.ID,
			"service", outcome.Alert.Service,
			"target", outcome.Alert.Target,
			"error", err.Error(),
		)
		return Outcome{}, err
	}

	metrics.IncDelivered(set.Service)
	if outcome.Alert.Count > 1 {
		metrics.IncDebounced(set.Service)
	}
	p.logger.Info("alert delivered",
		"alert_id", outcome.Alert.ID,
		"service", outcome.Alert.Service,
		"severity", outcome.Alert.Severity.String(),
		"target", outcome.Alert.Target,
		"count", outcome.Alert.Count,
	)
	return Outcome{Status: StatusDelivered, Alert: outcome.Alert, Posted: &posted}, nil
}

// ProcessDebug runs the pure stages only and returns the routed alert
// without side effects, for rule-authoring feedback loops.
// Params: context (unused by pure stages), service name, and raw payload.
// Returns: routed or dropped outcome; never touches the chat sink.
func (p *Pipeline) ProcessDebug(_ context.Context, service string, raw []byte) (Outcome, error) {
	outcome, _, err := p.run(service, raw)
	return outcome, err
}

// run executes normalize/classify/exclude/enrich/route for one event.
// Params: service name and raw payload.
// Returns: routed or dropped outcome, the resolved rule set, and error.
func (p *Pipeline) run(service string, raw []byte) (Outcome, *rules.Set, error) {
	set, err := p.registry.Load().Lookup(service)
	if err != nil {
		return Outcome{}, nil, permanent.Mark(err)
	}

	alert, err := domain.Normalize(service, raw, p.clock.Now())
	if err != nil {
		return Outcome{}, nil, permanent.Mark(err)
	}
	metrics.IncIngested(set.Service)

	alert = rules.Classify(alert, set.Classification, set.Policy)

	if rules.Excluded(alert, set.Exclusion) {
		metrics.IncDropped(set.Service)
		p.logger.Debug("alert dropped by service exclusion", "alert_id", alert.ID, "service", alert.Service)
		return Outcome{Status: StatusDropped, Alert: alert}, set, nil
	}
	if p.session.Matches(alert) {
		metrics.IncDropped(set.Service)
		p.logger.Debug("alert dropped by session filter", "alert_id", alert.ID, "service", alert.Service)
		return Outcome{Status: StatusDropped, Alert: alert}, set, nil
	}

	alert = rules.Enrich(alert, set.Enrichment)

	alert, err = rules.Route(alert, set.Routing)
	if err != nil {
		if errors.Is(err, domain.ErrNoRouteFound) {
			// Routing gaps indicate an operator configuration hole; they must
			// surface instead of dropping the alert silently.
			p.logger.Error("no route for alert", "service", service, "error", err.Error())
		}
		return Outcome{}, set, permanent.Mark(err)
	}

	return Outcome{Status: StatusRouted, Alert: alert}, set, nil
}
