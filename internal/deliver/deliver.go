package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"klaxer/internal/domain"
)

// Poster implements the dedup/debounce posting protocol on top of a chat
// sink. Duplicate state is re-derived from the destination's most recent
// message on every attempt; the poster holds no alert history of its own.
// Params: chat sink, logger, and per-channel serialization locks.
// Returns: delivery component for the pipeline's final stage.
type Poster struct {
	sink   ChatSink
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPoster creates a poster over one chat sink.
// Params: sink implementation and optional logger.
// Returns: initialized poster.
func NewPoster(sink ChatSink, logger *slog.Logger) *Poster {
	return &Poster{
		sink:   sink,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Deliver posts one routed alert, collapsing repeats into a counter message.
// For a fixed channel the read-decide-write sequence never interleaves:
// delivery is serialized per resolved channel while distinct channels run in
// parallel. Sink failures propagate untouched; the poster never retries.
// Params: context and fully classified/routed alert.
// Returns: the posted message, or a typed delivery failure.
func (p *Poster) Deliver(ctx context.Context, alert *domain.Alert) (Message, error) {
	if alert.Severity == domain.SeverityUnset {
		return Message{}, fmt.Errorf("deliver alert %s: %w", alert.ID, domain.ErrSeverityUnset)
	}
	if strings.TrimSpace(alert.Target) == "" {
		return Message{}, fmt.Errorf("deliver alert %s: %w", alert.ID, domain.ErrTargetUnset)
	}
	color, err := SeverityColor(alert.Severity)
	if err != nil {
		return Message{}, err
	}

	channelID, err := p.sink.ResolveChannel(ctx, alert.Target)
	if err != nil {
		return Message{}, &domain.DeliveryError{Stage: "resolve", Err: fmt.Errorf("resolve channel %q: %w", alert.Target, err)}
	}

	lock := p.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	last, err := p.sink.LastMessage(ctx, channelID)
	if err != nil {
		return Message{}, &domain.DeliveryError{Stage: "last_message", Err: err}
	}

	request := PostRequest{
		Text:    alert.Message,
		Title:   alert.Title,
		Color:   color,
		Service: alert.Service,
	}

	if last == nil || !p.isRepeat(alert, *last) {
		posted, err := p.sink.PostMessage(ctx, channelID, request)
		if err != nil {
			return Message{}, &domain.DeliveryError{Stage: "post", Err: err}
		}
		return posted, nil
	}

	debounced, count := Debounce(Unrender(last.DisplayText()))
	if err := p.sink.DeleteMessage(ctx, *last); err != nil {
		return Message{}, &domain.DeliveryError{Stage: "delete", Err: err}
	}

	request.Text = debounced
	posted, err := p.sink.PostMessage(ctx, channelID, request)
	if err != nil {
		// The old message is already gone; the caller must know the channel
		// lost its copy without a replacement.
		return Message{}, &domain.DeliveryError{Stage: "post", MessageLost: true, Err: err}
	}

	alert.Count = count
	if p.logger != nil {
		p.logger.Info("debounced repeated alert",
			"alert_id", alert.ID,
			"channel", alert.Target,
			"count", count,
		)
	}
	return posted, nil
}

// isRepeat decides whether the alert duplicates the channel's latest message.
// The rendered text is unrendered first so markup artifacts (auto-linked
// URLs, escaped entities) do not defeat the comparison; containment rather
// than equality tolerates an existing "(xN)" suffix.
// Params: new alert and the channel's most recent message.
// Returns: true when the alert is a repeat.
func (p *Poster) isRepeat(alert *domain.Alert, last Message) bool {
	if alert.Message == "" {
		return false
	}
	return strings.Contains(Unrender(last.DisplayText()), alert.Message)
}

// channelLock returns the serialization lock for one resolved channel.
// Params: resolved channel ID.
// Returns: per-channel mutex, created on first use.
func (p *Poster) channelLock(channelID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[channelID] = lock
	}
	return lock
}
