package deliver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"klaxer/internal/domain"
)

// fakeSink records poster calls against an in-memory channel state.
type fakeSink struct {
	mu sync.Mutex

	channels map[string]string
	last     map[string]*Message
	nextID   int

	resolveCalls int
	lastCalls    int
	deleteCalls  int
	postCalls    int

	resolveErr error
	lastErr    error
	deleteErr  error
	postErr    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		channels: map[string]string{"ops": "C1", "netops": "C2"},
		last:     make(map[string]*Message),
	}
}

func (s *fakeSink) ResolveChannel(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveCalls++
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	id, ok := s.channels[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrChannelNotFound, name)
	}
	return id, nil
}

func (s *fakeSink) LastMessage(_ context.Context, channelID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCalls++
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	message, ok := s.last[channelID]
	if !ok {
		return nil, nil
	}
	copied := *message
	return &copied, nil
}

func (s *fakeSink) DeleteMessage(_ context.Context, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if current, ok := s.last[message.ChannelID]; ok && current.ID == message.ID {
		delete(s.last, message.ChannelID)
	}
	return nil
}

func (s *fakeSink) PostMessage(_ context.Context, channelID string, request PostRequest) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postCalls++
	if s.postErr != nil {
		return Message{}, s.postErr
	}
	s.nextID++
	posted := Message{
		ID:        strconv.Itoa(s.nextID),
		ChannelID: channelID,
		Author:    "klaxer",
		Attachment: &Attachment{
			Title: request.Title,
			Text:  request.Text,
			Color: request.Color,
		},
	}
	s.last[channelID] = &posted
	return posted, nil
}

func testAlert(message string) *domain.Alert {
	return &domain.Alert{
		ID:       "alert-1",
		Service:  "sensu",
		Title:    "host - error",
		Message:  message,
		Severity: domain.SeverityCritical,
		Target:   "ops",
		Count:    1,
	}
}

func TestDeliverFirstPostVerbatim(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)

	posted, err := poster.Deliver(context.Background(), testAlert("Disk ERROR: 95% full"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if posted.Attachment.Text != "Disk ERROR: 95% full" {
		t.Fatalf("unexpected posted text %q", posted.Attachment.Text)
	}
	if posted.Attachment.Color != "#d50200" {
		t.Fatalf("unexpected color %q", posted.Attachment.Color)
	}
	if sink.deleteCalls != 0 {
		t.Fatalf("first post must not delete anything")
	}
}

func TestDeliverRepeatCollapsesToCounter(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)
	ctx := context.Background()

	if _, err := poster.Deliver(ctx, testAlert("Disk ERROR: 95% full")); err != nil {
		t.Fatalf("first deliver: %v", err)
	}

	alert := testAlert("Disk ERROR: 95% full")
	posted, err := poster.Deliver(ctx, alert)
	if err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if posted.Attachment.Text != "Disk ERROR: 95% full (x2)" {
		t.Fatalf("unexpected text %q", posted.Attachment.Text)
	}
	if alert.Count != 2 {
		t.Fatalf("expected alert count 2, got %d", alert.Count)
	}
	if sink.deleteCalls != 1 {
		t.Fatalf("expected one delete, got %d", sink.deleteCalls)
	}

	third := testAlert("Disk ERROR: 95% full")
	posted, err = poster.Deliver(ctx, third)
	if err != nil {
		t.Fatalf("third deliver: %v", err)
	}
	if posted.Attachment.Text != "Disk ERROR: 95% full (x3)" {
		t.Fatalf("unexpected text %q", posted.Attachment.Text)
	}
	if third.Count != 3 {
		t.Fatalf("expected alert count 3, got %d", third.Count)
	}
}

func TestDeliverDifferentMessagePostsFresh(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)
	ctx := context.Background()

	if _, err := poster.Deliver(ctx, testAlert("Disk ERROR: 95% full")); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	posted, err := poster.Deliver(ctx, testAlert("Network flap on eth0"))
	if err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if posted.Attachment.Text != "Network flap on eth0" {
		t.Fatalf("unexpected text %q", posted.Attachment.Text)
	}
	if sink.deleteCalls != 0 {
		t.Fatalf("distinct message must not trigger delete")
	}
}

func TestDeliverRepeatDetectionSurvivesRenderedLinks(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)
	ctx := context.Background()

	if _, err := poster.Deliver(ctx, testAlert("see https://status.example.com for details")); err != nil {
		t.Fatalf("first deliver: %v", err)
	}

	// Simulate the destination auto-linking the URL in the stored message.
	sink.mu.Lock()
	sink.last["C1"].Attachment.Text = "see <https://status.example.com> for details"
	sink.mu.Unlock()

	alert := testAlert("see https://status.example.com for details")
	posted, err := poster.Deliver(ctx, alert)
	if err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if posted.Attachment.Text != "see https://status.example.com for details (x2)" {
		t.Fatalf("unexpected text %q", posted.Attachment.Text)
	}
}

func TestDeliverEmptyMessageNeverRepeats(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)
	ctx := context.Background()

	first := testAlert("")
	first.Title = "titled but empty"
	if _, err := poster.Deliver(ctx, first); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	second := testAlert("")
	second.Title = "titled but empty"
	if _, err := poster.Deliver(ctx, second); err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if sink.deleteCalls != 0 {
		t.Fatalf("empty message must never be treated as a repeat")
	}
	if sink.postCalls != 2 {
		t.Fatalf("expected two fresh posts, got %d", sink.postCalls)
	}
}

func TestDeliverUnsetSeverityFailsFast(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)

	alert := testAlert("disk full")
	alert.Severity = domain.SeverityUnset
	if _, err := poster.Deliver(context.Background(), alert); !errors.Is(err, domain.ErrSeverityUnset) {
		t.Fatalf("expected ErrSeverityUnset, got %v", err)
	}
	if sink.resolveCalls != 0 {
		t.Fatalf("unset severity must not touch the sink")
	}
}

func TestDeliverUnknownChannel(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)

	alert := testAlert("disk full")
	alert.Target = "ghost"
	if _, err := poster.Deliver(context.Background(), alert); !errors.Is(err, domain.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestDeliverResolveFailureTyped(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.resolveErr = errors.New("dial tcp 10.0.0.5:443: connection refused")
	poster := NewPoster(sink, nil)

	_, err := poster.Deliver(context.Background(), testAlert("disk full"))
	var deliveryErr *domain.DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if deliveryErr.Stage != "resolve" || deliveryErr.MessageLost {
		t.Fatalf("unexpected failure %+v", deliveryErr)
	}
	if sink.lastCalls != 0 || sink.postCalls != 0 {
		t.Fatalf("resolve failure must stop the delivery sequence")
	}
}

func TestDeliverEmptyTargetRejected(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)

	alert := testAlert("disk full")
	alert.Target = "  "
	if _, err := poster.Deliver(context.Background(), alert); !errors.Is(err, domain.ErrTargetUnset) {
		t.Fatalf("expected ErrTargetUnset, got %v", err)
	}
	if sink.resolveCalls != 0 {
		t.Fatalf("empty target must not touch the sink")
	}
}

func TestDeliverLastMessageFailureTyped(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.lastErr = errors.New("history unavailable")
	poster := NewPoster(sink, nil)

	_, err := poster.Deliver(context.Background(), testAlert("disk full"))
	var deliveryErr *domain.DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if deliveryErr.Stage != "last_message" || deliveryErr.MessageLost {
		t.Fatalf("unexpected failure %+v", deliveryErr)
	}
}

func TestDeliverRepostFailureMarksMessageLost(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)
	ctx := context.Background()

	if _, err := poster.Deliver(ctx, testAlert("disk full")); err != nil {
		t.Fatalf("first deliver: %v", err)
	}

	sink.mu.Lock()
	sink.postErr = errors.New("posting disabled")
	sink.mu.Unlock()

	_, err := poster.Deliver(ctx, testAlert("disk full"))
	var deliveryErr *domain.DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if !deliveryErr.MessageLost {
		t.Fatalf("delete-then-failed-post must report the lost message")
	}
	if deliveryErr.Stage != "post" {
		t.Fatalf("unexpected stage %q", deliveryErr.Stage)
	}
}

func TestDeliverDeleteFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)
	ctx := context.Background()

	if _, err := poster.Deliver(ctx, testAlert("disk full")); err != nil {
		t.Fatalf("first deliver: %v", err)
	}

	sink.mu.Lock()
	sink.deleteErr = errors.New("delete forbidden")
	sink.mu.Unlock()

	_, err := poster.Deliver(ctx, testAlert("disk full"))
	var deliveryErr *domain.DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if deliveryErr.Stage != "delete" || deliveryErr.MessageLost {
		t.Fatalf("unexpected failure %+v", deliveryErr)
	}

	sink.mu.Lock()
	remaining := sink.last["C1"]
	sink.mu.Unlock()
	if remaining == nil {
		t.Fatalf("failed delete must leave the original message in place")
	}
}

func TestDeliverSerializedPerChannel(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	poster := NewPoster(sink, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	const workers = 8
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = poster.Deliver(ctx, testAlert("Disk ERROR: 95% full"))
		}()
	}
	wg.Wait()

	sink.mu.Lock()
	final := sink.last["C1"]
	sink.mu.Unlock()
	if final == nil {
		t.Fatalf("expected one surviving message")
	}
	if got := RepeatCount(final.Attachment.Text); got != workers {
		t.Fatalf("expected counter %d after serialized repeats, got %d (%q)", workers, got, final.Attachment.Text)
	}
}
