package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"klaxer/internal/config"
	"klaxer/internal/deliver"
	"klaxer/internal/domain"
)

// Slack is a chat sink over the Slack Web API.
// Channel name-to-ID resolution is memoized for the lifetime of the sink
// instance; a fresh instance must be used to pick up newly created channels.
// Params: transport config, HTTP client, and guarded channel cache.
// Returns: ChatSink implementation.
type Slack struct {
	cfg    config.SlackSinkConfig
	client *http.Client

	mu       sync.Mutex
	channels map[string]string
}

// NewSlack creates a Slack sink from transport configuration.
// Params: Slack sink config.
// Returns: initialized sink.
func NewSlack(cfg config.SlackSinkConfig) *Slack {
	return &Slack{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// slackChannel mirrors one conversations.list entry.
type slackChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// slackMessage mirrors one conversations.history entry.
type slackMessage struct {
	TS          string `json:"ts"`
	User        string `json:"user"`
	Username    string `json:"username"`
	BotID       string `json:"bot_id"`
	Text        string `json:"text"`
	Attachments []struct {
		Title string `json:"title"`
		Text  string `json:"text"`
		Color string `json:"color"`
	} `json:"attachments"`
}

// slackResponse is the common Web API envelope.
type slackResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error"`
	TS       string         `json:"ts"`
	Channels []slackChannel `json:"channels"`
	Messages []slackMessage `json:"messages"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// ResolveChannel maps a channel name to its Slack ID.
// Params: context and channel name (leading '#' is ignored).
// Returns: channel ID or ErrChannelNotFound.
func (s *Slack) ResolveChannel(ctx context.Context, name string) (string, error) {
	key := strings.TrimPrefix(strings.TrimSpace(name), "#")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == nil {
		channels, err := s.loadChannels(ctx)
		if err != nil {
			return "", err
		}
		s.channels = channels
	}

	id, ok := s.channels[key]
	if !ok {
		return "", fmt.Errorf("%w: %q is not an available channel", domain.ErrChannelNotFound, name)
	}
	return id, nil
}

// loadChannels fetches the full channel listing once; caller holds the mutex.
// Params: context.
// Returns: name-to-ID map or transport error.
func (s *Slack) loadChannels(ctx context.Context) (map[string]string, error) {
	channels := make(map[string]string)
	cursor := ""
	for {
		query := url.Values{}
		query.Set("exclude_archived", "true")
		query.Set("limit", "200")
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var decoded slackResponse
		if err := s.get(ctx, "conversations.list", query, &decoded); err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		for _, channel := range decoded.Channels {
			channels[channel.Name] = channel.ID
		}
		cursor = decoded.Metadata.NextCursor
		if cursor == "" {
			return channels, nil
		}
	}
}

// LastMessage fetches the single most recent message of one channel.
// Params: context and resolved channel ID.
// Returns: message pointer, or nil when the channel has no history yet.
func (s *Slack) LastMessage(ctx context.Context, channelID string) (*deliver.Message, error) {
	query := url.Values{}
	query.Set("channel", channelID)
	query.Set("limit", "1")
	var decoded slackResponse
	if err := s.get(ctx, "conversations.history", query, &decoded); err != nil {
		return nil, fmt.Errorf("channel history: %w", err)
	}
	if len(decoded.Messages) == 0 {
		return nil, nil
	}

	raw := decoded.Messages[0]
	message := &deliver.Message{
		ID:        raw.TS,
		ChannelID: channelID,
		Author:    messageAuthor(raw),
		Text:      raw.Text,
	}
	if len(raw.Attachments) > 0 {
		message.Attachment = &deliver.Attachment{
			Title: raw.Attachments[0].Title,
			Text:  raw.Attachments[0].Text,
			Color: raw.Attachments[0].Color,
		}
	}
	return message, nil
}

// DeleteMessage removes one message from its channel.
// Params: context and message identity (ID + channel).
// Returns: transport or API error.
func (s *Slack) DeleteMessage(ctx context.Context, message deliver.Message) error {
	payload := struct {
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}{
		Channel: message.ChannelID,
		TS:      message.ID,
	}
	var decoded slackResponse
	if err := s.post(ctx, "chat.delete", payload, &decoded); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// PostMessage posts one alert message as a colored attachment.
// Params: context, resolved channel ID, and post payload.
// Returns: posted message view or transport/API error.
func (s *Slack) PostMessage(ctx context.Context, channelID string, request deliver.PostRequest) (deliver.Message, error) {
	payload := struct {
		Channel     string `json:"channel"`
		Username    string `json:"username"`
		Attachments []struct {
			Title string `json:"title,omitempty"`
			Text  string `json:"text"`
			Color string `json:"color,omitempty"`
		} `json:"attachments"`
	}{
		Channel:  channelID,
		Username: s.cfg.BotName,
		Attachments: []struct {
			Title string `json:"title,omitempty"`
			Text  string `json:"text"`
			Color string `json:"color,omitempty"`
		}{{
			Title: request.Title,
			Text:  request.Text,
			Color: request.Color,
		}},
	}

	var decoded slackResponse
	if err := s.post(ctx, "chat.postMessage", payload, &decoded); err != nil {
		return deliver.Message{}, fmt.Errorf("post message: %w", err)
	}
	if strings.TrimSpace(decoded.TS) == "" {
		return deliver.Message{}, fmt.Errorf("post message: response missing ts")
	}
	return deliver.Message{
		ID:        decoded.TS,
		ChannelID: channelID,
		Author:    s.cfg.BotName,
		Attachment: &deliver.Attachment{
			Title: request.Title,
			Text:  request.Text,
			Color: request.Color,
		},
	}, nil
}

// get performs one Web API GET call and decodes the envelope.
// Params: context, API method name, query values, and decode target.
// Returns: transport or API error.
func (s *Slack) get(ctx context.Context, method string, query url.Values, out *slackResponse) error {
	endpoint := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/") + "/" + method
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	return s.do(method, request, out)
}

// post performs one Web API POST call and decodes the envelope.
// Params: context, API method name, JSON payload, and decode target.
// Returns: transport or API error.
func (s *Slack) post(ctx context.Context, method string, payload any, out *slackResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", method, err)
	}
	endpoint := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/") + "/" + method
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	request.Header.Set("Content-Type", "application/json")
	return s.do(method, request, out)
}

// do executes one request, checking HTTP status and the API ok flag.
// Params: method label, prepared request, and decode target.
// Returns: transport or API error.
func (s *Slack) do(method string, request *http.Request, out *slackResponse) error {
	request.Header.Set("Authorization", "Bearer "+strings.TrimSpace(s.cfg.Token))
	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		rawBody, _ := io.ReadAll(response.Body)
		trimmedBody := strings.TrimSpace(string(rawBody))
		if trimmedBody == "" {
			return fmt.Errorf("%s status=%d", method, response.StatusCode)
		}
		return fmt.Errorf("%s status=%d body=%s", method, response.StatusCode, trimmedBody)
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("%s api error: %s", method, out.Error)
	}
	return nil
}

// messageAuthor picks the best author identity from one history entry.
// Params: decoded history message.
// Returns: username, user ID, or bot ID in preference order.
func messageAuthor(message slackMessage) string {
	if message.Username != "" {
		return message.Username
	}
	if message.User != "" {
		return message.User
	}
	return message.BotID
}
