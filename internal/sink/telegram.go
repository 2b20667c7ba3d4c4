package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"klaxer/internal/config"
	"klaxer/internal/deliver"
	"klaxer/internal/domain"

	tgbot "github.com/go-telegram/bot"
)

// Telegram is a chat sink over the Telegram Bot API.
// Bots cannot read chat history, so the sink keeps a per-chat memo of the
// last message it posted; like the Slack channel cache the memo is scoped to
// the sink instance lifetime.
// Params: bot client, configured channel-to-chat mapping, and memo state.
// Returns: ChatSink implementation.
type Telegram struct {
	client  *tgbot.Bot
	chats   map[string]int64
	initErr error

	mu   sync.Mutex
	last map[string]*deliver.Message
}

// NewTelegram creates a Telegram sink from transport configuration.
// Params: Telegram sink config.
// Returns: initialized sink; client errors surface on first use.
func NewTelegram(cfg config.TelegramSinkConfig) *Telegram {
	sink := &Telegram{
		chats: make(map[string]int64, len(cfg.Chats)),
		last:  make(map[string]*deliver.Message),
	}
	for name, chatID := range cfg.Chats {
		sink.chats[strings.ToLower(strings.TrimSpace(name))] = chatID
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sink.initErr = errors.New("telegram bot token is required")
		return sink
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if strings.TrimSpace(cfg.APIBase) != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")))
	}
	client, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sink.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sink
	}
	sink.client = client
	return sink
}

// ResolveChannel maps a channel name to its configured chat ID.
// Params: context and channel name (leading '#' is ignored).
// Returns: chat ID as string or ErrChannelNotFound.
func (t *Telegram) ResolveChannel(_ context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
	chatID, ok := t.chats[key]
	if !ok {
		return "", fmt.Errorf("%w: %q has no configured chat", domain.ErrChannelNotFound, name)
	}
	return strconv.FormatInt(chatID, 10), nil
}

// LastMessage returns the memoized last message posted to one chat.
// Params: context and resolved chat ID.
// Returns: message pointer, or nil when this instance has not posted yet.
func (t *Telegram) LastMessage(_ context.Context, channelID string) (*deliver.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	message, ok := t.last[channelID]
	if !ok {
		return nil, nil
	}
	copied := *message
	return &copied, nil
}

// DeleteMessage removes one previously posted message.
// Params: context and message identity.
// Returns: transport error.
func (t *Telegram) DeleteMessage(ctx context.Context, message deliver.Message) error {
	if t.initErr != nil {
		return t.initErr
	}
	chatID, err := strconv.ParseInt(message.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", message.ChannelID, err)
	}
	messageID, err := strconv.Atoi(message.ID)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", message.ID, err)
	}

	deleted, err := t.client.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("telegram delete: %w", err)
	}
	if !deleted {
		return errors.New("telegram delete was rejected")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if memo, ok := t.last[message.ChannelID]; ok && memo.ID == message.ID {
		delete(t.last, message.ChannelID)
	}
	return nil
}

// PostMessage posts one alert message and updates the per-chat memo.
// Telegram carries no attachment structure, so the title is rendered as a
// bold first line above the displayable text.
// Params: context, resolved chat ID, and post payload.
// Returns: posted message view or transport error.
func (t *Telegram) PostMessage(ctx context.Context, channelID string, request deliver.PostRequest) (deliver.Message, error) {
	if t.initErr != nil {
		return deliver.Message{}, t.initErr
	}
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return deliver.Message{}, fmt.Errorf("parse chat id %q: %w", channelID, err)
	}

	body := request.Text
	if strings.TrimSpace(request.Title) != "" {
		body = "*" + request.Title + "*\n" + body
	}
	sent, err := t.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   body,
	})
	if err != nil {
		return deliver.Message{}, fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return deliver.Message{}, errors.New("telegram send returned empty message id")
	}

	message := deliver.Message{
		ID:        strconv.Itoa(sent.ID),
		ChannelID: channelID,
		Author:    request.Service,
		Text:      request.Text,
		Attachment: &deliver.Attachment{
			Title: request.Title,
			Text:  request.Text,
			Color: request.Color,
		},
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	memo := message
	t.last[channelID] = &memo
	return message, nil
}
