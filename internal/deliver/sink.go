package deliver

import "context"

// Attachment is the structured part of a chat message.
// Params: title/text pair and severity-derived color.
// Returns: destination-rendered block owned by the chat sink.
type Attachment struct {
	Title string
	Text  string
	Color string
}

// Message is one chat message as observed through a sink.
// The core never caches messages beyond the single most-recent lookup per
// post attempt.
// Params: sink-scoped ID, channel, author identity, and text content.
// Returns: read-only view of destination state.
type Message struct {
	ID         string
	ChannelID  string
	Author     string
	Text       string
	Attachment *Attachment
}

// DisplayText returns the human-visible text of the message.
// Params: none.
// Returns: attachment text when present, otherwise the plain text body.
func (m Message) DisplayText() string {
	if m.Attachment != nil && m.Attachment.Text != "" {
		return m.Attachment.Text
	}
	return m.Text
}

// PostRequest describes one message to post.
// Params: displayable text, title, severity color, and author identity.
// Returns: sink-agnostic post payload.
type PostRequest struct {
	Text    string
	Title   string
	Color   string
	Service string
}

// ChatSink is the capability contract the poster requires from a chat
// destination. Implementations resolve channels, expose the most recent
// message, and post/delete messages; retry policy stays with the caller.
// Params: context on every call for transport cancellation.
// Returns: typed failures per operation.
type ChatSink interface {
	ResolveChannel(ctx context.Context, name string) (string, error)
	LastMessage(ctx context.Context, channelID string) (*Message, error)
	DeleteMessage(ctx context.Context, message Message) error
	PostMessage(ctx context.Context, channelID string, request PostRequest) (Message, error)
}
