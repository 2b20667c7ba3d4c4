package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// rawPayload mirrors the inbound webhook document before normalization.
// Params: top-level text fields plus Slack-style attachment list.
// Returns: intermediate decode target shared by transformers.
type rawPayload struct {
	Title       string `json:"title"`
	Message     string `json:"message"`
	Text        string `json:"text"`
	Attachments []struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"attachments"`
}

// Transformer decomposes one source-specific payload into alert text fields.
// Params: decoded raw payload.
// Returns: title, message, and decomposition error.
type Transformer func(raw rawPayload) (title, message string, err error)

// transformers maps known source services to their payload shapes.
// Services without an entry fall back to the generic transformer.
var transformers = map[string]Transformer{
	"sensu": transformSensu,
}

// Normalize builds one Alert from an inbound event document.
// Params: originating service name, raw JSON body, and creation time.
// Returns: alert with identity fields set and severity/target still unset.
func Normalize(service string, raw []byte, now time.Time) (*Alert, error) {
	trimmedService := strings.TrimSpace(service)
	if trimmedService == "" {
		return nil, errors.New("service name is required")
	}

	var payload rawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode alert payload: %w", err)
	}

	transform, ok := transformers[strings.ToLower(trimmedService)]
	if !ok {
		transform = transformGeneric
	}
	title, message, err := transform(payload)
	if err != nil {
		return nil, fmt.Errorf("normalize %s alert: %w", trimmedService, err)
	}

	return &Alert{
		ID:        uuid.NewString(),
		Service:   trimmedService,
		Title:     title,
		Message:   message,
		Timestamp: now,
	}, nil
}

// transformSensu extracts alert text from a sensu handler payload.
// Sensu handlers post Slack-shaped documents where the human-readable
// content lives in the first attachment.
// Params: decoded raw payload.
// Returns: title/message pair or error when no text is present.
func transformSensu(payload rawPayload) (string, string, error) {
	if len(payload.Attachments) > 0 {
		attachment := payload.Attachments[0]
		if strings.TrimSpace(attachment.Text) != "" {
			return attachment.Title, attachment.Text, nil
		}
	}
	return transformGeneric(payload)
}

// transformGeneric extracts alert text from plain title/message documents.
// Params: decoded raw payload.
// Returns: title/message pair or error when message text is absent.
func transformGeneric(payload rawPayload) (string, string, error) {
	message := payload.Message
	if strings.TrimSpace(message) == "" {
		message = payload.Text
	}
	if strings.TrimSpace(message) == "" {
		return "", "", errors.New("payload contains no message text")
	}
	return payload.Title, message, nil
}
