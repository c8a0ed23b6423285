package messenger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body keyed by the app secret.
const SignatureHeader = "X-Hub-Signature-256"

var (
	ErrMissingSignature = errors.New("messenger: missing " + SignatureHeader)
	ErrBadSignature     = errors.New("messenger: signature mismatch")
)

// WebhookPayload is the page subscription notification body.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one page's batch of messaging events.
type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// Party identifies a sender or recipient.
type Party struct {
	ID string `json:"id"`
}

// MessagingEvent is a single messaging notification.
type MessagingEvent struct {
	Sender    Party `json:"sender"`
	Recipient Party `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message,omitempty"`
	Postback *struct {
		MID     string `json:"mid"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback,omitempty"`
}

// ParseWebhook decodes a page notification into inbound events. Non-page
// objects and events without text are skipped. Echoes are kept and flagged so
// the gateway decides what to drop.
func ParseWebhook(body []byte) ([]model.InboundEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if payload.Object != "page" {
		return nil, nil
	}

	var events []model.InboundEvent
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			var mid, text string
			var echo bool
			switch {
			case m.Message != nil:
				mid, text, echo = m.Message.MID, m.Message.Text, m.Message.IsEcho
			case m.Postback != nil:
				mid, text = m.Postback.MID, m.Postback.Title
			default:
				continue
			}
			if strings.TrimSpace(text) == "" {
				continue
			}

			channelID := m.Recipient.ID
			senderID := m.Sender.ID
			if echo {
				// echoes are sent by the page, so the roles are swapped
				channelID, senderID = m.Sender.ID, m.Recipient.ID
			}
			if channelID == "" {
				channelID = entry.ID
			}

			events = append(events, model.NewInboundEvent(channelID, senderID, mid, text, echo, timestamp(m.Timestamp)))
		}
	}
	return events, nil
}

func timestamp(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// VerifySignature checks header ("sha256=<hex>") against body and secret.
func VerifySignature(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, "sha256=") {
		return fmt.Errorf("%w: invalid format", ErrBadSignature)
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return fmt.Errorf("%w: invalid hex", ErrBadSignature)
	}
	if !hmac.Equal(provided, Sign(secret, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
