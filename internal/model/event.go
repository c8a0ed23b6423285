// Package model defines data structures shared across the pipeline.
package model

import (
	"strings"
	"time"
)

// InboundEvent is one messaging-platform notification addressed to a page.
type InboundEvent struct {
	ChannelID  string    `json:"channelId"`
	SenderID   string    `json:"senderId"`
	EventID    string    `json:"eventId,omitempty"`
	Text       string    `json:"text"`
	IsEcho     bool      `json:"isEcho"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// NewInboundEvent trims the identifiers and text of a raw platform event.
func NewInboundEvent(channelID, senderID, eventID, text string, isEcho bool, receivedAt time.Time) InboundEvent {
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return InboundEvent{
		ChannelID:  strings.TrimSpace(channelID),
		SenderID:   strings.TrimSpace(senderID),
		EventID:    strings.TrimSpace(eventID),
		Text:       strings.TrimSpace(text),
		IsEcho:     isEcho,
		ReceivedAt: receivedAt,
	}
}

// Attributable reports whether the event carries a sender and non-blank text.
func (e InboundEvent) Attributable() bool {
	return strings.TrimSpace(e.SenderID) != "" && strings.TrimSpace(e.Text) != ""
}
