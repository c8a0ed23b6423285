package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Step is a state of the lead-capture funnel.
type Step string

const (
	StepStart   Step = "START"
	StepService Step = "SERVICE"
	StepName    Step = "NAME"
	StepContact Step = "CONTACT"
	StepDone    Step = "DONE"
)

// Captured field names stored in Session.Data.
const (
	FieldService = "service"
	FieldName    = "name"
	FieldContact = "contact"
	FieldProduct = "product"
	FieldSize    = "size"
	FieldColor   = "color"
	FieldCity    = "city"
	FieldAddress = "address"
)

// IntentOrder is the intent recorded once the funnel has started.
const IntentOrder = "order"

// Session is the durable conversation state of one customer with one tenant.
type Session struct {
	TenantID    string            `json:"tenantId"`
	SenderID    string            `json:"senderId"`
	Intent      *string           `json:"intent"`
	Step        *Step             `json:"step"`
	Data        map[string]string `json:"data"`
	TraceID     string            `json:"traceId"`
	LastEventID string            `json:"lastEventId,omitempty"`
	LastReply   string            `json:"lastReply,omitempty"`
	Turns       int               `json:"turns"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// NewSession returns a fresh, not-yet-started session.
func NewSession(tenantID, senderID, traceID string, now time.Time) *Session {
	return &Session{
		TenantID:  tenantID,
		SenderID:  senderID,
		Data:      map[string]string{},
		TraceID:   traceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CurrentStep returns the funnel step, treating an unset step as START.
func (s *Session) CurrentStep() Step {
	if s.Step == nil || *s.Step == "" {
		return StepStart
	}
	return *s.Step
}

// SetStep moves the session to step.
func (s *Session) SetStep(step Step) {
	s.Step = &step
}

// SetIntent records the customer intent.
func (s *Session) SetIntent(intent string) {
	s.Intent = &intent
}

// Field returns a captured field, or "" when it was never captured.
func (s *Session) Field(name string) string {
	if s.Data == nil {
		return ""
	}
	return s.Data[name]
}

// Capture stores a field value. Blank values are ignored so keys only exist once captured.
func (s *Session) Capture(name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if s.Data == nil {
		s.Data = map[string]string{}
	}
	s.Data[name] = value
}

// Summary renders the session as a compact context string for the AI fallback.
func (s *Session) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step=%s", s.CurrentStep())
	if s.Intent != nil {
		fmt.Fprintf(&b, "; intent=%s", *s.Intent)
	}
	keys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "; %s=%s", k, s.Data[k])
	}
	return b.String()
}
