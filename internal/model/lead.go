package model

import "time"

// Lead is the record handed to the lead sink when the funnel completes.
type Lead struct {
	TenantID  string    `json:"tenantId"`
	SenderID  string    `json:"senderId"`
	Service   string    `json:"service"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	Product   string    `json:"product,omitempty"`
	Size      string    `json:"size,omitempty"`
	Color     string    `json:"color,omitempty"`
	City      string    `json:"city,omitempty"`
	Address   string    `json:"address,omitempty"`
	TraceID   string    `json:"traceId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeadFromSession copies the captured funnel fields into a lead.
func LeadFromSession(s *Session, now time.Time) Lead {
	return Lead{
		TenantID:  s.TenantID,
		SenderID:  s.SenderID,
		Service:   s.Field(FieldService),
		Name:      s.Field(FieldName),
		Contact:   s.Field(FieldContact),
		Product:   s.Field(FieldProduct),
		Size:      s.Field(FieldSize),
		Color:     s.Field(FieldColor),
		City:      s.Field(FieldCity),
		Address:   s.Field(FieldAddress),
		TraceID:   s.TraceID,
		CreatedAt: now,
	}
}
