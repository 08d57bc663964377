package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EngagementEventType enumerates in-app viewer engagement events.
type EngagementEventType string

const (
	EventSectionViewed    EngagementEventType = "section_viewed"
	EventPricingChanged   EngagementEventType = "pricing_changed"
	EventAddonToggled     EngagementEventType = "addon_toggled"
	EventSignatureStarted EngagementEventType = "signature_started"
	EventFormFilled       EngagementEventType = "form_filled"
)

// Valid reports whether the event type is one of the closed enum values.
func (t EngagementEventType) Valid() bool {
	switch t {
	case EventSectionViewed, EventPricingChanged, EventAddonToggled,
		EventSignatureStarted, EventFormFilled:
		return true
	}
	return false
}

// ProposalView is one row per (proposal, session). Repeated views bump
// LastViewedAt only; FirstViewedAt never changes.
type ProposalView struct {
	ID            uuid.UUID `json:"id"`
	ProposalID    uuid.UUID `json:"proposal_id"`
	SessionID     string    `json:"session_id"`
	ViewerEmail   string    `json:"viewer_email,omitempty"`
	ViewerIP      string    `json:"viewer_ip,omitempty"`
	FirstViewedAt time.Time `json:"first_viewed_at"`
	LastViewedAt  time.Time `json:"last_viewed_at"`
}

// EngagementEvent is an append-only log entry; immutable once created.
type EngagementEvent struct {
	ID         uuid.UUID           `json:"id"`
	ProposalID uuid.UUID           `json:"proposal_id"`
	SessionID  string              `json:"session_id"`
	EventType  EngagementEventType `json:"event_type"`
	EventData  json.RawMessage     `json:"event_data,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// DeliveryStatus enumerates email delivery states.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryOpened  DeliveryStatus = "opened"
	DeliveryViewed  DeliveryStatus = "viewed"
	DeliverySigned  DeliveryStatus = "signed"
	DeliveryFailed  DeliveryStatus = "failed"
)

// EmailDelivery is one row per send attempt. The tracking token is the only
// external handle; the row id never leaves the server.
type EmailDelivery struct {
	ID             uuid.UUID      `json:"id"`
	ProposalID     uuid.UUID      `json:"proposal_id"`
	UserID         uuid.UUID      `json:"user_id"`
	RecipientEmail string         `json:"recipient_email"`
	RecipientName  string         `json:"recipient_name,omitempty"`
	Subject        string         `json:"subject"`
	Message        string         `json:"message,omitempty"`
	TrackingToken  string         `json:"-"`
	Status         DeliveryStatus `json:"status"`
	SentAt         time.Time      `json:"sent_at"`
	OpenedAt       *time.Time     `json:"opened_at,omitempty"`
	LastViewedAt   *time.Time     `json:"last_viewed_at,omitempty"`
	ViewCount      int            `json:"view_count"`
	TotalTimeSpent int            `json:"total_time_spent"` // seconds, monotonic
	ReminderSent   bool           `json:"reminder_sent"`
}

// EmailTrackingEventType enumerates fine-grained delivery tracking events.
type EmailTrackingEventType string

const (
	TrackOpen        EmailTrackingEventType = "open"
	TrackView        EmailTrackingEventType = "view"
	TrackScroll      EmailTrackingEventType = "scroll"
	TrackInteraction EmailTrackingEventType = "interaction"
	TrackTimeUpdate  EmailTrackingEventType = "time_update"
)

// EmailTrackingEvent is an append-only log entry tied to one delivery.
type EmailTrackingEvent struct {
	ID         uuid.UUID              `json:"id"`
	DeliveryID uuid.UUID              `json:"delivery_id"`
	EventType  EmailTrackingEventType `json:"event_type"`
	EventData  json.RawMessage        `json:"event_data,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
