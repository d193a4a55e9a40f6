package domain

import "time"

// TransportKind identifies the mail transport used for delivery.
type TransportKind string

const (
	TransportGmail TransportKind = "gmail"
	TransportSES   TransportKind = "ses"
)

// EmailMessage is the fully-resolved message handed to a transport.
// Personalization and tracking injection are complete by this point.
type EmailMessage struct {
	CampaignID  string `json:"campaign_id"`
	RecipientID string `json:"recipient_id"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body"`
}

// SendResult is returned by a transport after the provider accepted a message.
type SendResult struct {
	MessageID string        `json:"message_id"`
	ThreadID  string        `json:"thread_id,omitempty"`
	Transport TransportKind `json:"transport"`
	SentAt    time.Time     `json:"sent_at"`
}

// EventType enumerates the engagement events recorded by tracking.
type EventType string

const (
	EventOpen  EventType = "OPEN"
	EventClick EventType = "CLICK"
)

// Event is an append-only engagement record for one recipient. Multiple opens
// and clicks per recipient are all kept.
type Event struct {
	ID          string    `json:"id" db:"id"`
	RecipientID string    `json:"recipient_id" db:"recipient_id"`
	Type        EventType `json:"type" db:"type"`
	URL         string    `json:"url,omitempty" db:"url"`
	UserAgent   string    `json:"user_agent,omitempty" db:"user_agent"`
	IPAddress   string    `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
