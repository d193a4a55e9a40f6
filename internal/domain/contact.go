package domain

import (
	"encoding/json"
	"time"
)

// Contact is a single addressable person within a contact list. Fields holds
// the raw field bag used for personalization; it is usually a JSON object but
// older rows may carry a JSON string wrapping one.
type Contact struct {
	ID        string          `json:"id" db:"id"`
	ListID    string          `json:"list_id" db:"list_id"`
	Email     string          `json:"email" db:"email"`
	Fields    json.RawMessage `json:"fields" db:"fields"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ContactList groups contacts owned by one user.
type ContactList struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Name         string    `json:"name" db:"name"`
	ContactCount int       `json:"contact_count" db:"contact_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
