// Package protocol defines the JSON messages exchanged between page windows
// and the edge worker.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types. Page → worker: SkipWaiting, NotificationClick,
// NotificationClose, ClientState. Worker → page: everything else.
const (
	TypeSkipWaiting       = "SKIP_WAITING"
	TypeActivated         = "SW_ACTIVATED"
	TypeRegistration      = "REGISTRATION"
	TypeNotification      = "NOTIFICATION"
	TypeNotificationClose = "NOTIFICATION_CLOSE"
	TypeNotificationClick = "NOTIFICATION_CLICK"
	TypeNavigate          = "NAVIGATE"
	TypeFocus             = "FOCUS"
	TypeClientState       = "CLIENT_STATE"
)

// Message is the envelope for every page ↔ worker message. Only the fields
// relevant to Type are set.
type Message struct {
	Type         string             `json:"type"`
	Version      string             `json:"version,omitempty"`
	URL          string             `json:"url,omitempty"`
	Tag          string             `json:"tag,omitempty"`
	Focused      *bool              `json:"focused,omitempty"`
	Visible      *bool              `json:"visible,omitempty"`
	Registration *RegistrationState `json:"registration,omitempty"`
	Notification *Notification      `json:"notification,omitempty"`
}

// RegistrationState reports which release versions occupy each lifecycle
// slot. Empty means the slot is vacant.
type RegistrationState struct {
	Active     string `json:"active,omitempty"`
	Waiting    string `json:"waiting,omitempty"`
	Installing string `json:"installing,omitempty"`
}

// Notification is a displayable notification derived from a push payload.
type Notification struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon,omitempty"`
	Badge     string    `json:"badge,omitempty"`
	Tag       string    `json:"tag"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Decode parses a message and rejects envelopes without a type.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("invalid message: missing type")
	}
	return m, nil
}

// SkipWaiting is the page's request to promote the waiting version.
func SkipWaiting() Message { return Message{Type: TypeSkipWaiting} }

// Activated announces that version finished activating.
func Activated(version string) Message { return Message{Type: TypeActivated, Version: version} }

// Registration reports the current lifecycle slots.
func Registration(state RegistrationState) Message {
	return Message{Type: TypeRegistration, Registration: &state}
}

func Navigate(url string) Message { return Message{Type: TypeNavigate, URL: url} }

func Focus() Message { return Message{Type: TypeFocus} }

func ShowNotification(n Notification) Message {
	return Message{Type: TypeNotification, Tag: n.Tag, Notification: &n}
}

func CloseNotification(tag string) Message {
	return Message{Type: TypeNotificationClose, Tag: tag}
}
