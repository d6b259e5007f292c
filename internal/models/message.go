package models

import "time"

// MessageKind distinguishes the two inbound submission forms.
type MessageKind string

const (
	MessageKindGeneralContact  MessageKind = "GENERAL_CONTACT"
	MessageKindPreRegistration MessageKind = "PRE_REGISTRATION"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	return k == MessageKindGeneralContact || k == MessageKindPreRegistration
}

// MessageStatus is the lifecycle state of an inbound message.
type MessageStatus string

const (
	MessageStatusUnread    MessageStatus = "UNREAD"
	MessageStatusRead      MessageStatus = "READ"
	MessageStatusProcessed MessageStatus = "PROCESSED"
	MessageStatusArchived  MessageStatus = "ARCHIVED"
)

// MessageStatuses lists every status in lifecycle order.
var MessageStatuses = []MessageStatus{
	MessageStatusUnread,
	MessageStatusRead,
	MessageStatusProcessed,
	MessageStatusArchived,
}

var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageStatusUnread:    {MessageStatusRead, MessageStatusProcessed, MessageStatusArchived},
	MessageStatusRead:      {MessageStatusProcessed, MessageStatusArchived},
	MessageStatusProcessed: {MessageStatusArchived},
	MessageStatusArchived:  nil,
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	_, ok := messageTransitions[s]
	return ok
}

// NextStatuses returns the statuses reachable from s in one step.
func (s MessageStatus) NextStatuses() []MessageStatus {
	next := messageTransitions[s]
	out := make([]MessageStatus, len(next))
	copy(out, next)
	return out
}

// CanTransitionTo reports whether target is directly reachable from s.
func (s MessageStatus) CanTransitionTo(target MessageStatus) bool {
	for _, candidate := range messageTransitions[s] {
		if candidate == target {
			return true
		}
	}
	return false
}

// NeedsAction is true while an admin has not yet processed the message.
func (s MessageStatus) NeedsAction() bool {
	return s == MessageStatusUnread || s == MessageStatusRead
}

// Message is an inbound contact or pre-registration submission.
type Message struct {
	ID            string        `db:"id" json:"id"`
	Kind          MessageKind   `db:"kind" json:"kind"`
	Status        MessageStatus `db:"status" json:"status"`
	Name          string        `db:"name" json:"name"`
	Email         string        `db:"email" json:"email"`
	Phone         string        `db:"phone" json:"phone"`
	City          string        `db:"city" json:"city"`
	Subject       string        `db:"subject" json:"subject"`
	Body          string        `db:"body" json:"body"`
	Availability  string        `db:"availability" json:"availability"`
	FormationID   *string       `db:"formation_id" json:"formation_id,omitempty"`
	FormationName string        `db:"formation_name" json:"formation_name"`
	Source        string        `db:"source" json:"source"`
	IPAddress     string        `db:"ip_address" json:"ip_address"`
	UserAgent     string        `db:"user_agent" json:"user_agent"`
	HandledBy     string        `db:"handled_by" json:"handled_by"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	ReadAt        *time.Time    `db:"read_at" json:"read_at,omitempty"`
	ProcessedAt   *time.Time    `db:"processed_at" json:"processed_at,omitempty"`

	EmailConfirmationSent    bool       `db:"email_confirmation_sent" json:"email_confirmation_sent"`
	EmailConfirmationAt      *time.Time `db:"email_confirmation_at" json:"email_confirmation_at,omitempty"`
	WhatsAppNotificationSent bool       `db:"whatsapp_notification_sent" json:"whatsapp_notification_sent"`
	WhatsAppNotificationAt   *time.Time `db:"whatsapp_notification_at" json:"whatsapp_notification_at,omitempty"`
}

// MessageTracking carries request metadata captured at intake.
type MessageTracking struct {
	Source    string
	IPAddress string
	UserAgent string
}

// MessageFilter captures admin inbox query criteria.
type MessageFilter struct {
	Status        *MessageStatus
	Kind          *MessageKind
	FormationName string
	Email         string
	Source        string
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}

// MessageStats summarises the inbox.
type MessageStats struct {
	Total        int                   `json:"total"`
	ByStatus     map[MessageStatus]int `json:"by_status"`
	ByKind       map[MessageKind]int   `json:"by_kind"`
	Urgent       int                   `json:"urgent"`
	Stale        int                   `json:"stale"`
	LastDay      int                   `json:"last_day"`
	LastWeek     int                   `json:"last_week"`
	LastMonth    int                   `json:"last_month"`
	EmailsSent   int                   `json:"emails_sent"`
	WhatsAppSent int                   `json:"whatsapp_sent"`
	GeneratedAt  time.Time             `json:"generated_at"`
}
