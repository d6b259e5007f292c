package service

import (
	"strings"
	"time"
	"unicode"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
)

const (
	staleAfterHours  = 24
	agingAfterHours  = 12
	shortBodyLength  = 20
	longBodyLength   = 1500
	maxSpamScore     = 100
	defaultSubjectGC = "General information request"
	defaultSubjectPR = "Pre-registration request"
)

var (
	urlMarkers      = []string{"http", "www.", ".com"}
	suspiciousWords = []string{"free", "urgent", "promotion", "limited time", "click here"}
	browserFamilies = []string{"Mobile", "Chrome", "Firefox", "Safari", "Edge"}
)

// ApplyStatus moves msg to target and returns the updated copy. READ is a
// no-op once the message has left UNREAD; every other target must be
// reachable from the current status.
func ApplyStatus(msg models.Message, target models.MessageStatus, admin string, now time.Time) (models.Message, error) {
	if target == models.MessageStatusRead {
		if msg.Status != models.MessageStatusUnread {
			return msg, nil
		}
		msg.Status = models.MessageStatusRead
		msg.ReadAt = timePtr(now)
		msg.HandledBy = admin
		return msg, nil
	}

	if !msg.Status.CanTransitionTo(target) {
		return msg, appErrors.InvalidTransition(string(msg.Status), string(target))
	}

	msg.Status = target
	msg.HandledBy = admin
	if target == models.MessageStatusProcessed {
		msg.ProcessedAt = timePtr(now)
		if msg.ReadAt == nil {
			msg.ReadAt = timePtr(now)
		}
	}
	return msg, nil
}

// IsUrgent is true for pre-registrations still awaiting an admin.
func IsUrgent(msg *models.Message) bool {
	return msg.Kind == models.MessageKindPreRegistration && msg.Status.NeedsAction()
}

// AgeHours returns whole hours elapsed since creation.
func AgeHours(msg *models.Message, now time.Time) int {
	if msg.CreatedAt.IsZero() || now.Before(msg.CreatedAt) {
		return 0
	}
	return int(now.Sub(msg.CreatedAt) / time.Hour)
}

// IsStale flags messages left unhandled for more than a day.
func IsStale(msg *models.Message, now time.Time) bool {
	return AgeHours(msg, now) > staleAfterHours && msg.Status.NeedsAction()
}

// Priority ranks a message from 1 (highest) to 5.
func Priority(msg *models.Message, now time.Time) int {
	if IsUrgent(msg) {
		age := AgeHours(msg, now)
		switch {
		case age > staleAfterHours:
			return 1
		case age > agingAfterHours:
			return 2
		default:
			return 3
		}
	}
	if msg.Kind == models.MessageKindGeneralContact {
		return 4
	}
	return 5
}

// SpamScore is a heuristic in [0, 100].
func SpamScore(msg *models.Message) int {
	score := 0
	body := strings.ToLower(msg.Body)
	for _, marker := range urlMarkers {
		if strings.Contains(body, marker) {
			score += 30
			break
		}
	}
	for _, word := range suspiciousWords {
		if strings.Contains(body, word) {
			score += 15
		}
	}
	switch length := len([]rune(msg.Body)); {
	case length < shortBodyLength:
		score += 20
	case length > longBodyLength:
		score += 10
	}
	if strings.TrimSpace(msg.Email) == "" {
		score += 50
	}
	if score > maxSpamScore {
		return maxSpamScore
	}
	return score
}

// BrowserFamily does a coarse user agent classification.
func BrowserFamily(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown"
	}
	for _, family := range browserFamilies {
		if strings.Contains(userAgent, family) {
			return family
		}
	}
	return "Other"
}

// NormalizePhone keeps digits and a leading '+'.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Enrich fills intake-time fields before the message is persisted.
func Enrich(msg models.Message, tracking models.MessageTracking, formation *models.Formation) models.Message {
	msg.Source = strings.TrimSpace(tracking.Source)
	msg.IPAddress = tracking.IPAddress
	msg.UserAgent = tracking.UserAgent
	msg.Phone = NormalizePhone(msg.Phone)

	if formation != nil {
		if msg.FormationID == nil {
			id := formation.ID
			msg.FormationID = &id
		}
		if msg.FormationName == "" {
			msg.FormationName = formation.Name
		}
	}

	if strings.TrimSpace(msg.Subject) == "" {
		msg.Subject = defaultSubject(msg)
	}
	return msg
}

func defaultSubject(msg models.Message) string {
	if msg.Kind == models.MessageKindPreRegistration {
		if msg.FormationName == "" {
			return defaultSubjectPR
		}
		return "Pre-registration: " + msg.FormationName
	}
	return defaultSubjectGC
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// StaleCutoff is the latest creation instant for which IsStale can hold at now.
func StaleCutoff(now time.Time) time.Time {
	return now.Add(-(staleAfterHours + 1) * time.Hour)
}
