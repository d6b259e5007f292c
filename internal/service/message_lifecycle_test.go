package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
)

var lifecycleNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestTransitionGraph(t *testing.T) {
	assert.Empty(t, models.MessageStatusArchived.NextStatuses())
	for _, status := range models.MessageStatuses {
		if status == models.MessageStatusArchived {
			continue
		}
		assert.NotEmpty(t, status.NextStatuses(), status)
	}
	for _, status := range models.MessageStatuses {
		assert.False(t, status.CanTransitionTo(models.MessageStatusUnread), status)
		assert.False(t, status.CanTransitionTo(status), status)
	}
}

func TestApplyStatusRead(t *testing.T) {
	msg := models.Message{Status: models.MessageStatusUnread}
	read, err := ApplyStatus(msg, models.MessageStatusRead, "admin@x", lifecycleNow)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, read.Status)
	require.NotNil(t, read.ReadAt)
	assert.Equal(t, lifecycleNow, *read.ReadAt)
	assert.Equal(t, "admin@x", read.HandledBy)

	later := lifecycleNow.Add(time.Hour)
	again, err := ApplyStatus(read, models.MessageStatusRead, "other", later)
	require.NoError(t, err)
	assert.Equal(t, read, again)

	processed := models.Message{Status: models.MessageStatusProcessed, HandledBy: "a"}
	same, err := ApplyStatus(processed, models.MessageStatusRead, "b", later)
	require.NoError(t, err)
	assert.Equal(t, processed, same)
}

func TestApplyStatusProcessedBackfillsReadAt(t *testing.T) {
	msg := models.Message{Status: models.MessageStatusUnread}
	out, err := ApplyStatus(msg, models.MessageStatusProcessed, "admin", lifecycleNow)
	require.NoError(t, err)
	require.NotNil(t, out.ReadAt)
	require.NotNil(t, out.ProcessedAt)
	assert.Equal(t, *out.ReadAt, *out.ProcessedAt)

	readAt := lifecycleNow.Add(-time.Hour)
	msg = models.Message{Status: models.MessageStatusRead, ReadAt: &readAt}
	out, err = ApplyStatus(msg, models.MessageStatusProcessed, "admin", lifecycleNow)
	require.NoError(t, err)
	assert.Equal(t, readAt, *out.ReadAt)
	assert.False(t, out.ReadAt.After(*out.ProcessedAt))
}

func TestApplyStatusArchivedStampsAdminOnly(t *testing.T) {
	msg := models.Message{Status: models.MessageStatusProcessed}
	out, err := ApplyStatus(msg, models.MessageStatusArchived, "root", lifecycleNow)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusArchived, out.Status)
	assert.Equal(t, "root", out.HandledBy)
	assert.Nil(t, out.ReadAt)
	assert.Nil(t, out.ProcessedAt)
}

func TestApplyStatusRejectsInvalidTransition(t *testing.T) {
	msg := models.Message{Status: models.MessageStatusArchived, HandledBy: "root"}
	out, err := ApplyStatus(msg, models.MessageStatusProcessed, "other", lifecycleNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "ARCHIVED -> PROCESSED")
	assert.Equal(t, msg, out)

	_, err = ApplyStatus(models.Message{Status: models.MessageStatusRead}, models.MessageStatusUnread, "x", lifecycleNow)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestUrgencyAndPriority(t *testing.T) {
	pre := models.Message{Kind: models.MessageKindPreRegistration, Status: models.MessageStatusUnread}

	pre.CreatedAt = lifecycleNow.Add(-2 * time.Hour)
	assert.True(t, IsUrgent(&pre))
	assert.Equal(t, 3, Priority(&pre, lifecycleNow))

	pre.CreatedAt = lifecycleNow.Add(-13 * time.Hour)
	assert.Equal(t, 2, Priority(&pre, lifecycleNow))

	pre.CreatedAt = lifecycleNow.Add(-25 * time.Hour)
	assert.Equal(t, 1, Priority(&pre, lifecycleNow))
	assert.True(t, IsStale(&pre, lifecycleNow))
	assert.Equal(t, 25, AgeHours(&pre, lifecycleNow))

	pre.Status = models.MessageStatusRead
	assert.True(t, IsStale(&pre, lifecycleNow), "read but unprocessed messages still need action")

	pre.Status = models.MessageStatusProcessed
	assert.False(t, IsUrgent(&pre))
	assert.False(t, IsStale(&pre, lifecycleNow))
	assert.Equal(t, 5, Priority(&pre, lifecycleNow))

	contact := models.Message{Kind: models.MessageKindGeneralContact, Status: models.MessageStatusUnread, CreatedAt: lifecycleNow.Add(-48 * time.Hour)}
	assert.False(t, IsUrgent(&contact))
	assert.True(t, IsStale(&contact, lifecycleNow))
	assert.Equal(t, 4, Priority(&contact, lifecycleNow))
}

func TestSpamScore(t *testing.T) {
	assert.Equal(t, 70, SpamScore(&models.Message{Body: "hi"}))

	clean := models.Message{Email: "a@b.c", Body: "I would like details about the evening classes."}
	assert.Equal(t, 0, SpamScore(&clean))

	withURL := clean
	withURL.Body += " see http://x and www.y.com"
	assert.Equal(t, 30, SpamScore(&withURL))

	words := withURL
	words.Body += " FREE free Urgent click here"
	assert.Equal(t, 75, SpamScore(&words))

	saturated := words
	saturated.Email = " "
	saturated.Body += " promotion limited time"
	assert.Equal(t, 100, SpamScore(&saturated))

	long := clean
	long.Body = strings.Repeat("a", 1501)
	assert.Equal(t, 10, SpamScore(&long))
}

func TestSpamScoreMonotonic(t *testing.T) {
	msg := models.Message{Email: "a@b.c", Body: "Hello, I want information on the course."}
	prev := SpamScore(&msg)
	for _, extra := range []string{" www.site", " free", " urgent", " promotion", " limited time", " click here"} {
		msg.Body += extra
		score := SpamScore(&msg)
		assert.GreaterOrEqual(t, score, prev)
		assert.LessOrEqual(t, score, 100)
		prev = score
	}
	msg.Email = ""
	assert.GreaterOrEqual(t, SpamScore(&msg), prev)
}

func TestBrowserFamily(t *testing.T) {
	assert.Equal(t, "Unknown", BrowserFamily(""))
	assert.Equal(t, "Mobile", BrowserFamily("Mozilla/5.0 (iPhone) Mobile Safari"))
	assert.Equal(t, "Chrome", BrowserFamily("Mozilla/5.0 Chrome/120 Safari/537"))
	assert.Equal(t, "Firefox", BrowserFamily("Mozilla/5.0 Firefox/121"))
	assert.Equal(t, "Safari", BrowserFamily("Mozilla/5.0 Version/17 Safari/605"))
	assert.Equal(t, "Edge", BrowserFamily("Mozilla/5.0 Edge/18"))
	assert.Equal(t, "Other", BrowserFamily("curl/8.0"))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+237699001122", NormalizePhone(" +237 (699) 00-11-22 "))
	assert.Equal(t, "0612345678", NormalizePhone("06.12.34.56.78"))
	assert.Equal(t, "33612", NormalizePhone("33+612"))
	assert.Equal(t, "", NormalizePhone("   "))
}

func TestEnrich(t *testing.T) {
	formation := &models.Formation{ID: "f-9", Name: "Data Science"}
	msg := models.Message{Kind: models.MessageKindPreRegistration, Phone: "+33 6 12"}
	out := Enrich(msg, models.MessageTracking{Source: " landing ", IPAddress: "10.0.0.1", UserAgent: "ua"}, formation)

	assert.Equal(t, "landing", out.Source)
	assert.Equal(t, "10.0.0.1", out.IPAddress)
	assert.Equal(t, "ua", out.UserAgent)
	assert.Equal(t, "+33612", out.Phone)
	require.NotNil(t, out.FormationID)
	assert.Equal(t, "f-9", *out.FormationID)
	assert.Equal(t, "Data Science", out.FormationName)
	assert.Equal(t, "Pre-registration: Data Science", out.Subject)

	frozen := models.Message{Kind: models.MessageKindPreRegistration, FormationName: "Old name", Subject: "Mine"}
	out = Enrich(frozen, models.MessageTracking{}, formation)
	assert.Equal(t, "Old name", out.FormationName)
	assert.Equal(t, "Mine", out.Subject)

	contact := Enrich(models.Message{Kind: models.MessageKindGeneralContact}, models.MessageTracking{}, nil)
	assert.Equal(t, "General information request", contact.Subject)
	assert.Nil(t, contact.FormationID)
}
