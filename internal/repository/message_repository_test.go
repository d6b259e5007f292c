package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
)

var messageColumnNames = []string{"id", "kind", "status", "name", "email", "phone", "city", "subject", "body",
	"availability", "formation_id", "formation_name", "source", "ip_address", "user_agent", "handled_by",
	"created_at", "read_at", "processed_at", "email_confirmation_sent", "email_confirmation_at",
	"whatsapp_notification_sent", "whatsapp_notification_at"}

func messageRow(id string, status models.MessageStatus) *sqlmock.Rows {
	return sqlmock.NewRows(messageColumnNames).AddRow(
		id, "PRE_REGISTRATION", string(status), "Awa", "awa@example.com", "+237600", "Douala", "Pre-registration: Web",
		"hello there", "evenings", "f-1", "Web", "landing", "10.0.0.1", "Chrome", "", time.Now(), nil, nil,
		false, nil, false, nil,
	)
}

func TestMessageRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).WillReturnResult(sqlmock.NewResult(1, 1))
	msg := &models.Message{Kind: models.MessageKindGeneralContact, Name: "Awa", Body: "hello"}
	require.NoError(t, repo.Create(context.Background(), msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.MessageStatusUnread, msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, kind, status")).
		WithArgs("m-1").
		WillReturnRows(messageRow("m-1", models.MessageStatusUnread))
	msg, err := repo.FindByID(context.Background(), "m-1")
	require.NoError(t, err)
	require.NotNil(t, msg.FormationID)
	assert.Equal(t, "f-1", *msg.FormationID)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, kind, status")).
		WithArgs("m-2").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "m-2")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	status := models.MessageStatusUnread
	kind := models.MessageKindPreRegistration
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	filter := models.MessageFilter{Status: &status, Kind: &kind, FormationName: "Web", Email: "AWA@example.com", From: &from, Page: 1, PageSize: 5}

	mock.ExpectQuery(`(?s)SELECT id, kind, status.*WHERE status = \$1 AND kind = \$2 AND LOWER\(formation_name\) LIKE \$3 AND LOWER\(email\) = \$4 AND created_at >= \$5 ORDER BY created_at DESC LIMIT 5 OFFSET 0`).
		WithArgs(status, kind, "%web%", "awa@example.com", from).
		WillReturnRows(messageRow("m-1", status))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM messages WHERE")).
		WithArgs(status, kind, "%web%", "awa@example.com", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepositoryUpdateStatusConditional(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	now := time.Now()
	msg := &models.Message{ID: "m-1", Status: models.MessageStatusProcessed, ReadAt: &now, ProcessedAt: &now, HandledBy: "admin"}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET status = $3")).
		WithArgs("m-1", models.MessageStatusRead, models.MessageStatusProcessed, &now, &now, "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), msg, models.MessageStatusRead))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET status = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateStatus(context.Background(), msg, models.MessageStatusUnread)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepositoryMarkSent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("SET email_confirmation_sent = TRUE")).WithArgs("m-1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET whatsapp_notification_sent = TRUE")).WithArgs("m-1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkEmailSent(context.Background(), "m-1", at))
	require.NoError(t, repo.MarkWhatsAppSent(context.Background(), "m-1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepositoryStats(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	cutoff := now.Add(-25 * time.Hour)
	rows := sqlmock.NewRows([]string{"total", "unread", "read", "processed", "archived", "general_contact", "pre_registration",
		"urgent", "stale", "last_day", "last_week", "last_month", "emails_sent", "whatsapp_sent"}).
		AddRow(10, 4, 2, 3, 1, 6, 4, 3, 2, 1, 5, 9, 8, 2)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE status = 'UNREAD') AS unread")).
		WithArgs(cutoff, now.AddDate(0, 0, -1), now.AddDate(0, 0, -7), now.AddDate(0, -1, 0)).
		WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(), now, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 4, stats.ByStatus[models.MessageStatusUnread])
	assert.Equal(t, 4, stats.ByKind[models.MessageKindPreRegistration])
	assert.Equal(t, 3, stats.Urgent)
	assert.Equal(t, 2, stats.Stale)
	assert.Equal(t, 9, stats.LastMonth)
	require.NoError(t, mock.ExpectationsWereMet())
}
