package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
)

const messageColumns = `id, kind, status, name, email, phone, city, subject, body, availability, formation_id,
       formation_name, source, ip_address, user_agent, handled_by, created_at, read_at, processed_at,
       email_confirmation_sent, email_confirmation_at, whatsapp_notification_sent, whatsapp_notification_at`

// MessageRepository persists inbound contact and pre-registration messages.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a new message.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusUnread
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO messages (id, kind, status, name, email, phone, city, subject, body, availability,
	formation_id, formation_name, source, ip_address, user_agent, handled_by, created_at)
	VALUES (:id, :kind, :status, :name, :email, :phone, :city, :subject, :body, :availability,
	:formation_id, :formation_name, :source, :ip_address, :user_agent, :handled_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// FindByID fetches a message by identifier.
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find message by id: %w", err)
	}
	return &msg, nil
}

// List returns messages matching the filter (newest first) with the total count.
func (r *MessageRepository) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int, error) {
	where, args := messageConditions(filter)
	page, pageSize := normalisePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s FROM messages%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		messageColumns, where, pageSize, (page-1)*pageSize)
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM messages"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	return messages, total, nil
}

// ListAll returns every message matching the filter, bounded by limit.
func (r *MessageRepository) ListAll(ctx context.Context, filter models.MessageFilter, limit int) ([]models.Message, error) {
	where, args := messageConditions(filter)
	query := fmt.Sprintf("SELECT %s FROM messages%s ORDER BY created_at DESC LIMIT %d", messageColumns, where, limit)
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("list all messages: %w", err)
	}
	return messages, nil
}

func messageConditions(filter models.MessageFilter) (string, []interface{}) {
	conditions := make([]string, 0, 7)
	args := make([]interface{}, 0, 7)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.FormationName != "" {
		args = append(args, "%"+strings.ToLower(filter.FormationName)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(formation_name) LIKE $%d", len(args)))
	}
	if filter.Email != "" {
		args = append(args, strings.ToLower(filter.Email))
		conditions = append(conditions, fmt.Sprintf("LOWER(email) = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// UpdateStatus persists a lifecycle change only if the stored status still
// equals expected. sql.ErrNoRows signals a missing row or a concurrent change.
func (r *MessageRepository) UpdateStatus(ctx context.Context, msg *models.Message, expected models.MessageStatus) error {
	const query = `UPDATE messages SET status = $3, read_at = $4, processed_at = $5, handled_by = $6
	WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, msg.ID, expected, msg.Status, msg.ReadAt, msg.ProcessedAt, msg.HandledBy)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return requireRow(result, "update message status")
}

// MarkEmailSent records a successful confirmation email.
func (r *MessageRepository) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE messages SET email_confirmation_sent = TRUE, email_confirmation_at = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	return requireRow(result, "mark email sent")
}

// MarkWhatsAppSent records a successful WhatsApp notification.
func (r *MessageRepository) MarkWhatsAppSent(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE messages SET whatsapp_notification_sent = TRUE, whatsapp_notification_at = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark whatsapp sent: %w", err)
	}
	return requireRow(result, "mark whatsapp sent")
}

// ListUnsent returns messages created since the given instant that still
// miss a user confirmation on at least one channel.
func (r *MessageRepository) ListUnsent(ctx context.Context, since time.Time, limit int) ([]models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages
	WHERE created_at >= $1 AND (email_confirmation_sent = FALSE OR (phone <> '' AND whatsapp_notification_sent = FALSE))
	ORDER BY created_at ASC LIMIT $2`, messageColumns)
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, since, limit); err != nil {
		return nil, fmt.Errorf("list unsent messages: %w", err)
	}
	return messages, nil
}

// ListStale returns messages awaiting action that were created at or before cutoff.
func (r *MessageRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages
	WHERE status IN ('UNREAD', 'READ') AND created_at <= $1
	ORDER BY created_at ASC LIMIT $2`, messageColumns)
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list stale messages: %w", err)
	}
	return messages, nil
}

type messageStatsRow struct {
	Total           int `db:"total"`
	Unread          int `db:"unread"`
	Read            int `db:"read"`
	Processed       int `db:"processed"`
	Archived        int `db:"archived"`
	GeneralContact  int `db:"general_contact"`
	PreRegistration int `db:"pre_registration"`
	Urgent          int `db:"urgent"`
	Stale           int `db:"stale"`
	LastDay         int `db:"last_day"`
	LastWeek        int `db:"last_week"`
	LastMonth       int `db:"last_month"`
	EmailsSent      int `db:"emails_sent"`
	WhatsAppSent    int `db:"whatsapp_sent"`
}

// Stats aggregates inbox counters relative to now. staleCutoff is the
// creation instant at or before which an open message counts as stale.
func (r *MessageRepository) Stats(ctx context.Context, now, staleCutoff time.Time) (*models.MessageStats, error) {
	const query = `SELECT
	COUNT(*) AS total,
	COUNT(*) FILTER (WHERE status = 'UNREAD') AS unread,
	COUNT(*) FILTER (WHERE status = 'READ') AS read,
	COUNT(*) FILTER (WHERE status = 'PROCESSED') AS processed,
	COUNT(*) FILTER (WHERE status = 'ARCHIVED') AS archived,
	COUNT(*) FILTER (WHERE kind = 'GENERAL_CONTACT') AS general_contact,
	COUNT(*) FILTER (WHERE kind = 'PRE_REGISTRATION') AS pre_registration,
	COUNT(*) FILTER (WHERE kind = 'PRE_REGISTRATION' AND status IN ('UNREAD', 'READ')) AS urgent,
	COUNT(*) FILTER (WHERE status IN ('UNREAD', 'READ') AND created_at <= $1) AS stale,
	COUNT(*) FILTER (WHERE created_at >= $2) AS last_day,
	COUNT(*) FILTER (WHERE created_at >= $3) AS last_week,
	COUNT(*) FILTER (WHERE created_at >= $4) AS last_month,
	COUNT(*) FILTER (WHERE email_confirmation_sent) AS emails_sent,
	COUNT(*) FILTER (WHERE whatsapp_notification_sent) AS whatsapp_sent
	FROM messages`
	var row messageStatsRow
	if err := r.db.GetContext(ctx, &row, query, staleCutoff, now.AddDate(0, 0, -1), now.AddDate(0, 0, -7), now.AddDate(0, -1, 0)); err != nil {
		return nil, fmt.Errorf("message stats: %w", err)
	}
	return &models.MessageStats{
		Total: row.Total,
		ByStatus: map[models.MessageStatus]int{
			models.MessageStatusUnread:    row.Unread,
			models.MessageStatusRead:      row.Read,
			models.MessageStatusProcessed: row.Processed,
			models.MessageStatusArchived:  row.Archived,
		},
		ByKind: map[models.MessageKind]int{
			models.MessageKindGeneralContact:  row.GeneralContact,
			models.MessageKindPreRegistration: row.PreRegistration,
		},
		Urgent:       row.Urgent,
		Stale:        row.Stale,
		LastDay:      row.LastDay,
		LastWeek:     row.LastWeek,
		LastMonth:    row.LastMonth,
		EmailsSent:   row.EmailsSent,
		WhatsAppSent: row.WhatsAppSent,
		GeneratedAt:  now,
	}, nil
}
