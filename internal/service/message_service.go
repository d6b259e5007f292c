package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Ulrichjack/institut-app-backend/internal/dto"
	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
)

const (
	messageStatsCacheKey = "messages:stats"
	maxStatusAttempts    = 3
)

type messageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	FindByID(ctx context.Context, id string) (*models.Message, error)
	List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int, error)
	UpdateStatus(ctx context.Context, msg *models.Message, expected models.MessageStatus) error
	Stats(ctx context.Context, now, staleCutoff time.Time) (*models.MessageStats, error)
}

type formationDirectory interface {
	FindActive(ctx context.Context, id string) (*models.Formation, error)
	RecordInfoRequest(ctx context.Context, id string) error
}

type messageDispatcher interface {
	Dispatch(msg models.Message)
}

// MessageService runs intake and the admin inbox.
type MessageService struct {
	repo       messageRepository
	formations formationDirectory
	dispatcher messageDispatcher
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewMessageService constructs the message service. cache and metrics are optional.
func NewMessageService(repo messageRepository, formations formationDirectory, dispatcher messageDispatcher, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *MessageService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{
		repo:       repo,
		formations: formations,
		dispatcher: dispatcher,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
}

// SubmitGeneralContact stores a contact request and schedules its
// notifications. A missing or unknown formation is tolerated.
func (s *MessageService) SubmitGeneralContact(ctx context.Context, req dto.ContactRequest, tracking models.MessageTracking) (*dto.MessageReceipt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid contact payload")
	}

	var formation *models.Formation
	if req.FormationID != nil && *req.FormationID != "" {
		found, err := s.formations.FindActive(ctx, *req.FormationID)
		if err != nil {
			s.logger.Info("contact references an unavailable formation", zap.String("formation_id", *req.FormationID), zap.Error(err))
		} else {
			formation = found
		}
	}

	msg := models.Message{
		Kind:    models.MessageKindGeneralContact,
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Phone:   req.Phone,
		City:    strings.TrimSpace(req.City),
		Subject: strings.TrimSpace(req.Subject),
		Body:    strings.TrimSpace(req.Body),
	}
	if tracking.Source == "" {
		tracking.Source = req.Source
	}
	return s.intake(ctx, Enrich(msg, tracking, formation), formation != nil)
}

// SubmitPreRegistration stores a pre-registration for an active formation.
// Nothing is written when the formation cannot be found.
func (s *MessageService) SubmitPreRegistration(ctx context.Context, req dto.PreRegistrationRequest, tracking models.MessageTracking) (*dto.MessageReceipt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pre-registration payload")
	}

	formation, err := s.formations.FindActive(ctx, req.FormationID)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		Kind:         models.MessageKindPreRegistration,
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		Phone:        req.Phone,
		City:         strings.TrimSpace(req.City),
		Body:         strings.TrimSpace(req.Body),
		Availability: strings.TrimSpace(req.Availability),
	}
	if tracking.Source == "" {
		tracking.Source = req.Source
	}
	return s.intake(ctx, Enrich(msg, tracking, formation), false)
}

func (s *MessageService) intake(ctx context.Context, msg models.Message, countInfoRequest bool) (*dto.MessageReceipt, error) {
	if err := s.repo.Create(ctx, &msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store message")
	}
	s.metrics.RecordMessage(string(msg.Kind))
	s.cache.Invalidate(ctx, messageStatsCacheKey)

	if countInfoRequest && msg.FormationID != nil {
		if err := s.formations.RecordInfoRequest(ctx, *msg.FormationID); err != nil {
			s.logger.Warn("failed to record info request", zap.String("formation_id", *msg.FormationID), zap.Error(err))
		}
	}

	s.logger.Info("message received",
		zap.String("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.String("source", msg.Source))

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(msg)
	}

	return &dto.MessageReceipt{
		ID:            msg.ID,
		Kind:          msg.Kind,
		Status:        msg.Status,
		Subject:       msg.Subject,
		FormationName: msg.FormationName,
		CreatedAt:     msg.CreatedAt,
	}, nil
}

// List returns the admin inbox page matching query.
func (s *MessageService) List(ctx context.Context, query dto.MessageListQuery) ([]dto.MessageView, *models.Pagination, error) {
	filter, err := ParseMessageFilter(query)
	if err != nil {
		return nil, nil, err
	}
	messages, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list messages")
	}
	now := s.now()
	views := make([]dto.MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, toMessageView(messages[i], now))
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return views, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one message with derived indicators.
func (s *MessageService) Get(ctx context.Context, id string) (*dto.MessageView, error) {
	msg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := toMessageView(*msg, s.now())
	return &view, nil
}

// ChangeStatus applies an admin lifecycle change. The write is conditional
// on the status that was validated; on conflict the latest state is
// re-read and validated again.
func (s *MessageService) ChangeStatus(ctx context.Context, id string, req dto.ChangeStatusRequest, adminID string) (*dto.MessageView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	return s.transition(ctx, id, req.Status, adminID, true)
}

// MarkRead marks an unread message as read. It is a no-op otherwise.
func (s *MessageService) MarkRead(ctx context.Context, id, adminID string) (*dto.MessageView, error) {
	return s.transition(ctx, id, models.MessageStatusRead, adminID, false)
}

func (s *MessageService) transition(ctx context.Context, id string, target models.MessageStatus, adminID string, strict bool) (*dto.MessageView, error) {
	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if strict && !current.Status.CanTransitionTo(target) {
			return nil, appErrors.InvalidTransition(string(current.Status), string(target))
		}

		now := s.now()
		updated, err := ApplyStatus(*current, target, adminID, now)
		if err != nil {
			return nil, err
		}
		if updated.Status == current.Status {
			view := toMessageView(updated, now)
			return &view, nil
		}

		err = s.repo.UpdateStatus(ctx, &updated, current.Status)
		if err == nil {
			s.cache.Invalidate(ctx, messageStatsCacheKey)
			s.logger.Info("message status changed",
				zap.String("message_id", id),
				zap.String("from", string(current.Status)),
				zap.String("to", string(updated.Status)),
				zap.String("admin_id", adminID))
			view := toMessageView(updated, now)
			return &view, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update message status")
		}
		s.logger.Debug("message status changed concurrently, retrying", zap.String("message_id", id), zap.Int("attempt", attempt))
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "message was modified concurrently")
}

// Stats summarises the inbox, served from cache when enabled. The boolean
// reports a cache hit.
func (s *MessageService) Stats(ctx context.Context) (*models.MessageStats, bool, error) {
	var cached models.MessageStats
	if s.cache.Get(ctx, messageStatsCacheKey, &cached) {
		return &cached, true, nil
	}
	now := s.now().UTC()
	stats, err := s.repo.Stats(ctx, now, StaleCutoff(now))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute message statistics")
	}
	stats.GeneratedAt = now
	s.cache.Set(ctx, messageStatsCacheKey, stats, 0)
	return stats, false, nil
}

func (s *MessageService) load(ctx context.Context, id string) (*models.Message, error) {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrMessageNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load message")
	}
	return msg, nil
}

// ParseMessageFilter validates inbox query parameters. Dates accept
// RFC3339 or YYYY-MM-DD; a bare "to" date covers the whole day.
func ParseMessageFilter(query dto.MessageListQuery) (models.MessageFilter, error) {
	filter := models.MessageFilter{
		FormationName: strings.TrimSpace(query.FormationName),
		Email:         strings.TrimSpace(query.Email),
		Source:        strings.TrimSpace(query.Source),
		Page:          query.Page,
		PageSize:      query.Limit,
	}
	if query.Status != "" {
		status := models.MessageStatus(strings.ToUpper(query.Status))
		if !status.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown message status "+query.Status)
		}
		filter.Status = &status
	}
	if query.Kind != "" {
		kind := models.MessageKind(strings.ToUpper(query.Kind))
		if !kind.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown message kind "+query.Kind)
		}
		filter.Kind = &kind
	}
	var err error
	if filter.From, err = parseFilterTime(query.From, false); err != nil {
		return filter, err
	}
	if filter.To, err = parseFilterTime(query.To, true); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "'to' must not be before 'from'")
	}
	return filter, nil
}

func parseFilterTime(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date "+raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func toMessageView(msg models.Message, now time.Time) dto.MessageView {
	return dto.MessageView{
		Message:       msg,
		Urgent:        IsUrgent(&msg),
		AgeHours:      AgeHours(&msg, now),
		Stale:         IsStale(&msg, now),
		Priority:      Priority(&msg, now),
		SpamScore:     SpamScore(&msg),
		BrowserFamily: BrowserFamily(msg.UserAgent),
	}
}
