package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ulrichjack/institut-app-backend/internal/dto"
	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
)

type mockMessageRepo struct {
	mu         sync.Mutex
	messages   map[string]models.Message
	created    int
	statsCalls int
	lastFilter models.MessageFilter
	// interfere runs once before the next conditional update, simulating a
	// concurrent admin.
	interfere func(m *models.Message)
}

func newMockMessageRepo(messages ...models.Message) *mockMessageRepo {
	repo := &mockMessageRepo{messages: map[string]models.Message{}}
	for _, msg := range messages {
		repo.messages[msg.ID] = msg
	}
	return repo
}

func (m *mockMessageRepo) Create(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	msg.ID = fmt.Sprintf("msg-%d", m.created)
	if msg.Status == "" {
		msg.Status = models.MessageStatusUnread
	}
	msg.CreatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	m.messages[msg.ID] = *msg
	return nil
}

func (m *mockMessageRepo) FindByID(ctx context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &msg, nil
}

func (m *mockMessageRepo) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var out []models.Message
	for _, msg := range m.messages {
		out = append(out, msg)
	}
	return out, len(out), nil
}

func (m *mockMessageRepo) UpdateStatus(ctx context.Context, msg *models.Message, expected models.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interfere != nil {
		stored := m.messages[msg.ID]
		m.interfere(&stored)
		m.messages[msg.ID] = stored
		m.interfere = nil
	}
	stored, ok := m.messages[msg.ID]
	if !ok || stored.Status != expected {
		return sql.ErrNoRows
	}
	m.messages[msg.ID] = *msg
	return nil
}

func (m *mockMessageRepo) Stats(ctx context.Context, now, staleCutoff time.Time) (*models.MessageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsCalls++
	return &models.MessageStats{Total: len(m.messages)}, nil
}

type stubFormationDirectory struct {
	formations   map[string]models.Formation
	infoRequests []string
}

func (s *stubFormationDirectory) FindActive(ctx context.Context, id string) (*models.Formation, error) {
	f, ok := s.formations[id]
	if !ok || !f.Active {
		return nil, appErrors.ErrFormationNotFound
	}
	return &f, nil
}

func (s *stubFormationDirectory) RecordInfoRequest(ctx context.Context, id string) error {
	s.infoRequests = append(s.infoRequests, id)
	return nil
}

type recordingDispatcher struct {
	dispatched []models.Message
}

func (d *recordingDispatcher) Dispatch(msg models.Message) {
	d.dispatched = append(d.dispatched, msg)
}

type memoryCacheRepo struct {
	values map[string]interface{}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	value, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	stats, ok := value.(*models.MessageStats)
	if !ok {
		return errors.New("unexpected cached type")
	}
	*(dest.(*models.MessageStats)) = *stats
	return nil
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.values[key] = value
	return nil
}

func (m *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

type messageFixture struct {
	svc        *MessageService
	repo       *mockMessageRepo
	formations *stubFormationDirectory
	dispatcher *recordingDispatcher
}

func newMessageFixture(messages ...models.Message) *messageFixture {
	repo := newMockMessageRepo(messages...)
	formations := &stubFormationDirectory{formations: map[string]models.Formation{
		"f-1": {ID: "f-1", Name: "Web Development", Active: true, SeatCapacity: 10},
		"f-2": {ID: "f-2", Name: "Closed", Active: false},
	}}
	dispatcher := &recordingDispatcher{}
	cache := NewCacheService(&memoryCacheRepo{values: map[string]interface{}{}}, nil, time.Minute, nil, true)
	svc := NewMessageService(repo, formations, dispatcher, cache, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &messageFixture{svc: svc, repo: repo, formations: formations, dispatcher: dispatcher}
}

func TestSubmitGeneralContactWithFormation(t *testing.T) {
	fx := newMessageFixture()
	formationID := "f-1"

	receipt, err := fx.svc.SubmitGeneralContact(context.Background(), dto.ContactRequest{
		Name:        "Awa Ndiaye",
		Email:       "awa@example.com",
		Phone:       "+221 77 123-45-67",
		Body:        "I would like more details on the schedule.",
		FormationID: &formationID,
		Source:      "landing",
	}, models.MessageTracking{IPAddress: "10.0.0.1", UserAgent: "Mozilla/5.0 Chrome/120"})
	require.NoError(t, err)

	assert.Equal(t, models.MessageKindGeneralContact, receipt.Kind)
	assert.Equal(t, models.MessageStatusUnread, receipt.Status)
	assert.Equal(t, "General information request", receipt.Subject)
	assert.Equal(t, "Web Development", receipt.FormationName)

	require.Len(t, fx.dispatcher.dispatched, 1)
	stored := fx.dispatcher.dispatched[0]
	assert.Equal(t, "+221771234567", stored.Phone)
	assert.Equal(t, "landing", stored.Source)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
	assert.Equal(t, []string{"f-1"}, fx.formations.infoRequests)
}

func TestSubmitGeneralContactToleratesUnknownFormation(t *testing.T) {
	fx := newMessageFixture()
	formationID := "f-2"

	receipt, err := fx.svc.SubmitGeneralContact(context.Background(), dto.ContactRequest{
		Name:        "Jean",
		Email:       "jean@example.com",
		Body:        "Do you offer evening classes?",
		FormationID: &formationID,
	}, models.MessageTracking{})
	require.NoError(t, err)
	assert.Empty(t, receipt.FormationName)
	assert.Nil(t, fx.dispatcher.dispatched[0].FormationID)
	assert.Empty(t, fx.formations.infoRequests)
}

func TestSubmitGeneralContactValidation(t *testing.T) {
	fx := newMessageFixture()
	_, err := fx.svc.SubmitGeneralContact(context.Background(), dto.ContactRequest{
		Name:  "J",
		Email: "not-an-email",
		Body:  "short",
	}, models.MessageTracking{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, 0, fx.repo.created)
	assert.Empty(t, fx.dispatcher.dispatched)
}

func TestSubmitPreRegistration(t *testing.T) {
	fx := newMessageFixture()

	receipt, err := fx.svc.SubmitPreRegistration(context.Background(), dto.PreRegistrationRequest{
		Name:         "Awa",
		Email:        "awa@example.com",
		FormationID:  "8c6f0a3e-4a8b-4d57-9a43-0f6d2a0d9f11",
		Availability: "weekends",
	}, models.MessageTracking{})
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.True(t, errors.Is(err, appErrors.ErrFormationNotFound))
	assert.Equal(t, 0, fx.repo.created)

	uuidID := "5b0cdb35-1f59-4a8f-8a3a-2c1d1a9e7e01"
	fx.formations.formations[uuidID] = models.Formation{ID: uuidID, Name: "Data Science", Active: true}
	receipt, err = fx.svc.SubmitPreRegistration(context.Background(), dto.PreRegistrationRequest{
		Name:         "Awa",
		Email:        "awa@example.com",
		Phone:        "77 000 00 00",
		FormationID:  uuidID,
		Availability: "weekends",
	}, models.MessageTracking{Source: "facebook"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageKindPreRegistration, receipt.Kind)
	assert.Equal(t, "Pre-registration: Data Science", receipt.Subject)
	assert.Equal(t, "Data Science", receipt.FormationName)
	assert.Empty(t, fx.formations.infoRequests)
	require.Len(t, fx.dispatcher.dispatched, 1)
	assert.Equal(t, "facebook", fx.dispatcher.dispatched[0].Source)
}

func TestChangeStatusFollowsLifecycle(t *testing.T) {
	fx := newMessageFixture(models.Message{ID: "m-1", Kind: models.MessageKindGeneralContact, Status: models.MessageStatusUnread})

	view, err := fx.svc.ChangeStatus(context.Background(), "m-1", dto.ChangeStatusRequest{Status: models.MessageStatusProcessed}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusProcessed, view.Status)
	require.NotNil(t, view.ProcessedAt)
	require.NotNil(t, view.ReadAt)
	assert.Equal(t, "admin-1", view.HandledBy)

	_, err = fx.svc.ChangeStatus(context.Background(), "m-1", dto.ChangeStatusRequest{Status: models.MessageStatusRead}, "admin-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "PROCESSED -> READ")

	_, err = fx.svc.ChangeStatus(context.Background(), "m-1", dto.ChangeStatusRequest{Status: models.MessageStatusArchived}, "admin-1")
	require.NoError(t, err)

	_, err = fx.svc.ChangeStatus(context.Background(), "m-1", dto.ChangeStatusRequest{Status: models.MessageStatusProcessed}, "admin-1")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	_, err = fx.svc.ChangeStatus(context.Background(), "missing", dto.ChangeStatusRequest{Status: models.MessageStatusRead}, "admin-1")
	assert.True(t, errors.Is(err, appErrors.ErrMessageNotFound))
}

func TestChangeStatusRevalidatesAfterConcurrentChange(t *testing.T) {
	fx := newMessageFixture(models.Message{ID: "m-1", Status: models.MessageStatusUnread})
	fx.repo.interfere = func(m *models.Message) { m.Status = models.MessageStatusArchived }

	_, err := fx.svc.ChangeStatus(context.Background(), "m-1", dto.ChangeStatusRequest{Status: models.MessageStatusProcessed}, "admin-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "ARCHIVED -> PROCESSED")

	stored, _ := fx.repo.FindByID(context.Background(), "m-1")
	assert.Equal(t, models.MessageStatusArchived, stored.Status)
}

func TestChangeStatusRetriesWhenStillValid(t *testing.T) {
	fx := newMessageFixture(models.Message{ID: "m-1", Status: models.MessageStatusUnread})
	fx.repo.interfere = func(m *models.Message) { m.Status = models.MessageStatusRead }

	view, err := fx.svc.ChangeStatus(context.Background(), "m-1", dto.ChangeStatusRequest{Status: models.MessageStatusArchived}, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusArchived, view.Status)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	fx := newMessageFixture(models.Message{ID: "m-1", Status: models.MessageStatusUnread})

	view, err := fx.svc.MarkRead(context.Background(), "m-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, view.Status)
	firstRead := view.ReadAt

	view, err = fx.svc.MarkRead(context.Background(), "m-1", "admin-2")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, view.Status)
	assert.Equal(t, firstRead, view.ReadAt)
	assert.Equal(t, "admin-1", view.HandledBy)
}

func TestMessageStatsCachedAndInvalidated(t *testing.T) {
	fx := newMessageFixture(models.Message{ID: "m-1", Status: models.MessageStatusUnread})

	stats, hit, err := fx.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, stats.Total)
	_, hit, err = fx.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, fx.repo.statsCalls)

	_, err = fx.svc.MarkRead(context.Background(), "m-1", "admin")
	require.NoError(t, err)
	_, hit, err = fx.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, fx.repo.statsCalls)
}

func TestMessageListAndDerivedFields(t *testing.T) {
	created := time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC)
	fx := newMessageFixture(models.Message{
		ID:        "m-1",
		Kind:      models.MessageKindPreRegistration,
		Status:    models.MessageStatusUnread,
		Email:     "a@example.com",
		Body:      "hi",
		UserAgent: "Mozilla/5.0 (iPhone) Mobile Safari",
		CreatedAt: created,
	})

	views, pagination, err := fx.svc.List(context.Background(), dto.MessageListQuery{Status: "unread", Kind: "pre_registration", Page: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, 10, pagination.PageSize)
	require.NotNil(t, fx.repo.lastFilter.Status)
	assert.Equal(t, models.MessageStatusUnread, *fx.repo.lastFilter.Status)

	view := views[0]
	assert.True(t, view.Urgent)
	assert.True(t, view.Stale)
	assert.Equal(t, 52, view.AgeHours)
	assert.Equal(t, "Mobile", view.BrowserFamily)
	assert.Equal(t, 20, view.SpamScore)
}

func TestParseMessageFilter(t *testing.T) {
	filter, err := ParseMessageFilter(dto.MessageListQuery{From: "2024-01-01", To: "2024-01-31"})
	require.NoError(t, err)
	require.NotNil(t, filter.From)
	require.NotNil(t, filter.To)
	assert.Equal(t, 31, filter.To.Day())
	assert.Equal(t, 23, filter.To.Hour())

	_, err = ParseMessageFilter(dto.MessageListQuery{Status: "DELETED"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = ParseMessageFilter(dto.MessageListQuery{From: "2024-02-01", To: "2024-01-01"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = ParseMessageFilter(dto.MessageListQuery{From: "yesterday"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
