package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
	"github.com/Ulrichjack/institut-app-backend/pkg/jobs"
)

type stubNotificationStore struct {
	mu           sync.Mutex
	emailSent    []string
	whatsappSent []string
	stale        []models.Message
	unsent       []models.Message
	markErr      error
}

func (s *stubNotificationStore) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emailSent = append(s.emailSent, id)
	return s.markErr
}

func (s *stubNotificationStore) MarkWhatsAppSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whatsappSent = append(s.whatsappSent, id)
	return s.markErr
}

func (s *stubNotificationStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Message, error) {
	return s.stale, nil
}

func (s *stubNotificationStore) ListUnsent(ctx context.Context, since time.Time, limit int) ([]models.Message, error) {
	return s.unsent, nil
}

type sentCall struct {
	destination string
	content     Content
}

type recordingSender struct {
	mu       sync.Mutex
	calls    []sentCall
	failures map[string]int
	panicOn  string
}

func (r *recordingSender) Send(ctx context.Context, destination string, content Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if destination == r.panicOn && r.panicOn != "" {
		panic("boom")
	}
	r.calls = append(r.calls, sentCall{destination: destination, content: content})
	if r.failures[destination] > 0 {
		r.failures[destination]--
		return errors.New("transient")
	}
	return nil
}

func (r *recordingSender) destinations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.destination)
	}
	return out
}

// gatedSender holds every send until release is closed.
type gatedSender struct {
	inner   Sender
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, destination string, content Content) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.inner.Send(ctx, destination, content)
}

type stubQuota struct {
	allowed bool
	err     error
	keys    []string
}

func (q *stubQuota) Consume(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	q.keys = append(q.keys, key)
	return q.allowed, q.err
}

type notificationFixture struct {
	svc      *NotificationService
	store    *stubNotificationStore
	email    *recordingSender
	whatsapp *recordingSender
	delays   []time.Duration
	mu       sync.Mutex
}

func newNotificationFixture(quota quotaStore) *notificationFixture {
	f := &notificationFixture{
		store:    &stubNotificationStore{},
		email:    &recordingSender{failures: map[string]int{}},
		whatsapp: &recordingSender{failures: map[string]int{}},
	}
	f.svc = NewNotificationService(f.store, f.email, f.whatsapp, quota, nil, NewMetricsService(), nil, NotificationConfig{
		MaxAttempts:        3,
		BaseDelay:          2 * time.Second,
		EmailEnabled:       true,
		WhatsAppEnabled:    true,
		AdminEmail:         "admin@institut.test",
		AdminPhone:         "+237600000000",
		WhatsAppDailyLimit: 10,
	})
	f.svc.sleep = func(ctx context.Context, d time.Duration) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.delays = append(f.delays, d)
		return nil
	}
	return f
}

func preRegistration() models.Message {
	formationID := "f-1"
	return models.Message{
		ID:            "m-1",
		Kind:          models.MessageKindPreRegistration,
		Status:        models.MessageStatusUnread,
		Name:          "Awa",
		Email:         "awa@example.com",
		Phone:         "+237699001122",
		FormationID:   &formationID,
		FormationName: "Web Development",
		Subject:       "Pre-registration: Web Development",
		Body:          "I would like to join the next session.",
		CreatedAt:     time.Now(),
	}
}

func outcomes(results []DeliveryResult) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[r.Channel+"/"+r.Recipient] = r.Outcome
	}
	return out
}

func TestNotifyPreRegistrationPolicy(t *testing.T) {
	f := newNotificationFixture(nil)
	results := f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{})

	assert.Equal(t, map[string]string{
		"email/user":     OutcomeSent,
		"email/admin":    OutcomeSent,
		"whatsapp/user":  OutcomeSent,
		"whatsapp/admin": OutcomeSent,
	}, outcomes(results))
	assert.ElementsMatch(t, []string{"awa@example.com", "admin@institut.test"}, f.email.destinations())
	assert.ElementsMatch(t, []string{"+237699001122", "+237600000000"}, f.whatsapp.destinations())
	assert.Equal(t, []string{"m-1"}, f.store.emailSent)
	assert.Equal(t, []string{"m-1"}, f.store.whatsappSent)
}

func TestNotifyGeneralContactPolicy(t *testing.T) {
	f := newNotificationFixture(nil)
	msg := preRegistration()
	msg.Kind = models.MessageKindGeneralContact

	results := f.svc.Notify(context.Background(), msg, DispatchOptions{})
	assert.Equal(t, map[string]string{
		"email/user":    OutcomeSent,
		"email/admin":   OutcomeSent,
		"whatsapp/user": OutcomeSent,
	}, outcomes(results))

	msg.Phone = ""
	f = newNotificationFixture(nil)
	results = f.svc.Notify(context.Background(), msg, DispatchOptions{})
	assert.Len(t, results, 2)
	assert.Empty(t, f.whatsapp.destinations())
}

func TestNotifyRetriesWithLinearBackoff(t *testing.T) {
	f := newNotificationFixture(nil)
	f.email.failures["awa@example.com"] = 2
	msg := preRegistration()
	msg.Phone = ""

	results := f.svc.Notify(context.Background(), msg, DispatchOptions{})
	for _, r := range results {
		if r.Recipient == recipientUser {
			assert.Equal(t, OutcomeSent, r.Outcome)
			assert.Equal(t, 3, r.Attempts)
		}
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.delays)
	assert.Equal(t, []string{"m-1"}, f.store.emailSent)
}

func TestNotifyExhaustionDoesNotMarkOrStopOtherChannels(t *testing.T) {
	f := newNotificationFixture(nil)
	f.whatsapp.failures["+237699001122"] = 10

	results := outcomes(f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{}))
	assert.Equal(t, OutcomeFailed, results["whatsapp/user"])
	assert.Equal(t, OutcomeSent, results["email/user"])
	assert.Equal(t, OutcomeSent, results["whatsapp/admin"])
	assert.Empty(t, f.store.whatsappSent)
	assert.Equal(t, []string{"m-1"}, f.store.emailSent)
}

func TestNotifyRecoversFromSenderPanic(t *testing.T) {
	f := newNotificationFixture(nil)
	f.whatsapp.panicOn = "+237699001122"

	results := outcomes(f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{}))
	assert.Equal(t, OutcomeFailed, results["whatsapp/user"])
	assert.Equal(t, OutcomeSent, results["email/user"])
}

func TestNotifySkipsFlaggedChannelsAndAdminOnReplay(t *testing.T) {
	f := newNotificationFixture(nil)
	msg := preRegistration()
	msg.EmailConfirmationSent = true

	results := outcomes(f.svc.Notify(context.Background(), msg, DispatchOptions{SkipAdmin: true}))
	assert.Equal(t, map[string]string{"whatsapp/user": OutcomeSent}, results)
	assert.Empty(t, f.email.destinations())
}

func TestNotifyHonoursChannelSwitches(t *testing.T) {
	f := newNotificationFixture(nil)
	f.svc.cfg.WhatsAppEnabled = false
	results := outcomes(f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{}))
	assert.Len(t, results, 2)
	assert.Empty(t, f.whatsapp.destinations())

	f = newNotificationFixture(nil)
	f.svc.cfg.EmailEnabled = false
	results = outcomes(f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{}))
	assert.Len(t, results, 2)
	assert.Empty(t, f.email.destinations())
}

func TestNotifyWhatsAppQuota(t *testing.T) {
	quota := &stubQuota{allowed: false}
	f := newNotificationFixture(quota)
	results := outcomes(f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{}))
	assert.Equal(t, OutcomeQuota, results["whatsapp/user"])
	assert.Equal(t, []string{"whatsapp:+237699001122"}, quota.keys)
	assert.NotContains(t, f.whatsapp.destinations(), "+237699001122")

	failing := &stubQuota{err: errors.New("redis down")}
	f = newNotificationFixture(failing)
	results = outcomes(f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{}))
	assert.Equal(t, OutcomeSent, results["whatsapp/user"])
}

func TestNotifyToleratesFlagPersistenceFailure(t *testing.T) {
	f := newNotificationFixture(nil)
	f.store.markErr = errors.New("db down")
	results := outcomes(f.svc.Notify(context.Background(), preRegistration(), DispatchOptions{}))
	assert.Equal(t, OutcomeSent, results["email/user"])
}

func TestDispatchThroughQueue(t *testing.T) {
	f := newNotificationFixture(nil)
	queue := jobs.NewQueue("notifications", f.svc.HandleJob, jobs.QueueConfig{Workers: 1})
	f.svc.SetQueue(queue)
	queue.Start(context.Background())

	f.svc.Dispatch(preRegistration())
	queue.Stop()

	assert.Equal(t, []string{"m-1"}, f.store.emailSent)
	assert.Len(t, f.email.destinations(), 2)
}

func TestDispatchDoesNotWaitForFullQueue(t *testing.T) {
	f := newNotificationFixture(nil)
	gate := &gatedSender{inner: f.email, entered: make(chan struct{}, 16), release: make(chan struct{})}
	f.svc.email = gate
	queue := jobs.NewQueue("notifications", f.svc.HandleJob, jobs.QueueConfig{Workers: 1, BufferSize: 1})
	f.svc.SetQueue(queue)
	queue.Start(context.Background())

	message := func(id string) models.Message {
		msg := preRegistration()
		msg.ID = id
		msg.Phone = ""
		return msg
	}

	f.svc.Dispatch(message("m-1"))
	select {
	case <-gate.entered:
	case <-time.After(time.Second):
		t.Fatal("first dispatch never reached the sender")
	}
	f.svc.Dispatch(message("m-2"))

	returned := make(chan struct{})
	go func() {
		f.svc.Dispatch(message("m-3"))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Dispatch waited for queue space")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.metrics.queueOverflow))

	close(gate.release)
	queue.Stop()
	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return len(f.store.emailSent) == 3
	}, 2*time.Second, 10*time.Millisecond)
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.ElementsMatch(t, []string{"m-1", "m-2", "m-3"}, f.store.emailSent)
}

func TestHandleJobIgnoresForeignPayload(t *testing.T) {
	f := newNotificationFixture(nil)
	require.NoError(t, f.svc.HandleJob(context.Background(), jobs.Job{Payload: "nope"}))
	assert.Empty(t, f.email.destinations())
}

func TestRemindStale(t *testing.T) {
	f := newNotificationFixture(nil)
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }
	f.store.stale = []models.Message{
		{ID: "a", Kind: models.MessageKindGeneralContact, Status: models.MessageStatusUnread, Name: "Contact", CreatedAt: now.Add(-30 * time.Hour)},
		{ID: "b", Kind: models.MessageKindPreRegistration, Status: models.MessageStatusRead, Name: "Pre", CreatedAt: now.Add(-40 * time.Hour)},
	}

	count, err := f.svc.RemindStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, f.email.calls, 1)
	call := f.email.calls[0]
	assert.Equal(t, "admin@institut.test", call.destination)
	assert.Contains(t, call.content.Subject, "2 pending")
	assert.Less(t, strings.Index(call.content.Body, "[P1]"), strings.Index(call.content.Body, "[P4]"))
}

func TestRemindStaleNothingToDo(t *testing.T) {
	f := newNotificationFixture(nil)
	count, err := f.svc.RemindStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.email.calls)
}

func TestResendSkipsAdminAlerts(t *testing.T) {
	f := newNotificationFixture(nil)
	msg := preRegistration()
	msg.WhatsAppNotificationSent = true
	f.store.unsent = []models.Message{msg}

	results, err := f.svc.Resend(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"email/user": OutcomeSent}, outcomes(results))
}
