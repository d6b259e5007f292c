package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
	"github.com/Ulrichjack/institut-app-backend/pkg/jobs"
)

// JobTypeDispatch identifies notification dispatch jobs on the queue.
const JobTypeDispatch = "message.dispatch"

const (
	recipientUser  = "user"
	recipientAdmin = "admin"

	quotaWindow   = 24 * time.Hour
	reminderLimit = 50
)

type notificationStore interface {
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
	MarkWhatsAppSent(ctx context.Context, id string, at time.Time) error
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Message, error)
	ListUnsent(ctx context.Context, since time.Time, limit int) ([]models.Message, error)
}

type quotaStore interface {
	Consume(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type jobDispatcher interface {
	TryEnqueue(job jobs.Job) error
	Pending() int
}

// NotificationConfig tunes the dispatch pipeline.
type NotificationConfig struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	SendTimeout        time.Duration
	EmailEnabled       bool
	WhatsAppEnabled    bool
	AdminEmail         string
	AdminPhone         string
	AppName            string
	WebsiteURL         string
	WhatsAppDailyLimit int
}

// DispatchOptions alters a single dispatch run.
type DispatchOptions struct {
	// SkipAdmin suppresses admin alerts, used when replaying user confirmations.
	SkipAdmin bool
}

// DeliveryResult is the final outcome of one channel delivery.
type DeliveryResult struct {
	Channel   string
	Recipient string
	Outcome   string
	Attempts  int
}

type delivery struct {
	channel     string
	recipient   string
	destination string
	sender      Sender
	content     Content
	quotaKey    string
	onSuccess   func(ctx context.Context, at time.Time) error
}

// NotificationService sends confirmations and admin alerts for new
// messages. Failures never leave the service: they are retried, logged
// and counted.
type NotificationService struct {
	store    notificationStore
	email    Sender
	whatsapp Sender
	quota    quotaStore
	queue    jobDispatcher
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      NotificationConfig
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewNotificationService constructs the orchestrator. quota, queue and
// metrics are optional.
func NewNotificationService(store notificationStore, email, whatsapp Sender, quota quotaStore, queue jobDispatcher, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.AppName == "" {
		cfg.AppName = "Institut"
	}
	return &NotificationService{
		store:    store,
		email:    email,
		whatsapp: whatsapp,
		quota:    quota,
		queue:    queue,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SetQueue attaches the dispatch queue once it has been built around HandleJob.
func (s *NotificationService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// Dispatch hands msg to the background queue and returns immediately. It
// never waits for buffer space: when the queue is full the dispatch runs on
// its own goroutine instead.
func (s *NotificationService) Dispatch(msg models.Message) {
	if s.queue == nil {
		go s.Notify(context.Background(), msg, DispatchOptions{})
		return
	}
	err := s.queue.TryEnqueue(jobs.Job{Type: JobTypeDispatch, Payload: msg})
	switch {
	case err == nil:
		s.metrics.SetQueueDepth(s.queue.Pending())
	case errors.Is(err, jobs.ErrQueueFull):
		s.logger.Warn("notification queue full, dispatching inline", zap.String("message_id", msg.ID))
		s.metrics.RecordQueueOverflow()
		go s.Notify(context.Background(), msg, DispatchOptions{})
	default:
		s.logger.Error("failed to enqueue notification dispatch", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// HandleJob is the queue handler. It detaches from the worker context so a
// started dispatch always runs to completion, and it never reports failure
// because retries are handled per channel.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	if s.queue != nil {
		s.metrics.SetQueueDepth(s.queue.Pending())
	}
	msg, ok := job.Payload.(models.Message)
	if !ok {
		s.logger.Error("unexpected dispatch payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	s.Notify(context.WithoutCancel(ctx), msg, DispatchOptions{})
	return nil
}

// Notify runs every planned delivery for msg concurrently and waits for all
// of them.
func (s *NotificationService) Notify(ctx context.Context, msg models.Message, opts DispatchOptions) []DeliveryResult {
	plan := s.plan(msg, opts)
	results := make([]DeliveryResult, len(plan))

	var wg sync.WaitGroup
	for i := range plan {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.deliver(ctx, msg.ID, plan[i])
		}(i)
	}
	wg.Wait()

	s.logger.Info("notifications processed",
		zap.String("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.Int("deliveries", len(results)),
	)
	return results
}

func (s *NotificationService) plan(msg models.Message, opts DispatchOptions) []delivery {
	var plan []delivery
	emailOn := s.cfg.EmailEnabled && s.email != nil
	whatsappOn := s.cfg.WhatsAppEnabled && s.whatsapp != nil
	hasPhone := strings.TrimSpace(msg.Phone) != ""

	if emailOn && strings.TrimSpace(msg.Email) != "" && !msg.EmailConfirmationSent {
		id := msg.ID
		plan = append(plan, delivery{
			channel:     ChannelEmail,
			recipient:   recipientUser,
			destination: msg.Email,
			sender:      s.email,
			content:     s.userConfirmation(msg),
			onSuccess: func(ctx context.Context, at time.Time) error {
				return s.store.MarkEmailSent(ctx, id, at)
			},
		})
	}
	if emailOn && !opts.SkipAdmin && s.cfg.AdminEmail != "" {
		plan = append(plan, delivery{
			channel:     ChannelEmail,
			recipient:   recipientAdmin,
			destination: s.cfg.AdminEmail,
			sender:      s.email,
			content:     s.adminAlert(msg),
		})
	}
	if whatsappOn && hasPhone && !msg.WhatsAppNotificationSent {
		id := msg.ID
		plan = append(plan, delivery{
			channel:     ChannelWhatsApp,
			recipient:   recipientUser,
			destination: msg.Phone,
			sender:      s.whatsapp,
			content:     Content{Body: s.userConfirmation(msg).Body},
			quotaKey:    "whatsapp:" + msg.Phone,
			onSuccess: func(ctx context.Context, at time.Time) error {
				return s.store.MarkWhatsAppSent(ctx, id, at)
			},
		})
	}
	if whatsappOn && hasPhone && !opts.SkipAdmin && msg.Kind == models.MessageKindPreRegistration && s.cfg.AdminPhone != "" {
		plan = append(plan, delivery{
			channel:     ChannelWhatsApp,
			recipient:   recipientAdmin,
			destination: s.cfg.AdminPhone,
			sender:      s.whatsapp,
			content:     Content{Body: s.adminWhatsAppAlert(msg)},
		})
	}
	return plan
}

func (s *NotificationService) deliver(ctx context.Context, messageID string, d delivery) DeliveryResult {
	result := DeliveryResult{Channel: d.channel, Recipient: d.recipient}
	log := s.logger.With(
		zap.String("message_id", messageID),
		zap.String("channel", d.channel),
		zap.String("recipient", d.recipient),
	)

	if d.quotaKey != "" && s.quota != nil {
		allowed, err := s.quota.Consume(ctx, d.quotaKey, s.cfg.WhatsAppDailyLimit, quotaWindow)
		if err != nil {
			log.Warn("quota check failed, sending anyway", zap.Error(err))
		} else if !allowed {
			log.Warn("daily quota reached, notification skipped")
			result.Outcome = OutcomeQuota
			s.metrics.RecordNotification(d.channel, d.recipient, result.Outcome)
			return result
		}
	}

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt
		err := s.attempt(ctx, d)
		if err == nil {
			log.Info("notification sent", zap.Int("attempt", attempt))
			result.Outcome = OutcomeSent
			if d.onSuccess != nil {
				if err := d.onSuccess(ctx, s.now().UTC()); err != nil {
					log.Warn("failed to persist notification flag", zap.Error(err))
				}
			}
			s.metrics.RecordNotification(d.channel, d.recipient, result.Outcome)
			return result
		}
		log.Warn("notification attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.cfg.MaxAttempts {
			if err := s.sleep(ctx, time.Duration(attempt)*s.cfg.BaseDelay); err != nil {
				break
			}
		}
	}

	log.Error("notification failed permanently", zap.Int("attempts", result.Attempts))
	result.Outcome = OutcomeFailed
	s.metrics.RecordNotification(d.channel, d.recipient, result.Outcome)
	return result
}

func (s *NotificationService) attempt(ctx context.Context, d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	start := time.Now()
	err = d.sender.Send(callCtx, d.destination, d.content)
	s.metrics.ObserveSend(d.channel, time.Since(start))
	return err
}

// RemindStale emails the admin a digest of messages left unhandled for more
// than a day. It returns the number of messages listed.
func (s *NotificationService) RemindStale(ctx context.Context) (int, error) {
	if !s.cfg.EmailEnabled || s.email == nil || s.cfg.AdminEmail == "" {
		return 0, nil
	}
	now := s.now()
	stale, err := s.store.ListStale(ctx, StaleCutoff(now), reminderLimit)
	if err != nil {
		return 0, fmt.Errorf("list stale messages: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return Priority(&stale[i], now) < Priority(&stale[j], now)
	})

	var body strings.Builder
	fmt.Fprintf(&body, "%d message(s) have been waiting for more than %d hours:\n\n", len(stale), staleAfterHours)
	for i := range stale {
		msg := &stale[i]
		fmt.Fprintf(&body, "- [P%d] %s | %s | %s | %dh\n", Priority(msg, now), msg.Kind, msg.Name, msg.Subject, AgeHours(msg, now))
	}
	if s.cfg.WebsiteURL != "" {
		fmt.Fprintf(&body, "\n%s/admin/messages\n", strings.TrimRight(s.cfg.WebsiteURL, "/"))
	}

	result := s.deliver(ctx, "reminder", delivery{
		channel:     ChannelEmail,
		recipient:   recipientAdmin,
		destination: s.cfg.AdminEmail,
		sender:      s.email,
		content:     Content{Subject: fmt.Sprintf("[%s] %d pending message(s)", s.cfg.AppName, len(stale)), Body: body.String()},
	})
	if result.Outcome != OutcomeSent {
		return len(stale), fmt.Errorf("reminder digest not delivered")
	}
	return len(stale), nil
}

// Resend replays user confirmations for messages created since the given
// instant whose sent flags are still unset. Admin alerts are not repeated.
func (s *NotificationService) Resend(ctx context.Context, since time.Time, limit int) ([]DeliveryResult, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.store.ListUnsent(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsent messages: %w", err)
	}
	var all []DeliveryResult
	for _, msg := range pending {
		all = append(all, s.Notify(ctx, msg, DispatchOptions{SkipAdmin: true})...)
	}
	return all, nil
}

func (s *NotificationService) userConfirmation(msg models.Message) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", msg.Name)
	var subject string
	if msg.Kind == models.MessageKindPreRegistration {
		subject = fmt.Sprintf("[%s] Pre-registration received", s.cfg.AppName)
		fmt.Fprintf(&b, "We have received your pre-registration for \"%s\".\n", msg.FormationName)
		b.WriteString("Our team will contact you within 24 hours to confirm your place.\n")
	} else {
		subject = fmt.Sprintf("[%s] We received your message", s.cfg.AppName)
		fmt.Fprintf(&b, "Thank you for contacting us about \"%s\".\n", msg.Subject)
		b.WriteString("We will get back to you as soon as possible.\n")
	}
	fmt.Fprintf(&b, "\n%s", s.cfg.AppName)
	if s.cfg.WebsiteURL != "" {
		fmt.Fprintf(&b, "\n%s", s.cfg.WebsiteURL)
	}
	return Content{Subject: subject, Body: b.String()}
}

func (s *NotificationService) adminAlert(msg models.Message) Content {
	now := s.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Kind: %s\nPriority: %d\nSpam score: %d\n\n", msg.Kind, Priority(&msg, now), SpamScore(&msg))
	fmt.Fprintf(&b, "Name: %s\nEmail: %s\nPhone: %s\nCity: %s\n", msg.Name, msg.Email, msg.Phone, msg.City)
	if msg.FormationName != "" {
		fmt.Fprintf(&b, "Formation: %s\n", msg.FormationName)
	}
	if msg.Availability != "" {
		fmt.Fprintf(&b, "Availability: %s\n", msg.Availability)
	}
	fmt.Fprintf(&b, "Subject: %s\n\n%s\n\nSource: %s (%s)\n", msg.Subject, msg.Body, msg.Source, BrowserFamily(msg.UserAgent))

	prefix := "New message"
	if IsUrgent(&msg) {
		prefix = "URGENT pre-registration"
	}
	return Content{Subject: fmt.Sprintf("[%s] %s: %s", s.cfg.AppName, prefix, msg.Subject), Body: b.String()}
}

func (s *NotificationService) adminWhatsAppAlert(msg models.Message) string {
	return fmt.Sprintf("New pre-registration: %s (%s) for %s", msg.Name, msg.Phone, msg.FormationName)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
