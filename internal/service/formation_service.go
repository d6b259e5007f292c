package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Ulrichjack/institut-app-backend/internal/dto"
	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
)

const maxSlugAttempts = 20

type formationRepository interface {
	Create(ctx context.Context, formation *models.Formation) error
	FindByID(ctx context.Context, id string) (*models.Formation, error)
	FindActiveBySlug(ctx context.Context, slug string) (*models.Formation, error)
	SlugExists(ctx context.Context, slug, excludeID string) (bool, error)
	List(ctx context.Context, filter models.FormationFilter) ([]models.Formation, int, error)
	ListSelectable(ctx context.Context) ([]models.Formation, error)
	Update(ctx context.Context, formation *models.Formation, forceCapacity bool) error
	UpdateSocialProof(ctx context.Context, id string, enabled bool, displayed int, updatedBy string) (*models.Formation, error)
	Deactivate(ctx context.Context, id, updatedBy string) error
	IncrementEnrollment(ctx context.Context, id string) (*models.Formation, error)
	IncrementViews(ctx context.Context, id string) error
	IncrementInfoRequests(ctx context.Context, id string) error
}

// FormationServiceConfig holds catalog defaults.
type FormationServiceConfig struct {
	DefaultSeatCapacity  int
	SocialProofTolerance float64
}

// FormationService exposes catalog use cases and enrollment admission.
type FormationService struct {
	repo      formationRepository
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       FormationServiceConfig
	now       func() time.Time
}

// NewFormationService constructs the formation service.
func NewFormationService(repo formationRepository, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg FormationServiceConfig) *FormationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultSeatCapacity <= 0 {
		cfg.DefaultSeatCapacity = 15
	}
	if cfg.SocialProofTolerance < 0 {
		cfg.SocialProofTolerance = 0
	}
	return &FormationService{repo: repo, validator: validate, metrics: metrics, logger: logger, cfg: cfg, now: time.Now}
}

// List returns active formations for the public catalog.
func (s *FormationService) List(ctx context.Context, query dto.FormationListQuery) ([]dto.FormationSummary, *models.Pagination, error) {
	active := true
	formations, pagination, err := s.list(ctx, query, &active)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	items := make([]dto.FormationSummary, 0, len(formations))
	for i := range formations {
		items = append(items, toFormationSummary(&formations[i], now))
	}
	return items, pagination, nil
}

// ListAdmin returns every formation with computed indicators.
func (s *FormationService) ListAdmin(ctx context.Context, query dto.FormationListQuery) ([]dto.FormationAdmin, *models.Pagination, error) {
	formations, pagination, err := s.list(ctx, query, nil)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	items := make([]dto.FormationAdmin, 0, len(formations))
	for i := range formations {
		items = append(items, s.toFormationAdmin(&formations[i], now))
	}
	return items, pagination, nil
}

func (s *FormationService) list(ctx context.Context, query dto.FormationListQuery, active *bool) ([]models.Formation, *models.Pagination, error) {
	filter := models.FormationFilter{
		Active:    active,
		Category:  strings.TrimSpace(query.Category),
		Search:    strings.TrimSpace(query.Search),
		Page:      query.Page,
		PageSize:  query.Limit,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	formations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list formations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return formations, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns the public detail of an active formation, counting a view
// when trackView is set.
func (s *FormationService) Get(ctx context.Context, id string, trackView bool) (*dto.FormationDetail, error) {
	formation, err := s.FindActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if trackView {
		if err := s.repo.IncrementViews(ctx, id); err != nil {
			s.logger.Warn("failed to record formation view", zap.String("formation_id", id), zap.Error(err))
		} else {
			formation.ViewCount++
		}
	}
	detail := toFormationDetail(formation, s.now())
	return &detail, nil
}

// GetBySlug returns the public detail of an active formation by slug.
func (s *FormationService) GetBySlug(ctx context.Context, slug string) (*dto.FormationDetail, error) {
	formation, err := s.repo.FindActiveBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrFormationNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load formation")
	}
	detail := toFormationDetail(formation, s.now())
	return &detail, nil
}

// GetAdmin returns a formation regardless of its active flag.
func (s *FormationService) GetAdmin(ctx context.Context, id string) (*dto.FormationAdmin, error) {
	formation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	admin := s.toFormationAdmin(formation, s.now())
	return &admin, nil
}

// FindActive loads an active formation or fails with FORMATION_NOT_FOUND.
func (s *FormationService) FindActive(ctx context.Context, id string) (*models.Formation, error) {
	formation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !formation.Active {
		return nil, appErrors.ErrFormationNotFound
	}
	return formation, nil
}

func (s *FormationService) load(ctx context.Context, id string) (*models.Formation, error) {
	formation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrFormationNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load formation")
	}
	return formation, nil
}

// Selection lists active formations still open to pre-registration.
func (s *FormationService) Selection(ctx context.Context) ([]dto.FormationOption, error) {
	formations, err := s.repo.ListSelectable(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list formations")
	}
	options := make([]dto.FormationOption, 0, len(formations))
	for i := range formations {
		f := &formations[i]
		options = append(options, dto.FormationOption{ID: f.ID, Name: f.Name, RemainingSeats: RemainingSeats(f, false)})
	}
	return options, nil
}

// Create registers a new formation.
func (s *FormationService) Create(ctx context.Context, req dto.FormationRequest, adminID string) (*dto.FormationAdmin, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	slug, err := s.uniqueSlug(ctx, req.Slug, req.Name, "")
	if err != nil {
		return nil, err
	}

	capacity := s.cfg.DefaultSeatCapacity
	if req.SeatCapacity != nil {
		capacity = *req.SeatCapacity
	}
	displayed := 0
	if req.SocialProofEnabled && req.DisplayedEnrolledCount != nil {
		displayed = *req.DisplayedEnrolledCount
	}

	formation := &models.Formation{
		Name:                   strings.TrimSpace(req.Name),
		Slug:                   slug,
		Description:            strings.TrimSpace(req.Description),
		Duration:               strings.TrimSpace(req.Duration),
		Category:               strings.TrimSpace(req.Category),
		Price:                  req.Price,
		RegistrationFee:        req.RegistrationFee,
		OnPromotion:            req.OnPromotion,
		DiscountPercentage:     req.DiscountPercentage,
		PromoStart:             req.PromoStart,
		PromoEnd:               req.PromoEnd,
		SeatCapacity:           capacity,
		DisplayedEnrolledCount: displayed,
		SocialProofEnabled:     req.SocialProofEnabled,
		Active:                 true,
		CreatedBy:              adminID,
		UpdatedBy:              adminID,
	}
	if err := s.repo.Create(ctx, formation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create formation")
	}
	s.checkCoherence(formation)
	s.logger.Info("formation created", zap.String("formation_id", formation.ID), zap.String("slug", formation.Slug))

	admin := s.toFormationAdmin(formation, s.now())
	return &admin, nil
}

// Update edits a formation. Capacity cannot drop below real enrollments
// unless ForceCapacity is set.
func (s *FormationService) Update(ctx context.Context, id string, req dto.FormationRequest, adminID string) (*dto.FormationAdmin, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	existing, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	capacity := existing.SeatCapacity
	if req.SeatCapacity != nil {
		capacity = *req.SeatCapacity
	}
	if capacity < existing.RealEnrolledCount && !req.ForceCapacity {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("seat capacity %d is below the %d real enrollments", capacity, existing.RealEnrolledCount))
	}

	slug := existing.Slug
	if req.Slug != "" || !strings.EqualFold(strings.TrimSpace(req.Name), existing.Name) {
		if slug, err = s.uniqueSlug(ctx, req.Slug, req.Name, id); err != nil {
			return nil, err
		}
	}

	updated := *existing
	updated.Name = strings.TrimSpace(req.Name)
	updated.Slug = slug
	updated.Description = strings.TrimSpace(req.Description)
	updated.Duration = strings.TrimSpace(req.Duration)
	updated.Category = strings.TrimSpace(req.Category)
	updated.Price = req.Price
	updated.RegistrationFee = req.RegistrationFee
	updated.OnPromotion = req.OnPromotion
	updated.DiscountPercentage = req.DiscountPercentage
	updated.PromoStart = req.PromoStart
	updated.PromoEnd = req.PromoEnd
	updated.SeatCapacity = capacity
	updated.UpdatedBy = adminID

	if err := s.repo.Update(ctx, &updated, req.ForceCapacity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "seat capacity is below the current real enrollments")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update formation")
	}
	if req.ForceCapacity && capacity < existing.RealEnrolledCount {
		s.logger.Warn("formation capacity forced below real enrollments",
			zap.String("formation_id", id),
			zap.Int("seat_capacity", capacity),
			zap.Int("real_enrolled", existing.RealEnrolledCount))
	}
	s.checkCoherence(&updated)

	admin := s.toFormationAdmin(&updated, s.now())
	return &admin, nil
}

// Delete soft-deletes a formation.
func (s *FormationService) Delete(ctx context.Context, id, adminID string) error {
	if err := s.repo.Deactivate(ctx, id, adminID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrFormationNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete formation")
	}
	s.logger.Info("formation deactivated", zap.String("formation_id", id), zap.String("admin_id", adminID))
	return nil
}

// UpdateSocialProof toggles marketing-adjusted enrollment numbers.
// Incoherent display values are accepted and logged.
func (s *FormationService) UpdateSocialProof(ctx context.Context, id string, req dto.SocialProofRequest, adminID string) (*dto.SocialProofState, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid social proof payload")
	}
	formation, err := s.repo.UpdateSocialProof(ctx, id, req.Enabled, req.DisplayedCount, adminID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrFormationNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update social proof")
	}
	coherent := s.checkCoherence(formation)

	state := &dto.SocialProofState{
		FormationID:            formation.ID,
		Enabled:                formation.SocialProofEnabled,
		DisplayedEnrolledCount: EffectiveDisplayedCount(formation),
		RealEnrolledCount:      formation.RealEnrolledCount,
		RealRemainingSeats:     RemainingSeats(formation, false),
		DisplayedRemaining:     RemainingSeats(formation, true),
		RealFillRate:           FillRate(formation, false),
		DisplayedFillRate:      FillRate(formation, true),
		Coherent:               coherent,
	}
	if msg, ok := SocialProofMessage(formation); ok {
		state.Message = &msg
	}
	return state, nil
}

// RecordEnrollment admits one enrollment against real capacity.
func (s *FormationService) RecordEnrollment(ctx context.Context, id string) (*dto.EnrollmentResult, error) {
	formation, err := s.repo.IncrementEnrollment(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record enrollment")
		}
		if _, lookupErr := s.FindActive(ctx, id); lookupErr != nil {
			s.metrics.RecordEnrollment(OutcomeNotFound)
			return nil, lookupErr
		}
		s.metrics.RecordEnrollment(OutcomeFull)
		s.logger.Info("enrollment refused, formation full", zap.String("formation_id", id))
		return nil, appErrors.ErrFormationFull
	}

	s.metrics.RecordEnrollment(OutcomeAdmitted)
	return &dto.EnrollmentResult{
		FormationID:    formation.ID,
		EnrolledCount:  formation.RealEnrolledCount,
		RemainingSeats: RemainingSeats(formation, false),
		Full:           IsFull(formation),
	}, nil
}

// RecordInfoRequest counts an information request on a formation.
func (s *FormationService) RecordInfoRequest(ctx context.Context, id string) error {
	if err := s.repo.IncrementInfoRequests(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrFormationNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record info request")
	}
	return nil
}

func (s *FormationService) validateRequest(req dto.FormationRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid formation payload")
	}
	invalid := func(msg string) error {
		return appErrors.Clone(appErrors.ErrValidation, msg)
	}
	if !req.Price.IsPositive() {
		return invalid("price must be greater than 0")
	}
	if !req.RegistrationFee.IsPositive() {
		return invalid("registration fee must be greater than 0")
	}
	if req.DiscountPercentage.IsNegative() || req.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return invalid("discount percentage must be between 0 and 100")
	}
	if req.PromoStart != nil && req.PromoEnd != nil && !req.PromoEnd.After(*req.PromoStart) {
		return invalid("promotion end must be after promotion start")
	}
	return nil
}

// uniqueSlug derives a slug from the explicit value or the name and
// suffixes it until no other formation uses it.
func (s *FormationService) uniqueSlug(ctx context.Context, explicit, name, excludeID string) (string, error) {
	base := Slugify(explicit)
	if base == "" {
		base = Slugify(name)
	}
	if base == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "name does not produce a usable slug")
	}
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		exists, err := s.repo.SlugExists(ctx, candidate, excludeID)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slug")
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", appErrors.Clone(appErrors.ErrConflict, "slug already used")
}

func (s *FormationService) checkCoherence(f *models.Formation) bool {
	coherent := DisplayCoherent(f, s.cfg.SocialProofTolerance)
	if !coherent {
		s.logger.Warn("displayed enrollment count exceeds tolerance",
			zap.String("formation_id", f.ID),
			zap.Int("displayed", f.DisplayedEnrolledCount),
			zap.Int("seat_capacity", f.SeatCapacity),
			zap.Float64("tolerance", s.cfg.SocialProofTolerance))
	}
	return coherent
}

func toFormationDetail(f *models.Formation, now time.Time) dto.FormationDetail {
	detail := dto.FormationDetail{
		ID:                 f.ID,
		Name:               f.Name,
		Slug:               f.Slug,
		Description:        f.Description,
		Duration:           f.Duration,
		Category:           f.Category,
		Price:              f.Price,
		FinalPrice:         PriceWithDiscount(f, now),
		RegistrationFee:    f.RegistrationFee,
		PromotionActive:    IsPromotionActive(f, now),
		DiscountPercentage: f.DiscountPercentage,
		PromoStart:         f.PromoStart,
		PromoEnd:           f.PromoEnd,
		SeatCapacity:       f.SeatCapacity,
		EnrolledCount:      EffectiveDisplayedCount(f),
		RemainingSeats:     RemainingSeats(f, true),
		FillRate:           FillRate(f, true),
		Full:               IsFull(f),
		CanEnroll:          CanEnroll(f),
		ViewCount:          f.ViewCount,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
	if msg, ok := SocialProofMessage(f); ok {
		detail.SocialProofMessage = &msg
	}
	return detail
}

func toFormationSummary(f *models.Formation, now time.Time) dto.FormationSummary {
	summary := dto.FormationSummary{
		ID:               f.ID,
		Name:             f.Name,
		Slug:             f.Slug,
		ShortDescription: ShortDescription(f.Description, 0),
		Duration:         f.Duration,
		Category:         f.Category,
		Price:            f.Price,
		FinalPrice:       PriceWithDiscount(f, now),
		PromotionActive:  IsPromotionActive(f, now),
		RemainingSeats:   RemainingSeats(f, true),
		Full:             IsFull(f),
	}
	if msg, ok := SocialProofMessage(f); ok {
		summary.SocialProofMessage = &msg
	}
	return summary
}

func (s *FormationService) toFormationAdmin(f *models.Formation, now time.Time) dto.FormationAdmin {
	return dto.FormationAdmin{
		Formation:         *f,
		FinalPrice:        PriceWithDiscount(f, now),
		PromotionActive:   IsPromotionActive(f, now),
		RealFillRate:      FillRate(f, false),
		DisplayedFillRate: FillRate(f, true),
		RealRemaining:     RemainingSeats(f, false),
		DisplayedRemain:   RemainingSeats(f, true),
		PopularityScore:   PopularityScore(f, now),
		DisplayCoherent:   DisplayCoherent(f, s.cfg.SocialProofTolerance),
	}
}
