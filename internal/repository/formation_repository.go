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

const formationColumns = `id, name, slug, description, duration, category, price, registration_fee, on_promotion,
       discount_percentage, promo_start, promo_end, seat_capacity, real_enrolled_count, displayed_enrolled_count,
       social_proof_enabled, view_count, info_request_count, total_enrollment_count, active, created_by, updated_by,
       created_at, updated_at`

// FormationRepository provides database access for the formation catalog.
type FormationRepository struct {
	db *sqlx.DB
}

// NewFormationRepository creates a new instance of FormationRepository.
func NewFormationRepository(db *sqlx.DB) *FormationRepository {
	return &FormationRepository{db: db}
}

// Create inserts a new formation.
func (r *FormationRepository) Create(ctx context.Context, formation *models.Formation) error {
	if formation.ID == "" {
		formation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if formation.CreatedAt.IsZero() {
		formation.CreatedAt = now
	}
	formation.UpdatedAt = now

	const query = `INSERT INTO formations (id, name, slug, description, duration, category, price, registration_fee,
	on_promotion, discount_percentage, promo_start, promo_end, seat_capacity, real_enrolled_count, displayed_enrolled_count,
	social_proof_enabled, view_count, info_request_count, total_enrollment_count, active, created_by, updated_by, created_at, updated_at)
	VALUES (:id, :name, :slug, :description, :duration, :category, :price, :registration_fee,
	:on_promotion, :discount_percentage, :promo_start, :promo_end, :seat_capacity, :real_enrolled_count, :displayed_enrolled_count,
	:social_proof_enabled, :view_count, :info_request_count, :total_enrollment_count, :active, :created_by, :updated_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, formation); err != nil {
		return fmt.Errorf("create formation: %w", err)
	}
	return nil
}

// FindByID returns a formation regardless of its active flag.
func (r *FormationRepository) FindByID(ctx context.Context, id string) (*models.Formation, error) {
	query := fmt.Sprintf(`SELECT %s FROM formations WHERE id = $1`, formationColumns)
	var formation models.Formation
	if err := r.db.GetContext(ctx, &formation, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find formation by id: %w", err)
	}
	return &formation, nil
}

// FindActiveBySlug returns an active formation by slug.
func (r *FormationRepository) FindActiveBySlug(ctx context.Context, slug string) (*models.Formation, error) {
	query := fmt.Sprintf(`SELECT %s FROM formations WHERE slug = $1 AND active = TRUE`, formationColumns)
	var formation models.Formation
	if err := r.db.GetContext(ctx, &formation, query, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find formation by slug: %w", err)
	}
	return &formation, nil
}

// SlugExists reports whether slug is used by a formation other than excludeID.
func (r *FormationRepository) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM formations WHERE slug = $1 AND id::text <> $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, slug, excludeID); err != nil {
		return false, fmt.Errorf("check formation slug: %w", err)
	}
	return exists, nil
}

// List returns formations matching the filter with the total count.
func (r *FormationRepository) List(ctx context.Context, filter models.FormationFilter) ([]models.Formation, int, error) {
	baseQuery := `FROM formations WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(description) LIKE $%d)", len(args), len(args)))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"created_at":          true,
		"name":                true,
		"price":               true,
		"view_count":          true,
		"real_enrolled_count": true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page, pageSize := normalisePage(filter.Page, filter.PageSize)
	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", formationColumns, baseQuery, sortBy, sortOrder, pageSize, (page-1)*pageSize)

	var formations []models.Formation
	if err := r.db.SelectContext(ctx, &formations, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list formations: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count formations: %w", err)
	}
	return formations, total, nil
}

// ListSelectable returns active formations that still have real seats left.
func (r *FormationRepository) ListSelectable(ctx context.Context) ([]models.Formation, error) {
	query := fmt.Sprintf(`SELECT %s FROM formations WHERE active = TRUE AND real_enrolled_count < seat_capacity ORDER BY name ASC`, formationColumns)
	var formations []models.Formation
	if err := r.db.SelectContext(ctx, &formations, query); err != nil {
		return nil, fmt.Errorf("list selectable formations: %w", err)
	}
	return formations, nil
}

// Update writes admin-editable fields. Unless forceCapacity is set the
// write only succeeds when the new capacity still covers real enrollments;
// sql.ErrNoRows is returned otherwise or when the row does not exist.
func (r *FormationRepository) Update(ctx context.Context, formation *models.Formation, forceCapacity bool) error {
	formation.UpdatedAt = time.Now().UTC()
	const query = `UPDATE formations SET name = :name, slug = :slug, description = :description, duration = :duration,
	category = :category, price = :price, registration_fee = :registration_fee, on_promotion = :on_promotion,
	discount_percentage = :discount_percentage, promo_start = :promo_start, promo_end = :promo_end,
	seat_capacity = :seat_capacity, updated_by = :updated_by, updated_at = :updated_at
	WHERE id = :id AND (:force_capacity OR real_enrolled_count <= :seat_capacity)`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                  formation.ID,
		"name":                formation.Name,
		"slug":                formation.Slug,
		"description":         formation.Description,
		"duration":            formation.Duration,
		"category":            formation.Category,
		"price":               formation.Price,
		"registration_fee":    formation.RegistrationFee,
		"on_promotion":        formation.OnPromotion,
		"discount_percentage": formation.DiscountPercentage,
		"promo_start":         formation.PromoStart,
		"promo_end":           formation.PromoEnd,
		"seat_capacity":       formation.SeatCapacity,
		"updated_by":          formation.UpdatedBy,
		"updated_at":          formation.UpdatedAt,
		"force_capacity":      forceCapacity,
	})
	if err != nil {
		return fmt.Errorf("update formation: %w", err)
	}
	return requireRow(result, "update formation")
}

// UpdateSocialProof toggles social proof. Disabling it re-syncs the
// displayed count with the real one.
func (r *FormationRepository) UpdateSocialProof(ctx context.Context, id string, enabled bool, displayed int, updatedBy string) (*models.Formation, error) {
	query := fmt.Sprintf(`UPDATE formations SET social_proof_enabled = $2,
	displayed_enrolled_count = CASE WHEN $2 THEN $3 ELSE real_enrolled_count END,
	updated_by = $4, updated_at = $5
	WHERE id = $1 RETURNING %s`, formationColumns)
	var formation models.Formation
	if err := r.db.GetContext(ctx, &formation, query, id, enabled, displayed, updatedBy, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update social proof: %w", err)
	}
	return &formation, nil
}

// Deactivate performs a soft delete.
func (r *FormationRepository) Deactivate(ctx context.Context, id, updatedBy string) error {
	const query = `UPDATE formations SET active = FALSE, updated_by = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, updatedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate formation: %w", err)
	}
	return requireRow(result, "deactivate formation")
}

// IncrementEnrollment admits one enrollment in a single conditional
// statement. sql.ErrNoRows means the formation is missing, inactive or full.
func (r *FormationRepository) IncrementEnrollment(ctx context.Context, id string) (*models.Formation, error) {
	query := fmt.Sprintf(`UPDATE formations SET
	real_enrolled_count = real_enrolled_count + 1,
	total_enrollment_count = total_enrollment_count + 1,
	displayed_enrolled_count = CASE WHEN social_proof_enabled THEN displayed_enrolled_count ELSE real_enrolled_count + 1 END,
	updated_at = $2
	WHERE id = $1 AND active = TRUE AND real_enrolled_count < seat_capacity
	RETURNING %s`, formationColumns)
	var formation models.Formation
	if err := r.db.GetContext(ctx, &formation, query, id, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("increment enrollment: %w", err)
	}
	return &formation, nil
}

// IncrementViews bumps the view counter.
func (r *FormationRepository) IncrementViews(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE formations SET view_count = view_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	return requireRow(result, "increment views")
}

// IncrementInfoRequests bumps the info request counter.
func (r *FormationRepository) IncrementInfoRequests(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE formations SET info_request_count = info_request_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment info requests: %w", err)
	}
	return requireRow(result, "increment info requests")
}

func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalisePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
