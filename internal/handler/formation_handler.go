package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Ulrichjack/institut-app-backend/internal/dto"
	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
	"github.com/Ulrichjack/institut-app-backend/pkg/response"
)

type formationService interface {
	List(ctx context.Context, query dto.FormationListQuery) ([]dto.FormationSummary, *models.Pagination, error)
	ListAdmin(ctx context.Context, query dto.FormationListQuery) ([]dto.FormationAdmin, *models.Pagination, error)
	Get(ctx context.Context, id string, trackView bool) (*dto.FormationDetail, error)
	GetBySlug(ctx context.Context, slug string) (*dto.FormationDetail, error)
	GetAdmin(ctx context.Context, id string) (*dto.FormationAdmin, error)
	Selection(ctx context.Context) ([]dto.FormationOption, error)
	Create(ctx context.Context, req dto.FormationRequest, adminID string) (*dto.FormationAdmin, error)
	Update(ctx context.Context, id string, req dto.FormationRequest, adminID string) (*dto.FormationAdmin, error)
	Delete(ctx context.Context, id, adminID string) error
	UpdateSocialProof(ctx context.Context, id string, req dto.SocialProofRequest, adminID string) (*dto.SocialProofState, error)
	RecordEnrollment(ctx context.Context, id string) (*dto.EnrollmentResult, error)
	RecordInfoRequest(ctx context.Context, id string) error
}

// FormationHandler exposes the formation catalog endpoints.
type FormationHandler struct {
	service formationService
}

// NewFormationHandler builds a new handler.
func NewFormationHandler(service formationService) *FormationHandler {
	return &FormationHandler{service: service}
}

// List godoc
// @Summary List active formations
// @Tags Formations
// @Produce json
// @Param category query string false "Category"
// @Param search query string false "Search in name and description"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sortBy query string false "created_at, name, price, view_count, real_enrolled_count"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /formations [get]
func (h *FormationHandler) List(c *gin.Context) {
	var query dto.FormationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ListAdmin godoc
// @Summary List every formation with indicators
// @Tags Formations
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/formations [get]
func (h *FormationHandler) ListAdmin(c *gin.Context) {
	var query dto.FormationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	items, pagination, err := h.service.ListAdmin(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// GetAdmin godoc
// @Summary Get formation with admin indicators
// @Tags Formations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Formation ID"
// @Success 200 {object} response.Envelope
// @Router /admin/formations/{id} [get]
func (h *FormationHandler) GetAdmin(c *gin.Context) {
	item, err := h.service.GetAdmin(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Get godoc
// @Summary Get formation detail
// @Tags Formations
// @Produce json
// @Param id path string true "Formation ID"
// @Param trackView query bool false "Count this read as a view (default true)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /formations/{id} [get]
func (h *FormationHandler) Get(c *gin.Context) {
	trackView := !strings.EqualFold(c.Query("trackView"), "false")
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), trackView)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// GetBySlug godoc
// @Summary Get formation by slug
// @Tags Formations
// @Produce json
// @Param slug path string true "Formation slug"
// @Success 200 {object} response.Envelope
// @Router /formations/slug/{slug} [get]
func (h *FormationHandler) GetBySlug(c *gin.Context) {
	item, err := h.service.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Selection godoc
// @Summary Formations open to pre-registration
// @Tags Formations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /formations/selection [get]
func (h *FormationHandler) Selection(c *gin.Context) {
	items, err := h.service.Selection(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Create godoc
// @Summary Create formation
// @Tags Formations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.FormationRequest true "Formation payload"
// @Success 201 {object} response.Envelope
// @Router /formations [post]
func (h *FormationHandler) Create(c *gin.Context) {
	var req dto.FormationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), req, adminID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Update formation
// @Tags Formations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Formation ID"
// @Param payload body dto.FormationRequest true "Formation payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /formations/{id} [put]
func (h *FormationHandler) Update(c *gin.Context) {
	var req dto.FormationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	item, err := h.service.Update(c.Request.Context(), c.Param("id"), req, adminID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Deactivate formation
// @Tags Formations
// @Security BearerAuth
// @Param id path string true "Formation ID"
// @Success 204
// @Router /formations/{id} [delete]
func (h *FormationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), adminID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateSocialProof godoc
// @Summary Configure social proof
// @Tags Formations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Formation ID"
// @Param payload body dto.SocialProofRequest true "Social proof payload"
// @Success 200 {object} response.Envelope
// @Router /formations/{id}/social-proof [put]
func (h *FormationHandler) UpdateSocialProof(c *gin.Context) {
	var req dto.SocialProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	state, err := h.service.UpdateSocialProof(c.Request.Context(), c.Param("id"), req, adminID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// Enroll godoc
// @Summary Record an enrollment
// @Tags Formations
// @Produce json
// @Param id path string true "Formation ID"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /formations/{id}/enrollments [post]
func (h *FormationHandler) Enroll(c *gin.Context) {
	result, err := h.service.RecordEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// InfoRequest godoc
// @Summary Count an information request
// @Tags Formations
// @Param id path string true "Formation ID"
// @Success 204
// @Router /formations/{id}/info-requests [post]
func (h *FormationHandler) InfoRequest(c *gin.Context) {
	if err := h.service.RecordInfoRequest(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
