package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ulrichjack/institut-app-backend/internal/dto"
	"github.com/Ulrichjack/institut-app-backend/internal/middleware"
	"github.com/Ulrichjack/institut-app-backend/internal/models"
	"github.com/Ulrichjack/institut-app-backend/internal/service"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
	"github.com/Ulrichjack/institut-app-backend/pkg/response"
)

type messageService interface {
	SubmitGeneralContact(ctx context.Context, req dto.ContactRequest, tracking models.MessageTracking) (*dto.MessageReceipt, error)
	SubmitPreRegistration(ctx context.Context, req dto.PreRegistrationRequest, tracking models.MessageTracking) (*dto.MessageReceipt, error)
	List(ctx context.Context, query dto.MessageListQuery) ([]dto.MessageView, *models.Pagination, error)
	Get(ctx context.Context, id string) (*dto.MessageView, error)
	ChangeStatus(ctx context.Context, id string, req dto.ChangeStatusRequest, adminID string) (*dto.MessageView, error)
	MarkRead(ctx context.Context, id, adminID string) (*dto.MessageView, error)
	Stats(ctx context.Context) (*models.MessageStats, bool, error)
}

type messageExporter interface {
	ExportMessages(ctx context.Context, filter models.MessageFilter, format string) (*service.ExportFile, error)
}

// MessageHandler exposes intake and inbox endpoints.
type MessageHandler struct {
	service  messageService
	exporter messageExporter
}

// NewMessageHandler builds a new handler.
func NewMessageHandler(service messageService, exporter messageExporter) *MessageHandler {
	return &MessageHandler{service: service, exporter: exporter}
}

// Contact godoc
// @Summary Submit a general contact request
// @Tags Messages
// @Accept json
// @Produce json
// @Param payload body dto.ContactRequest true "Contact payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /messages/contact [post]
func (h *MessageHandler) Contact(c *gin.Context) {
	var req dto.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid contact payload"))
		return
	}
	receipt, err := h.service.SubmitGeneralContact(c.Request.Context(), req, trackingFromRequest(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// PreRegister godoc
// @Summary Submit a pre-registration
// @Tags Messages
// @Accept json
// @Produce json
// @Param payload body dto.PreRegistrationRequest true "Pre-registration payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /messages/pre-registration [post]
func (h *MessageHandler) PreRegister(c *gin.Context) {
	var req dto.PreRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pre-registration payload"))
		return
	}
	receipt, err := h.service.SubmitPreRegistration(c.Request.Context(), req, trackingFromRequest(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// List godoc
// @Summary List inbox messages
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param status query string false "UNREAD, READ, PROCESSED, ARCHIVED"
// @Param kind query string false "GENERAL_CONTACT or PRE_REGISTRATION"
// @Param formationName query string false "Formation name"
// @Param email query string false "Sender email"
// @Param source query string false "Acquisition source"
// @Param from query string false "From date (YYYY-MM-DD or RFC3339)"
// @Param to query string false "To date (YYYY-MM-DD or RFC3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /messages [get]
func (h *MessageHandler) List(c *gin.Context) {
	var query dto.MessageListQuery
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

// Get godoc
// @Summary Get message detail
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 200 {object} response.Envelope
// @Router /messages/{id} [get]
func (h *MessageHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// ChangeStatus godoc
// @Summary Change message status
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Param payload body dto.ChangeStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /messages/{id}/status [put]
func (h *MessageHandler) ChangeStatus(c *gin.Context) {
	var req dto.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	item, err := h.service.ChangeStatus(c.Request.Context(), c.Param("id"), req, adminID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// MarkRead godoc
// @Summary Mark message as read
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 200 {object} response.Envelope
// @Router /messages/{id}/read [patch]
func (h *MessageHandler) MarkRead(c *gin.Context) {
	item, err := h.service.MarkRead(c.Request.Context(), c.Param("id"), adminID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Stats godoc
// @Summary Inbox statistics
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /messages/stats [get]
func (h *MessageHandler) Stats(c *gin.Context) {
	stats, cacheHit, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export inbox messages
// @Tags Messages
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /messages/export [get]
func (h *MessageHandler) Export(c *gin.Context) {
	var query dto.MessageListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	filter, err := service.ParseMessageFilter(query)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exporter.ExportMessages(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.ContentType, file.Filename, file.Body)
}

func trackingFromRequest(c *gin.Context) models.MessageTracking {
	return models.MessageTracking{
		Source:    c.Query("source"),
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
}
