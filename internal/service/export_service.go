package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
	"github.com/Ulrichjack/institut-app-backend/pkg/export"
)

const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"

	defaultExportLimit = 5000
)

type messageExportSource interface {
	ListAll(ctx context.Context, filter models.MessageFilter, limit int) ([]models.Message, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered inbox export ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

// ExportService renders the admin inbox as CSV or PDF.
type ExportService struct {
	messages messageExportSource
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	limit    int
	now      func() time.Time
}

// NewExportService constructs an ExportService. Renderers default to the
// pkg/export implementations.
func NewExportService(messages messageExportSource, csv csvRenderer, pdf pdfRenderer, limit int, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if limit <= 0 {
		limit = defaultExportLimit
	}
	return &ExportService{messages: messages, csv: csv, pdf: pdf, logger: logger, limit: limit, now: time.Now}
}

var messageExportColumns = []export.Column{
	{Key: "created_at", Title: "Received", Weight: 1.3},
	{Key: "kind", Title: "Kind", Weight: 1.2},
	{Key: "status", Title: "Status", Weight: 1},
	{Key: "name", Title: "Name", Weight: 1.4},
	{Key: "email", Title: "Email", Weight: 1.8},
	{Key: "phone", Title: "Phone", Weight: 1.1},
	{Key: "city", Title: "City", Weight: 0.9},
	{Key: "formation", Title: "Formation", Weight: 1.5},
	{Key: "subject", Title: "Subject", Weight: 2},
	{Key: "source", Title: "Source", Weight: 0.9},
	{Key: "handled_by", Title: "Handled by", Weight: 1},
}

// ExportMessages renders every message matching filter, up to the
// configured row limit.
func (s *ExportService) ExportMessages(ctx context.Context, filter models.MessageFilter, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %s", format))
	}

	messages, err := s.messages.ListAll(ctx, filter, s.limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load messages")
	}
	if len(messages) == s.limit {
		s.logger.Warn("message export truncated", zap.Int("limit", s.limit))
	}

	dataset := export.Dataset{Columns: messageExportColumns, Rows: make([]map[string]string, 0, len(messages))}
	for _, msg := range messages {
		dataset.Rows = append(dataset.Rows, messageRow(msg))
	}

	now := s.now().UTC()
	file := &ExportFile{
		Filename: fmt.Sprintf("messages_%s.%s", now.Format("20060102_150405"), format),
		Rows:     len(messages),
	}
	switch format {
	case ExportFormatPDF:
		file.ContentType = "application/pdf"
		file.Body, err = s.pdf.Render(dataset, fmt.Sprintf("Messages export %s", now.Format("2006-01-02")))
	default:
		file.ContentType = "text/csv; charset=utf-8"
		file.Body, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return file, nil
}

func messageRow(msg models.Message) map[string]string {
	return map[string]string{
		"created_at": msg.CreatedAt.UTC().Format("2006-01-02 15:04"),
		"kind":       string(msg.Kind),
		"status":     string(msg.Status),
		"name":       msg.Name,
		"email":      msg.Email,
		"phone":      msg.Phone,
		"city":       msg.City,
		"formation":  msg.FormationName,
		"subject":    msg.Subject,
		"source":     msg.Source,
		"handled_by": msg.HandledBy,
	}
}
