package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/surveillance/internal/domain/casecount"
	"github.com/ehr/surveillance/internal/platform/apperr"
	"github.com/ehr/surveillance/internal/platform/auth"
	"github.com/ehr/surveillance/internal/platform/blobstore"
	"github.com/ehr/surveillance/internal/platform/metrics"
)

// ArchiveCategory tags archived case-count reports in the blob store.
const ArchiveCategory = "case-count"

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc     *casecount.Service
	store   blobstore.BlobStore
	metrics *metrics.Collector
	log     zerolog.Logger
}

func NewHandler(svc *casecount.Service, store blobstore.BlobStore) *Handler {
	return &Handler{svc: svc, store: store, log: zerolog.Nop()}
}

func (h *Handler) SetMetrics(m *metrics.Collector) { h.metrics = m }

func (h *Handler) SetLogger(l zerolog.Logger) { h.log = l }

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleEpidemiologist, auth.RoleOfficer))
	reportGroup.GET("", h.ListReports)
	reportGroup.GET("/case-count", h.CaseCount)
	reportGroup.POST("/case-count/archive", h.ArchiveCaseCount)
}

func (h *Handler) ListReports(c echo.Context) error {
	return c.JSON(http.StatusOK, Definitions)
}

// ParseQuery reads start, end and status from the query string. Dates use
// the YYYY-MM-DD form.
func ParseQuery(c echo.Context) (casecount.Query, error) {
	var q casecount.Query
	start := c.QueryParam("start")
	if start == "" {
		return q, apperr.Required("start")
	}
	d, err := time.Parse("2006-01-02", start)
	if err != nil {
		return q, apperr.Invalid("start", "must be a date in YYYY-MM-DD form")
	}
	q.Start = d
	if end := c.QueryParam("end"); end != "" {
		d, err := time.Parse("2006-01-02", end)
		if err != nil {
			return q, apperr.Invalid("end", "must be a date in YYYY-MM-DD form")
		}
		q.End = &d
	}
	q.Status = c.QueryParam("status")
	return q, nil
}

// CaseCount answers with the table as JSON, or as a workbook download when
// format=xlsx.
func (h *Handler) CaseCount(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatXLSX {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
	}
	q, err := ParseQuery(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	table, err := h.svc.CaseCount(c.Request().Context(), q)
	if err != nil {
		return apperr.ToHTTP(err)
	}

	if format == FormatJSON {
		h.metrics.ReportGenerated(format)
		return c.JSON(http.StatusOK, table)
	}
	data, err := RenderCaseCount(table)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	h.metrics.ReportGenerated(format)
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, FileName(table, format)))
	return c.Blob(http.StatusOK, blobstore.ContentTypeXLSX, data)
}

// ArchiveCaseCount renders the report and stores it in the archive.
func (h *Handler) ArchiveCaseCount(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = FormatXLSX
	}
	q, err := ParseQuery(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	meta, err := h.Archive(c.Request().Context(), q, format)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, meta)
}

// Archive builds the case-count report for q and uploads it in format.
func (h *Handler) Archive(ctx context.Context, q casecount.Query, format string) (*blobstore.BlobMetadata, error) {
	table, err := h.svc.CaseCount(ctx, q)
	if err != nil {
		return nil, err
	}
	var (
		data        []byte
		contentType string
	)
	switch format {
	case FormatXLSX:
		data, err = RenderCaseCount(table)
		contentType = blobstore.ContentTypeXLSX
	case FormatJSON:
		data, err = json.Marshal(table)
		contentType = blobstore.ContentTypeJSON
	default:
		return nil, apperr.Invalid("format", fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, fmt.Errorf("render case count: %w", err)
	}
	h.metrics.ReportGenerated(format)

	actor := auth.UserIDFromContext(ctx)
	if actor == "" {
		actor = "system"
	}
	meta, err := h.store.Upload(ctx, blobstore.BlobMetadata{
		FileName:    FileName(table, format),
		ContentType: contentType,
		Category:    ArchiveCategory,
		CreatedBy:   actor,
		Tags: map[string]string{
			"start":  table.Start,
			"end":    table.End,
			"status": table.Status,
		},
	}, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("archive case count: %w", err)
	}
	h.log.Info().
		Str("blob_id", meta.ID).
		Str("file", meta.FileName).
		Int64("size", meta.Size).
		Msg("case count archived")
	return meta, nil
}

// FileName names a rendered report after its date range.
func FileName(t *casecount.Table, format string) string {
	return fmt.Sprintf("case-count_%s_%s.%s", t.Start, t.End, format)
}
