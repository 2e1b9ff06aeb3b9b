package handler

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/service"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/response"
)

type exportService interface {
	ExportAdmissions(ctx context.Context, status models.ReviewStatus, format service.ExportFormat, requestedBy string) (*service.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

// ExportHandler renders admission exports and serves their signed downloads.
type ExportHandler struct {
	exports exportService
	logger  *zap.Logger
}

// NewExportHandler constructs an export handler.
func NewExportHandler(exports exportService, logger *zap.Logger) *ExportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportHandler{exports: exports, logger: logger}
}

// Admissions godoc
// @Summary Export admission forms
// @Description Renders the forms as CSV or PDF and returns a signed download link
// @Tags Admin
// @Produce json
// @Param format query string false "csv (default) or pdf"
// @Param status query string false "Status filter"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/exports/admissions [post]
func (h *ExportHandler) Admissions(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	query := dto.ExportAdmissionsQuery{
		Format: c.DefaultQuery("format", string(service.ExportFormatCSV)),
		Status: models.ReviewStatus(c.Query("status")),
	}

	result, err := h.exports.ExportAdmissions(c.Request.Context(), query.Status, service.ExportFormat(query.Format), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an export
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, name, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	h.logger.Debug("export downloaded", zap.String("name", name))
	response.File(c, name, contentTypeFor(name), data)
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv; charset=utf-8"
	}
	return "application/octet-stream"
}
