package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/repository"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/export"
	"github.com/ridesafe/ridesafe-api/pkg/storage"
)

// ExportFormat selects the rendering of an admissions export.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type exportStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Purge(ttl time.Duration) ([]string, error)
}

type ticketSigner interface {
	Issue(name string) (storage.Ticket, error)
	Redeem(token string) (storage.Ticket, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult describes a rendered export and its signed download link.
type ExportResult struct {
	Name      string       `json:"name"`
	Format    ExportFormat `json:"format"`
	Rows      int          `json:"rows"`
	URL       string       `json:"url"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// ExportService renders admission forms to CSV or PDF and hands out signed download links.
type ExportService struct {
	forms   admissionLister
	storage exportStorage
	signer  ticketSigner
	csv     datasetRenderer
	pdf     datasetRenderer
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(forms admissionLister, store exportStorage, signer ticketSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	return &ExportService{
		forms:   forms,
		storage: store,
		signer:  signer,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ExportAdmissions renders the forms matching status (all when empty) and stores the result.
func (s *ExportService) ExportAdmissions(ctx context.Context, status models.ReviewStatus, format ExportFormat, requestedBy string) (*ExportResult, error) {
	if status != "" && !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown status")
	}
	var renderer datasetRenderer
	switch format {
	case ExportFormatCSV:
		renderer = s.csv
	case ExportFormatPDF:
		renderer = s.pdf
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	forms, err := s.forms.List(ctx, repository.AdmissionFilter{Status: status})
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load admission forms")
	}
	generatedAt := s.now().UTC()
	payload, err := renderer.Render(admissionDataset(forms, status, generatedAt))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	name, err := s.storage.Save(exportName(status, format, generatedAt), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	ticket, err := s.signer.Issue(name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}

	s.logger.Info("admissions exported",
		zap.String("name", name),
		zap.String("requested_by", requestedBy),
		zap.Int("rows", len(forms)),
	)
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &ExportResult{
		Name:      name,
		Format:    format,
		Rows:      len(forms),
		URL:       prefix + "/exports/" + ticket.Token,
		ExpiresAt: ticket.ExpiresAt,
	}, nil
}

// Open redeems a download token and returns the stored file with its name.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	ticket, err := s.signer.Redeem(token)
	if err != nil {
		if errors.Is(err, storage.ErrTicketExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "download link not recognised")
	}
	file, err := s.storage.Open(ticket.Name)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
	}
	return file, ticket.Name, nil
}

// Cleanup removes exports older than the configured result TTL.
func (s *ExportService) Cleanup() ([]string, error) {
	removed, err := s.storage.Purge(s.cfg.ResultTTL)
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
	return removed, err
}

func exportName(status models.ReviewStatus, format ExportFormat, at time.Time) string {
	scope := string(status)
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("admissions_%s_%s.%s", scope, at.Format("20060102_150405"), format)
}

func admissionDataset(forms []models.AdmissionForm, status models.ReviewStatus, generatedAt time.Time) export.Dataset {
	title := "Admission Forms"
	if status != "" {
		title = fmt.Sprintf("Admission Forms (%s)", status)
	}
	rows := make([][]string, 0, len(forms))
	var approved int
	var revenue float64
	for _, f := range forms {
		amount := ""
		if f.MonthlyAmount != nil {
			amount = strconv.FormatFloat(*f.MonthlyAmount, 'f', 2, 64)
			if f.Status == models.StatusApproved {
				revenue += *f.MonthlyAmount
			}
		}
		if f.Status == models.StatusApproved {
			approved++
		}
		rows = append(rows, []string{
			f.SubmittedAt.UTC().Format("2006-01-02"),
			f.StudentName,
			f.StudentClass,
			f.SchoolName,
			f.GuardianName,
			f.GuardianPhone,
			f.UserEmail,
			string(f.Status),
			amount,
		})
	}
	return export.Dataset{
		Title:   title,
		Headers: []string{"Submitted", "Student", "Class", "School", "Guardian", "Phone", "Email", "Status", "Monthly Amount"},
		Rows:    rows,
		Footer: []string{
			fmt.Sprintf("Forms: %d", len(forms)),
			fmt.Sprintf("Approved: %d", approved),
			fmt.Sprintf("Monthly revenue: %.2f", revenue),
			"Generated: " + generatedAt.Format(time.RFC3339),
		},
	}
}
