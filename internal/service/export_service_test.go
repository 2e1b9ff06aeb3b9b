package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/storage"
)

func newExportServiceForTest(t *testing.T, forms ...models.AdmissionForm) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewExportService(newAdmissionStoreStub(forms...), store, storage.NewTicketSigner("secret", time.Hour),
		ExportConfig{APIPrefix: "/api/v1/"}, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return svc
}

func exportForms() []models.AdmissionForm {
	approved := pendingForm()
	approved.ID = "f-2"
	approved.Status = models.StatusApproved
	approved.MonthlyAmount = amount(2500)
	return []models.AdmissionForm{pendingForm(), approved}
}

func TestExportAdmissionsCSV(t *testing.T) {
	svc := newExportServiceForTest(t, exportForms()...)

	result, err := svc.ExportAdmissions(context.Background(), "", ExportFormatCSV, "admin@x.com")
	require.NoError(t, err)
	assert.Equal(t, "admissions_all_20260301_093000.csv", result.Name)
	assert.Equal(t, 2, result.Rows)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/exports/"))

	file, name, err := svc.Open(strings.TrimPrefix(result.URL, "/api/v1/exports/"))
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, result.Name, name)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "Submitted,Student,Class")
	assert.Contains(t, body, "2500.00")
	assert.Contains(t, body, "Approved: 1")
	assert.Contains(t, body, "Monthly revenue: 2500.00")
}

func TestExportAdmissionsPDFByStatus(t *testing.T) {
	svc := newExportServiceForTest(t, exportForms()...)

	result, err := svc.ExportAdmissions(context.Background(), models.StatusApproved, ExportFormatPDF, "admin@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
	assert.True(t, strings.HasSuffix(result.Name, ".pdf"))
}

func TestExportAdmissionsValidation(t *testing.T) {
	svc := newExportServiceForTest(t)

	_, err := svc.ExportAdmissions(context.Background(), "", "xlsx", "admin@x.com")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	_, err = svc.ExportAdmissions(context.Background(), "archived", ExportFormatCSV, "admin@x.com")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, _, err = svc.Open("forged.token.value")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestExportAdmissionsPersistenceError(t *testing.T) {
	svc := newExportServiceForTest(t)
	svc.forms.(*admissionStoreStub).err = errors.New("db down")

	_, err := svc.ExportAdmissions(context.Background(), "", ExportFormatCSV, "admin@x.com")
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
}
