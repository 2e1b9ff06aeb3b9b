package handler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/service"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

type fakeStatsSrv struct {
	hit bool
	err error
}

func (f *fakeStatsSrv) Lookup(ctx context.Context) (*models.AdminStats, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.AdminStats{TotalUsers: 3, PendingAdmissions: 1, TotalRevenue: 2500}, f.hit, nil
}

type fakeSnapshotter struct{}

func (fakeSnapshotter) Snapshot() models.SystemMetrics {
	return models.SystemMetrics{RequestsTotal: 7}
}

func TestStatsHandlerReportsCacheHit(t *testing.T) {
	h := NewStatsHandler(&fakeStatsSrv{hit: true}, fakeSnapshotter{})

	c, rec := testContext(http.MethodGet, "/admin/stats", nil, adminClaims())
	h.Stats(c)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, string(env.Data), `"totalRevenue":2500`)
}

func TestStatsHandlerPersistenceError(t *testing.T) {
	h := NewStatsHandler(&fakeStatsSrv{err: appErrors.Persistence(errors.New("down"), "failed to load statistics")}, nil)

	c, rec := testContext(http.MethodGet, "/admin/stats", nil, adminClaims())
	h.Stats(c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "PERSISTENCE_ERROR", decodeEnvelope(rec).Error.Code)

	c, rec = testContext(http.MethodGet, "/admin/system-metrics", nil, adminClaims())
	h.System(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeAdminCodeSrv struct {
	added       string
	deactivated string
}

func (f *fakeAdminCodeSrv) Validate(ctx context.Context, code string) bool { return code == "ADMIN001" }

func (f *fakeAdminCodeSrv) Add(ctx context.Context, code, createdBy string) (*models.AdminCode, error) {
	f.added = code
	return &models.AdminCode{Code: code, IsActive: true}, nil
}

func (f *fakeAdminCodeSrv) Deactivate(ctx context.Context, code, actor string) error {
	if code == "UNKNOWN" {
		return appErrors.Clone(appErrors.ErrNotFound, "admin code not found")
	}
	f.deactivated = code
	return nil
}

func (f *fakeAdminCodeSrv) Delete(ctx context.Context, code, actor string) error {
	return f.Deactivate(ctx, code, actor)
}

func (f *fakeAdminCodeSrv) ListAll(ctx context.Context) ([]models.AdminCode, error) {
	return []models.AdminCode{{Code: "ADMIN001", IsActive: true}}, nil
}

func TestAdminCodeHandler(t *testing.T) {
	srv := &fakeAdminCodeSrv{}
	h := NewAdminCodeHandler(srv)

	c, rec := testContext(http.MethodPost, "/admin-codes/validate", map[string]string{"code": "ADMIN001"}, nil)
	h.Validate(c)
	assert.Contains(t, string(decodeEnvelope(rec).Data), `"valid":true`)

	c, rec = testContext(http.MethodPost, "/admin/admin-codes", map[string]string{"code": "INVITE9"}, adminClaims())
	h.Create(c)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "INVITE9", srv.added)

	c, rec = testContext(http.MethodPost, "/admin/admin-codes/UNKNOWN/deactivate", nil, adminClaims())
	c.Params = append(c.Params, ginParam("code", "UNKNOWN"))
	h.Deactivate(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c, rec = testContext(http.MethodDelete, "/admin/admin-codes/INVITE9", nil, adminClaims())
	c.Params = append(c.Params, ginParam("code", "INVITE9"))
	h.Delete(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "INVITE9", srv.deactivated)
}

type fakeExportSrv struct {
	dir    string
	format service.ExportFormat
	status models.ReviewStatus
}

func (f *fakeExportSrv) ExportAdmissions(ctx context.Context, status models.ReviewStatus, format service.ExportFormat, requestedBy string) (*service.ExportResult, error) {
	f.format, f.status = format, status
	return &service.ExportResult{Name: "admissions.csv", Format: format, URL: "/api/v1/exports/tok"}, nil
}

func (f *fakeExportSrv) Open(token string) (*os.File, string, error) {
	if token != "tok" {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "download link not recognised")
	}
	file, err := os.Open(filepath.Join(f.dir, "admissions.csv"))
	return file, "admissions.csv", err
}

func TestExportHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admissions.csv"), []byte("Student\nAli\n"), 0o644))
	srv := &fakeExportSrv{dir: dir}
	h := NewExportHandler(srv, nil)

	c, rec := testContext(http.MethodPost, "/admin/exports/admissions?status=approved", nil, adminClaims())
	h.Admissions(c)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, service.ExportFormatCSV, srv.format)
	assert.Equal(t, models.StatusApproved, srv.status)

	c, rec = testContext(http.MethodGet, "/exports/tok", nil, nil)
	c.Params = append(c.Params, ginParam("token", "tok"))
	h.Download(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "admissions.csv")
	assert.Equal(t, "Student\nAli\n", rec.Body.String())

	c, rec = testContext(http.MethodGet, "/exports/forged", nil, nil)
	c.Params = append(c.Params, ginParam("token", "forged"))
	h.Download(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeProfileSrv struct {
	filter models.ProfileFilter
	fields map[string]interface{}
}

func (f *fakeProfileSrv) GetByEmail(ctx context.Context, email string) ([]models.UserProfile, error) {
	return []models.UserProfile{{Email: email, Role: models.RoleUser}}, nil
}

func (f *fakeProfileSrv) GetByEmailAndRole(ctx context.Context, email string, role models.Role) (*models.UserProfile, error) {
	if role != models.RoleUser {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
	}
	return &models.UserProfile{Email: email, Role: role}, nil
}

func (f *fakeProfileSrv) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	return &models.UserProfile{ID: id}, nil
}

func (f *fakeProfileSrv) List(ctx context.Context, filter models.ProfileFilter) ([]models.UserProfile, *models.Pagination, error) {
	f.filter = filter
	return []models.UserProfile{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (f *fakeProfileSrv) UpdateStudent(ctx context.Context, id string, req dto.UpdateProfileRequest, adminEmail string) (*models.UserProfile, error) {
	f.fields = req.Fields()
	return &models.UserProfile{ID: id}, nil
}

func TestProfileHandler(t *testing.T) {
	srv := &fakeProfileSrv{}
	h := NewProfileHandler(srv)

	c, rec := testContext(http.MethodGet, "/profiles/me/driver", nil, guardianClaims())
	c.Params = append(c.Params, ginParam("role", "driver"))
	h.MineByRole(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c, rec = testContext(http.MethodGet, "/admin/users?role=user&verified=true&page=2", nil, adminClaims())
	h.List(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleUser, srv.filter.Role)
	require.NotNil(t, srv.filter.Verified)
	assert.True(t, *srv.filter.Verified)
	assert.Equal(t, 2, srv.filter.Page)

	c, rec = testContext(http.MethodGet, "/admin/users?verified=maybe", nil, adminClaims())
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = testContext(http.MethodPatch, "/admin/users/u-1", map[string]interface{}{"studentClass": "6", "monthlyAmount": 2600}, adminClaims())
	c.Params = append(c.Params, ginParam("id", "u-1"))
	h.Update(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"student_class": "6", "monthly_amount": 2600.0}, srv.fields)
}

