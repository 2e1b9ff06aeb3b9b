package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func columnNames(list string) []string {
	parts := strings.Split(list, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		names = append(names, strings.TrimSpace(part))
	}
	return names
}

func profileRow(id, email string, role models.Role, status models.AdmissionStatus, verified bool) []interface{} {
	now := time.Now()
	return []interface{}{
		id, "uid-1", email, string(role), "Guardian", "0300", verified, string(status), "", "",
		"", "", "", "", "", "", "",
		"", "", "", nil, "", "",
		"", "", "", "", now, now,
	}
}

func profileRows(rows ...[]interface{}) *sqlmock.Rows {
	result := sqlmock.NewRows(columnNames(models.ProfileColumns))
	for _, row := range rows {
		values := make([]driver.Value, len(row))
		for i, v := range row {
			values[i] = v
		}
		result.AddRow(values...)
	}
	return result
}

func TestProfileListByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1 ORDER BY created_at")).
		WithArgs("parent@example.com").
		WillReturnRows(profileRows(
			profileRow("p-1", "parent@example.com", models.RoleUser, models.AdmissionNone, true),
			profileRow("p-2", "parent@example.com", models.RoleDriver, models.AdmissionNone, true),
		))

	profiles, err := repo.ListByEmail(context.Background(), "parent@example.com")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, models.RoleDriver, profiles[1].Role)
	assert.Nil(t, profiles[0].MonthlyAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileFindByEmailAndRoleNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1 AND role = $2 LIMIT 1")).
		WithArgs("ghost@example.com", models.RoleUser).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByEmailAndRole(context.Background(), "ghost@example.com", models.RoleUser)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileUpdateFieldsByEmailRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET admission_status = $1, rejection_reason = $2, updated_at = $3 WHERE email = $4 AND role = $5 RETURNING")).
		WithArgs("rejected", "Incomplete", sqlmock.AnyArg(), "parent@example.com", models.RoleUser).
		WillReturnRows(profileRows(profileRow("p-1", "parent@example.com", models.RoleUser, models.AdmissionRejected, true)))

	profile, err := repo.UpdateFieldsByEmailRole(context.Background(), nil, "parent@example.com", models.RoleUser, models.ProfileFields{
		"rejection_reason": "Incomplete",
		"admission_status": "rejected",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionRejected, profile.AdmissionStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileUpdateFieldsRejectsUnknownColumn(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	_, err := repo.UpdateFields(context.Background(), nil, "p-1", models.ProfileFields{"email": "other@example.com"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfilePromoteAdmissionStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET admission_status = $1, updated_at = $2")).
		WithArgs(models.AdmissionPending, sqlmock.AnyArg(), "parent@example.com", models.RoleUser, models.AdmissionNone, models.AdmissionRejected).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.PromoteAdmissionStatus(context.Background(), nil, "parent@example.com", models.AdmissionPending, models.AdmissionNone, models.AdmissionRejected)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileDeleteUnverified(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE email = $1 AND email_verified = FALSE")).
		WithArgs("parent@example.com").
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := repo.DeleteUnverified(context.Background(), "parent@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileMarkVerifiedMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET email_verified = TRUE")).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.MarkVerified(context.Background(), "missing"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).WillReturnResult(sqlmock.NewResult(1, 1))

	profile := &models.UserProfile{UID: "uid-1", Email: "parent@example.com", Role: models.RoleUser, Name: "Parent"}
	require.NoError(t, repo.Create(context.Background(), nil, profile))
	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, models.AdmissionNone, profile.AdmissionStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
