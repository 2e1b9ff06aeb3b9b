package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

func TestAdminCodeConsumeOnlyActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdminCodeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE admin_codes SET is_active = FALSE, used_by = $2, used_at = $3 WHERE code = $1 AND is_active = TRUE")).
		WithArgs("INVITE1", "new@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE admin_codes SET is_active = FALSE, used_by = $2, used_at = $3 WHERE code = $1 AND is_active = TRUE")).
		WithArgs("INVITE1", "other@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Consume(context.Background(), "INVITE1", "new@example.com", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Consume(context.Background(), "INVITE1", "other@example.com", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminCodeInsertMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdminCodeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_codes")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admin_codes")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.InsertMissing(context.Background(), []models.AdminCode{
		{Code: "ADMIN001", IsActive: true, CreatedBy: "system"},
		{Code: "ADMIN002", IsActive: true, CreatedBy: "system"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminCodeListAndCount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAdminCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM admin_codes")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code, is_active, created_by, created_at, used_by, used_at FROM admin_codes ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"code", "is_active", "created_by", "created_at", "used_by", "used_at"}).
			AddRow("INVITE1", false, "admin@example.com", time.Now(), "new@example.com", time.Now()))

	total, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	codes, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, 1)
	require.NotNil(t, codes[0].UsedBy)
	assert.Equal(t, "new@example.com", *codes[0].UsedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
