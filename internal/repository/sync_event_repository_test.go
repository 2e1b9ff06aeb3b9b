package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

func TestSyncEventInsertWithinTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSyncEventRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_events")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	event := &models.SyncEvent{Type: models.SyncAdmissionStatusChanged, UserEmail: "parent@example.com"}
	require.NoError(t, repo.Insert(context.Background(), tx, event))
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "{}", string(event.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}
