package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// TestBatchUpdateValidationStatusSQLShape pins the exact statement shape
// the batched approve/reject path issues: one SELECT to resolve which ids
// exist, then exactly one UPDATE covering all of them, never one UPDATE
// per id.
func TestBatchUpdateValidationStatusSQLShape(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM validations WHERE id IN (?, ?)`)).
		WithArgs("A", "B").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("A").AddRow("B"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE validations SET status = ?, updated_at = ? WHERE id IN (?, ?)`)).
		WithArgs("approved", sqlmock.AnyArg(), "A", "B").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	sess := &Session{tx: tx}

	found, results, err := sess.BatchUpdateValidationStatus(context.Background(), []string{"A", "B"}, "approved", "")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.ElementsMatch(t, []string{"A", "B"}, found)
	require.Empty(t, results)
	require.NoError(t, mock.ExpectationsWereMet())
}
