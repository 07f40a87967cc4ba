package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_Execute(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	mock.ExpectQuery("SELECT area_code, establishments FROM establishment_stats").
		WillReturnRows(sqlmock.NewRows([]string{"area_code", "establishments"}).
			AddRow("10001", int64(42)).
			AddRow("10002", int64(7)))

	eng := NewWithDB(db, PoolConfig{})
	result, err := eng.Execute(context.Background(), "SELECT area_code, establishments FROM establishment_stats")
	require.NoError(t, err)

	assert.Equal(t, []string{"area_code", "establishments"}, result.Columns)
	assert.Equal(t, 2, result.RowCount())
	assert.Equal(t, "10001", result.Rows[0][0])
	assert.Equal(t, int64(42), result.Rows[0][1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Execute_ByteSliceToString(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	mock.ExpectQuery("SELECT title FROM industries").
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow([]byte("Agriculture")))

	eng := NewWithDB(db, PoolConfig{})
	result, err := eng.Execute(context.Background(), "SELECT title FROM industries")
	require.NoError(t, err)
	assert.Equal(t, "Agriculture", result.Rows[0][0])
}

func TestPostgres_Execute_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	mock.ExpectQuery("SELECT bogus").WillReturnError(errors.New("relation does not exist"))

	eng := NewWithDB(db, PoolConfig{})
	_, err = eng.Execute(context.Background(), "SELECT bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executing query")
}

func TestPostgres_Execute_WithArgs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // sqlmock db close error is inconsequential in tests.

	mock.ExpectQuery("SELECT area_code FROM establishment_stats WHERE industry_code = ?").
		WithArgs("11").
		WillReturnRows(sqlmock.NewRows([]string{"area_code"}).AddRow("10001"))

	eng := NewWithDB(db, PoolConfig{})
	result, err := eng.Execute(context.Background(), "SELECT area_code FROM establishment_stats WHERE industry_code = ?", "11")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount())
}

func TestNewPostgres_RequiresDSN(t *testing.T) {
	_, err := NewPostgres("", PoolConfig{})
	assert.Error(t, err)
}
