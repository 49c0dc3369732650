package sql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamdb/loam/dialect"
	"github.com/loamdb/loam/dialect/sql"
)

func mockDriver(t *testing.T) (*sql.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sql.OpenDB(dialect.SQLite, db), mock
}

func TestDriver(t *testing.T) {
	ctx := context.Background()

	t.Run("Open", func(t *testing.T) {
		drv, err := sql.Open(dialect.SQLite, "file:drivertest?mode=memory&cache=shared")
		require.NoError(t, err)
		defer drv.Close()
		assert.Equal(t, dialect.SQLite, drv.Dialect())

		require.NoError(t, drv.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)", []any{}, nil))

		var res sql.Result
		require.NoError(t, drv.Exec(ctx, "INSERT INTO t (v) VALUES (?)", []any{"x"}, &res))
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.EqualValues(t, 1, id)

		var rows sql.Rows
		require.NoError(t, drv.Query(ctx, "SELECT id, v FROM t", []any{}, &rows))
		out, err := sql.ScanMaps(&rows)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.EqualValues(t, 1, out[0]["id"])
		assert.Equal(t, "x", out[0]["v"])
	})

	t.Run("Tx", func(t *testing.T) {
		drv, err := sql.Open(dialect.SQLite, "file:drivertx?mode=memory&cache=shared")
		require.NoError(t, err)
		defer drv.Close()
		require.NoError(t, drv.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)", []any{}, nil))

		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, "INSERT INTO t (v) VALUES (?)", []any{"a"}, nil))
		require.NoError(t, tx.Rollback())

		var rows sql.Rows
		require.NoError(t, drv.Query(ctx, "SELECT * FROM t", []any{}, &rows))
		out, err := sql.ScanMaps(&rows)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("InvalidArgs", func(t *testing.T) {
		drv, _ := mockDriver(t)
		assert.Error(t, drv.Exec(ctx, "INSERT", "not-a-slice", nil))
		assert.Error(t, drv.Exec(ctx, "INSERT", []any{}, "bad-dest"))
		assert.Error(t, drv.Query(ctx, "SELECT", []any{}, "bad-dest"))
		var rows sql.Rows
		assert.Error(t, drv.Query(ctx, "SELECT", "not-a-slice", &rows))
	})
}

func TestScanMapsCopiesBytes(t *testing.T) {
	ctx := context.Background()
	drv, mock := mockDriver(t)

	mock.ExpectQuery("SELECT v FROM t").WillReturnRows(
		sqlmock.NewRows([]string{"v"}).AddRow([]byte("payload")),
	)
	var rows sql.Rows
	require.NoError(t, drv.Query(ctx, "SELECT v FROM t", []any{}, &rows))
	out, err := sql.ScanMaps(&rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []byte("payload"), out[0]["v"])
}

func TestNullScanning(t *testing.T) {
	ctx := context.Background()

	t.Run("Aliases", func(t *testing.T) {
		drv, mock := mockDriver(t)
		when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		mock.ExpectQuery("SELECT s, n, f, b, ts FROM t").WillReturnRows(
			sqlmock.NewRows([]string{"s", "n", "f", "b", "ts"}).
				AddRow(nil, nil, nil, nil, nil).
				AddRow("x", int64(7), 1.5, true, when),
		)

		var rows sql.Rows
		require.NoError(t, drv.Query(ctx, "SELECT s, n, f, b, ts FROM t", []any{}, &rows))
		defer rows.Close()

		var (
			s  sql.NullString
			n  sql.NullInt64
			f  sql.NullFloat64
			b  sql.NullBool
			ts sql.NullTime
		)
		require.True(t, rows.Next())
		require.NoError(t, rows.Scan(&s, &n, &f, &b, &ts))
		assert.False(t, s.Valid)
		assert.False(t, n.Valid)
		assert.False(t, f.Valid)
		assert.False(t, b.Valid)
		assert.False(t, ts.Valid)

		require.True(t, rows.Next())
		require.NoError(t, rows.Scan(&s, &n, &f, &b, &ts))
		assert.Equal(t, sql.NullString{String: "x", Valid: true}, s)
		assert.Equal(t, sql.NullInt64{Int64: 7, Valid: true}, n)
		assert.Equal(t, sql.NullFloat64{Float64: 1.5, Valid: true}, f)
		assert.Equal(t, sql.NullBool{Bool: true, Valid: true}, b)
		assert.Equal(t, sql.NullTime{Time: when, Valid: true}, ts)
	})

	t.Run("Scanner", func(t *testing.T) {
		var inner sql.NullString
		n := sql.NullScanner{S: &inner}

		require.NoError(t, n.Scan(nil))
		assert.False(t, n.Valid)

		require.NoError(t, n.Scan("v"))
		assert.True(t, n.Valid)
		assert.Equal(t, "v", inner.String)
	})
}

func TestStatsDriver(t *testing.T) {
	ctx := context.Background()

	t.Run("Counters", func(t *testing.T) {
		drv, mock := mockDriver(t)
		stats := sql.NewStatsDriver(drv)

		mock.ExpectExec("INSERT INTO t (v) VALUES (?)").WithArgs("x").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT v FROM t").
			WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("x"))
		mock.ExpectExec("BROKEN").WillReturnError(errors.New("syntax error"))

		require.NoError(t, stats.Exec(ctx, "INSERT INTO t (v) VALUES (?)", []any{"x"}, nil))
		var rows sql.Rows
		require.NoError(t, stats.Query(ctx, "SELECT v FROM t", []any{}, &rows))
		rows.Close()
		require.Error(t, stats.Exec(ctx, "BROKEN", []any{}, nil))

		snap := stats.Stats().Snapshot()
		assert.EqualValues(t, 2, snap.TotalExecs)
		assert.EqualValues(t, 1, snap.TotalQueries)
		assert.EqualValues(t, 1, snap.Errors)
		assert.Greater(t, snap.TotalDuration, time.Duration(0))
		assert.Greater(t, snap.AvgDuration(), time.Duration(0))
		assert.NotEmpty(t, snap.String())
	})

	t.Run("SlowDetection", func(t *testing.T) {
		drv, mock := mockDriver(t)
		stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(time.Nanosecond))

		mock.ExpectExec("INSERT INTO t (v) VALUES (?)").WithArgs("x").
			WillReturnResult(sqlmock.NewResult(1, 1))
		require.NoError(t, stats.Exec(ctx, "INSERT INTO t (v) VALUES (?)", []any{"x"}, nil))

		assert.EqualValues(t, 1, stats.Stats().Snapshot().SlowQueries)
	})

	t.Run("Reset", func(t *testing.T) {
		drv, mock := mockDriver(t)
		stats := sql.NewStatsDriver(drv)

		mock.ExpectExec("X").WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, stats.Exec(ctx, "X", []any{}, nil))
		stats.Stats().Reset()
		assert.EqualValues(t, 0, stats.Stats().Snapshot().TotalExecs)
	})
}
