package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/core/storage"
	"github.com/aevon-lab/aevon-rollups/internal/model"
	"github.com/aevon-lab/aevon-rollups/internal/selection"
	"github.com/stretchr/testify/require"
)

var _ storage.AuditStore = (*Adapter)(nil)

func TestAdapter_RecordVersion(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	rec := catalog.VersionRecord{
		ID:                  "v-1",
		Fingerprint:         "abc",
		CubeCount:           3,
		PreAggregationCount: 9,
		WarningCount:        1,
		PublishedAt:         now,
	}

	t.Run("success", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		mock.ExpectExec(regexp.QuoteMeta(queryRecordVersion)).
			WithArgs("v-1", "abc", 3, 9, 1, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.RecordVersion(ctx, rec))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec error is wrapped", func(t *testing.T) {
		adapter, mock := newMockAdapter(t)
		dbErr := errors.New("connection reset")
		mock.ExpectExec(regexp.QuoteMeta(queryRecordVersion)).
			WithArgs("v-1", "abc", 3, 9, 1, now).
			WillReturnError(dbErr)

		err := adapter.RecordVersion(ctx, rec)
		require.ErrorIs(t, err, dbErr)
		require.ErrorContains(t, err, "failed to record catalog version")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_RecordSelection(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  selection.Record
		args []driver.Value
	}{
		{
			name: "match",
			rec: selection.Record{
				ID:                   "sel-1",
				CatalogVersion:       "v-1",
				Anchor:               "orders",
				Measures:             []string{"orders.count"},
				Dimensions:           []string{"orders.status"},
				Matched:              true,
				PreAggregation:       "orders.daily",
				EffectiveGranularity: "day",
				CreatedAt:            now,
			},
			args: []driver.Value{"sel-1", "v-1", "orders", sqlmock.AnyArg(), sqlmock.AnyArg(), true, "orders.daily", "day", nil, now},
		},
		{
			name: "no match stores nulls",
			rec: selection.Record{
				ID:             "sel-2",
				CatalogVersion: "v-1",
				Anchor:         "orders",
				Reason:         "no_candidates",
				CreatedAt:      now,
			},
			args: []driver.Value{"sel-2", "v-1", "orders", sqlmock.AnyArg(), sqlmock.AnyArg(), false, nil, nil, "no_candidates", now},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock := newMockAdapter(t)
			mock.ExpectExec(regexp.QuoteMeta(queryRecordSelection)).
				WithArgs(tc.args...).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, adapter.RecordSelection(ctx, tc.rec))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_IsFresh(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	ref := model.Ref{Cube: "orders", Name: "daily"}

	tests := []struct {
		name      string
		rows      *sqlmock.Rows
		err       error
		wantFresh bool
		wantErr   bool
	}{
		{
			name:      "refreshed within window",
			rows:      sqlmock.NewRows([]string{"refreshed_at", "stale_after_seconds"}).AddRow(now.Add(-time.Minute), int64(3600)),
			wantFresh: true,
		},
		{
			name: "refreshed too long ago",
			rows: sqlmock.NewRows([]string{"refreshed_at", "stale_after_seconds"}).AddRow(now.Add(-2*time.Hour), int64(3600)),
		},
		{
			name: "never refreshed",
			rows: sqlmock.NewRows([]string{"refreshed_at", "stale_after_seconds"}),
		},
		{
			name:    "query error",
			err:     errors.New("db failure"),
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock := newMockAdapter(t)
			adapter.nowFn = func() time.Time { return now }

			exp := mock.ExpectQuery(regexp.QuoteMeta(queryLastRefresh)).WithArgs("orders", "daily")
			if tc.err != nil {
				exp.WillReturnError(tc.err)
			} else {
				exp.WillReturnRows(tc.rows)
			}

			fresh, err := adapter.IsFresh(ctx, ref)
			if tc.wantErr {
				require.Error(t, err)
				require.ErrorContains(t, err, "orders.daily")
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.wantFresh, fresh)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNewAdapter_SchemaMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(querySchemaExists)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = NewAdapter(db)
	require.ErrorContains(t, err, "did you run migrations")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAdapter_PreparesStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(querySchemaExists)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectPrepare(regexp.QuoteMeta(queryRecordVersion))
	mock.ExpectPrepare(regexp.QuoteMeta(queryRecordSelection))
	mock.ExpectPrepare(regexp.QuoteMeta(queryLastRefresh))

	adapter, err := NewAdapter(db)
	require.NoError(t, err)
	require.Same(t, db, adapter.DB())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_CloseReturnsDBCloseError(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	dbCloseErr := errors.New("db close failed")
	mock.ExpectClose().WillReturnError(dbCloseErr)

	err := adapter.Close()
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to close database")
	require.ErrorIs(t, err, dbCloseErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:                  db,
		stmtRecordVersion:   mustPrepareStmt(t, db, mock, queryRecordVersion),
		stmtRecordSelection: mustPrepareStmt(t, db, mock, queryRecordSelection),
		stmtLastRefresh:     mustPrepareStmt(t, db, mock, queryLastRefresh),
		nowFn:               time.Now,
	}
	return adapter, mock
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}
