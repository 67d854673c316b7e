package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/pulsefeed/internal/activity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return New(db), mock
}

func TestInsertRawEvent_ExecutesInsert(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO raw_events").
		WithArgs("sf1", "p1", "u1", "element.created", "e1", "element", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertRawEvent(ctx, activity.RawEvent{
		SessionFingerprint: "sf1",
		ProjectID:          "p1",
		ActorID:            "u1",
		Kind:               "element.created",
		TargetID:           "e1",
		TargetKind:         "element",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSession_ScansRows(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "session_fingerprint", "project_id", "actor_id", "kind", "target_id", "target_kind", "detail", "created_at"}).
		AddRow(int64(1), "sf1", "p1", "u1", "element.created", "e1", "element", []byte(`{"element_name":"Hero"}`), now)

	mock.ExpectQuery("SELECT .* FROM raw_events").
		WithArgs("sf1").
		WillReturnRows(rows)

	events, err := s.ClaimSession(ctx, "sf1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "element.created", events[0].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteActivity_ReturnsGeneratedID(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO activities").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	a := activity.Activity{
		ProjectID: "p1",
		ActorID:   "u1",
		Title:     "Ivan created Hero",
		Summary:   activity.Summary{Groups: []activity.Group{{Kind: "elements_created"}}},
		StartedAt: time.Now().UTC(),
		EndedAt:   time.Now().UTC(),
	}
	id, err := s.WriteActivity(ctx, a)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDailyCounter_UpsertsOnConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO daily_activity_summary").
		WithArgs(sqlmock.AnyArg(), "p1", "u1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertDailyCounter(ctx, time.Now().UTC(), "p1", "u1", 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSession_DeletesByFingerprint(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM raw_events").
		WithArgs("sf1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.DeleteSession(ctx, "sf1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM raw_events").WithArgs("sf1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.DeleteSession(txCtx, "sf1")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedByElement_CountsThenPages(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM activities").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	summary, _ := json.Marshal(activity.Summary{})
	rows := sqlmock.NewRows([]string{"id", "project_id", "actor_id", "title", "summary", "affected_folders", "affected_elements", "started_at", "ended_at"}).
		AddRow(int64(1), "p1", "u1", "t", summary, "{e1}", "{e1}", time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM activities").
		WithArgs("e1", 20, 0).
		WillReturnRows(rows)

	items, total, err := s.FeedByElement(ctx, "e1", 1, 20)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
