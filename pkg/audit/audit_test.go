package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLogger struct {
	mu      sync.Mutex
	records []*Record
	err     error
	closed  bool
}

func (m *memLogger) Record(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(ActionTransition, StatusSuccess, "u-1", "request", "r-1", "submit")

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, ActionTransition, rec.Action)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, "u-1", rec.ActorID)
	assert.Equal(t, "request", rec.EntityType)
	assert.Equal(t, "r-1", rec.EntityID)
}

func TestMultiLogger_Sync(t *testing.T) {
	a := &memLogger{}
	b := &memLogger{}
	multi := NewMultiLogger(a, b)

	rec := NewRecord(ActionEntityCreate, StatusSuccess, "u-1", "request", "r-1", "")
	require.NoError(t, multi.Record(context.Background(), rec))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestMultiLogger_SyncReturnsFirstError(t *testing.T) {
	failing := &memLogger{err: errors.New("sink down")}
	healthy := &memLogger{}
	multi := NewMultiLogger(failing, healthy)

	err := multi.Record(context.Background(), NewRecord(ActionLogin, StatusSuccess, "u-1", "", "", ""))
	assert.EqualError(t, err, "sink down")
	// The remaining sinks still receive the record.
	assert.Equal(t, 1, healthy.count())
}

func TestMultiLogger_Async(t *testing.T) {
	a := &memLogger{}
	b := &memLogger{err: errors.New("sink down")}
	multi := NewMultiLogger(a, b)
	multi.SetAsync(true)

	require.NoError(t, multi.Record(context.Background(), NewRecord(ActionTransition, StatusSuccess, "u-1", "request", "r-1", "")))
	multi.Wait()

	assert.Equal(t, 1, a.count())
}

func TestMultiLogger_AsyncSurvivesCancelledContext(t *testing.T) {
	a := &memLogger{}
	multi := NewMultiLogger(a)
	multi.SetAsync(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, multi.Record(ctx, NewRecord(ActionTransition, StatusSuccess, "u-1", "request", "r-1", "")))
	multi.Wait()

	assert.Equal(t, 1, a.count())
}

func TestMultiLogger_Close(t *testing.T) {
	a := &memLogger{}
	multi := NewMultiLogger(a)
	require.NoError(t, multi.Close())
	assert.True(t, a.closed)
}

func TestDBLogger_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	rec := NewRecord(ActionAccessDenied, StatusDenied, "u-2", "request", "r-1", "verifier role required")
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(rec.ID, rec.Timestamp, rec.Action, rec.Status,
			rec.ActorID, rec.EntityType, rec.EntityID, rec.Details,
			rec.RequestID, rec.IPAddress, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, logger.Record(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "action", "status", "actor_id", "entity_type", "entity_id",
		"details", "request_id", "ip_address", "metadata",
	}).AddRow("a-1", now, "workflow.transition", "success", "u-1", "request", "r-1",
		"submit", nil, nil, []byte(`{"transition":"submit"}`))

	mock.ExpectQuery(`SELECT(.|\s)+FROM audit_logs WHERE 1=1 AND actor_id = \$1 AND entity_id = \$2 ORDER BY timestamp DESC LIMIT \$3`).
		WithArgs("u-1", "r-1", 50).
		WillReturnRows(rows)

	records, err := logger.Search(context.Background(), Filter{
		ActorID:  "u-1",
		EntityID: "r-1",
		Limit:    50,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ActionTransition, records[0].Action)
	assert.Equal(t, "submit", records[0].Metadata["transition"])
}

func TestDBLogger_Purge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	mock.ExpectExec(`DELETE FROM audit_logs WHERE timestamp < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := logger.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
}

type stubPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (s *stubPurger) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, olderThan)
	return s.deleted, s.err
}

func TestRetentionWorker_RunOnce(t *testing.T) {
	purger := &stubPurger{deleted: 7}
	var gotDeleted int64
	var gotErr error
	worker := NewRetentionWorker(purger, RetentionPolicy{RetentionDays: 30, Schedule: "0 3 * * *"}, func(deleted int64, err error) {
		gotDeleted = deleted
		gotErr = err
	})

	worker.RunOnce(context.Background())

	require.Len(t, purger.cutoffs, 1)
	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	assert.WithinDuration(t, wantCutoff, purger.cutoffs[0], 5*time.Second)
	assert.Equal(t, int64(7), gotDeleted)
	assert.NoError(t, gotErr)
}

func TestRetentionWorker_RunOnce_ReportsErrors(t *testing.T) {
	purger := &stubPurger{err: errors.New("db down")}
	var gotErr error
	worker := NewRetentionWorker(purger, DefaultRetentionPolicy(), func(_ int64, err error) {
		gotErr = err
	})

	worker.RunOnce(context.Background())
	assert.EqualError(t, gotErr, "db down")
}

func TestDefaultRetentionPolicy(t *testing.T) {
	p := DefaultRetentionPolicy()
	assert.Equal(t, 90, p.RetentionDays)
	assert.Equal(t, "0 3 * * *", p.Schedule)
}
