package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voiceonboard/api/database"
	"voiceonboard/api/models"
)

// fakeConn records the statements EventStore sends. Methods it does not
// override panic through the nil embedded interface.
type fakeConn struct {
	driver.Conn

	query    string
	args     []any
	count    uint64
	rowErr   error
	exec     []string
	batch     *fakeBatch
	batchErr  error
	appendErr error
}

func (c *fakeConn) QueryRow(_ context.Context, query string, args ...any) driver.Row {
	c.query = query
	c.args = args
	return &fakeRow{count: c.count, err: c.rowErr}
}

func (c *fakeConn) Exec(_ context.Context, query string, _ ...any) error {
	c.exec = append(c.exec, query)
	return nil
}

func (c *fakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	if c.batchErr != nil {
		return nil, c.batchErr
	}
	c.batch = &fakeBatch{query: query, appendErr: c.appendErr}
	return c.batch, nil
}

type fakeRow struct {
	driver.Row
	count uint64
	err   error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*uint64) = r.count
	return nil
}

type fakeBatch struct {
	driver.Batch

	query     string
	rows      [][]any
	appendErr error
	sent      bool
	aborted   bool
}

func (b *fakeBatch) Append(v ...any) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.sent = true
	return nil
}

func (b *fakeBatch) Abort() error {
	b.aborted = true
	return nil
}

func newFakeEventStore(conn *fakeConn) *EventStore {
	return NewEventStore(&database.ClickHouseClient{Conn: conn}, zap.NewNop())
}

func TestEventStore_DistinctSessions(t *testing.T) {
	conn := &fakeConn{count: 7}
	s := newFakeEventStore(conn)
	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	n, err := s.DistinctSessions(context.Background(), "q3_stressResponse", since)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	assert.Contains(t, conn.query, "uniqExact(session_id)")
	assert.Contains(t, conn.query, "step = ?")
	assert.Contains(t, conn.query, "timestamp >= ?")
	assert.Equal(t, []any{"q3_stressResponse", since}, conn.args)
}

func TestEventStore_DistinctSessionsError(t *testing.T) {
	conn := &fakeConn{rowErr: errors.New("code: 60, table does not exist")}
	_, err := newFakeEventStore(conn).DistinctSessions(context.Background(), "intro1", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step intro1")
	assert.ErrorIs(t, err, conn.rowErr)
}

func TestEventStore_InsertStepEvents(t *testing.T) {
	conn := &fakeConn{}
	s := newFakeEventStore(conn)
	ts := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	events := []models.StepEvent{
		{EventID: "e1", SessionID: "s1", Step: "intro1", Timestamp: ts, IPAddress: "10.0.0.1", UserAgent: "app"},
		{EventID: "e2", SessionID: "s1", Step: "voiceContext", Timestamp: ts.Add(time.Second)},
	}
	require.NoError(t, s.InsertStepEvents(context.Background(), events))

	require.NotNil(t, conn.batch)
	assert.True(t, strings.Contains(conn.batch.query, "INSERT INTO onboarding_events"))
	assert.True(t, conn.batch.sent)
	require.Len(t, conn.batch.rows, 2)
	assert.Equal(t, []any{"e1", "s1", "intro1", ts, "10.0.0.1", "app"}, conn.batch.rows[0])
}

func TestEventStore_InsertEmptySkipsBatch(t *testing.T) {
	conn := &fakeConn{}
	require.NoError(t, newFakeEventStore(conn).InsertStepEvents(context.Background(), nil))
	assert.Nil(t, conn.batch)
}

func TestEventStore_InsertAbortsOnAppendError(t *testing.T) {
	conn := &fakeConn{appendErr: errors.New("bad column")}
	err := newFakeEventStore(conn).InsertStepEvents(context.Background(), []models.StepEvent{{EventID: "e1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event e1")
	assert.True(t, conn.batch.aborted)
	assert.False(t, conn.batch.sent)
}

func TestEventStore_InsertPrepareError(t *testing.T) {
	conn := &fakeConn{batchErr: errors.New("connection reset")}
	err := newFakeEventStore(conn).InsertStepEvents(context.Background(), []models.StepEvent{{EventID: "e1"}})
	assert.ErrorIs(t, err, conn.batchErr)
}

func TestEventStore_EnsureSchema(t *testing.T) {
	conn := &fakeConn{}
	require.NoError(t, newFakeEventStore(conn).EnsureSchema(context.Background()))
	require.Len(t, conn.exec, 1)
	assert.Contains(t, conn.exec[0], "CREATE TABLE IF NOT EXISTS onboarding_events")
	assert.Contains(t, conn.exec[0], "MergeTree")
}
