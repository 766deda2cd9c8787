package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tywrap/hostbridge/internal/audit"
)

func TestStore_RecordCallAndClose(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	s, err := New(dsn)
	require.NoError(t, err)
	defer s.Close()

	err = s.RecordCall(context.Background(), audit.Entry{
		Time:     time.Now(),
		WorkerID: 1,
		Method:   "call",
		Target:   "numpy.mean",
		Duration: 5 * time.Millisecond,
		Outcome:  "ok",
	})
	require.NoError(t, err)

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM call_audit")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_RecordsErrorOutcome(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	s, err := New(dsn)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordCall(context.Background(), audit.Entry{
		Time:     time.Now(),
		WorkerID: 2,
		Method:   "call_method",
		Target:   "handle-abc",
		Duration: time.Millisecond,
		Outcome:  "error",
		ErrKind:  "ExecutionError",
	}))

	var outcome, errKind string
	row := s.db.QueryRow("SELECT outcome, err_kind FROM call_audit WHERE worker_id = 2")
	require.NoError(t, row.Scan(&outcome, &errKind))
	assert.Equal(t, "error", outcome)
	assert.Equal(t, "ExecutionError", errKind)
}

func TestDbPathFromDSN(t *testing.T) {
	assert.Equal(t, "", dbPathFromDSN(":memory:"))
	assert.Equal(t, "/tmp/audit.db", dbPathFromDSN("/tmp/audit.db"))
	assert.Equal(t, "/tmp/audit.db", dbPathFromDSN("file:/tmp/audit.db"))
}
