package querylog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grantmesh/grantmesh/internal/protocol"
)

func sampleRecord(query string) Record {
	return Record{
		Query:               query,
		Filters:             protocol.Filters{Silos: []string{"uk"}},
		AgentsUsed:          []string{"uk_innovateuk", "uk_nihr"},
		ResultCount:         4,
		LatencyMS:           123.4,
		Timestamp:           time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
		RoutingStrategy:     "silo",
		CacheHitRate:        0.25,
		OrchestratorVersion: "1.0",
	}
}

func TestFileLoggerWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "queries.ndjson")
	fl, err := NewFileLogger(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	fl.Log(sampleRecord("ai funding"))
	fl.Log(sampleRecord("clinical trials"))
	require.NoError(t, fl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2, "one NDJSON line per query")
	assert.Equal(t, "ai funding", lines[0].Query)
	assert.Equal(t, []string{"uk_innovateuk", "uk_nihr"}, lines[0].AgentsUsed)
	assert.Equal(t, "silo", lines[0].RoutingStrategy)
	assert.Equal(t, "clinical trials", lines[1].Query)
}

func TestFileLoggerCloseDrains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.ndjson")
	fl, err := NewFileLogger(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		fl.Log(sampleRecord("drain me"))
	}
	require.NoError(t, fl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sc := bufio.NewScanner(bytes.NewReader(data))
	count := 0
	for sc.Scan() {
		count++
	}
	assert.Equal(t, 100, count, "Close flushes everything enqueued before it")
}

func TestPostgresSinkInsertsRecord(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")

	mock.ExpectExec("INSERT INTO query_log").
		WithArgs(
			"ai funding", sqlmock.AnyArg(), sqlmock.AnyArg(), 4, 123.4,
			sqlmock.AnyArg(), "silo", 0.25, "1.0", false, 0, false,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	s := newPostgresSink(db, zaptest.NewLogger(t))
	s.Log(sampleRecord("ai funding"))
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkSurvivesInsertFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")

	mock.ExpectExec("INSERT INTO query_log").
		WillReturnError(assert.AnError)
	mock.ExpectExec("INSERT INTO query_log").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectClose()

	s := newPostgresSink(db, zaptest.NewLogger(t))
	s.Log(sampleRecord("first fails"))
	s.Log(sampleRecord("second lands"))
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
