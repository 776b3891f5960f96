package storage

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

func openTestDB(t *testing.T) *DB {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetJSON(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutJSON(AnalysesBucket, "tx-1", record{ID: "tx-1", Score: 42}))

	var got record
	found, err := db.GetJSON(AnalysesBucket, "tx-1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, got.Score)

	found, err = db.GetJSON(AnalysesBucket, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	// 覆盖写入
	require.NoError(t, db.PutJSON(AnalysesBucket, "tx-1", record{ID: "tx-1", Score: 7}))
	_, err = db.GetJSON(AnalysesBucket, "tx-1", &got)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Score)
}

func TestUnknownBucket(t *testing.T) {
	db := openTestDB(t)

	assert.Error(t, db.PutJSON("nope", "k", record{}))
	_, err := db.GetJSON("nope", "k", &record{})
	assert.Error(t, err)
}

func TestForEachAndStats(t *testing.T) {
	db := openTestDB(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.PutJSON(DisputesBucket, id, record{ID: id}))
	}
	require.NoError(t, db.PutJSON(FeedbackBucket, "f1", record{ID: "f1"}))

	var keys []string
	require.NoError(t, db.ForEach(DisputesBucket, func(key string, data []byte) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats[DisputesBucket])
	assert.Equal(t, 1, stats[FeedbackBucket])
	assert.Equal(t, 0, stats[AnalysesBucket])
}

func TestReopenPersists(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "persist.db")

	db, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, db.PutJSON(DisputesBucket, "d1", record{ID: "d1", Score: 1}))
	require.NoError(t, db.Close())

	db, err = Open(path, logger)
	require.NoError(t, err)
	defer db.Close()

	var got record
	found, err := db.GetJSON(DisputesBucket, "d1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "d1", got.ID)
}
