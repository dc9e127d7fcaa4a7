package cvedb

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"LingLongTa/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, opts ...Option) *CVEDatabase {
	t.Helper()
	db, err := NewCVEDatabase(filepath.Join(t.TempDir(), "cve.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// testRecord 构造一条记录，score 为 nil 时没有评分数据
func testRecord(id, published, lastModified string, score *float64) model.VulnerabilityRecord {
	metrics := model.ParseMetrics(nil)
	if score != nil {
		metrics = model.ParseMetrics(json.RawMessage(fmt.Sprintf(`[{"source":"nvd@nist.gov","type":"Primary","cvssData":{"version":"2.0","baseScore":%v}}]`, *score)))
	}
	return model.VulnerabilityRecord{
		ID:             id,
		Published:      published,
		LastModified:   lastModified,
		VulnStatus:     "Analyzed",
		Descriptions:   []string{id + " description"},
		Metrics:        metrics,
		Configurations: []json.RawMessage{json.RawMessage(`{"nodes":[]}`)},
		References:     []string{"https://example.com/" + id},
	}
}

func score(v float64) *float64 {
	return &v
}

func TestNewCVEDatabase(t *testing.T) {
	t.Run("creates the parent directory and an empty schema", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "cve.db")
		db, err := NewCVEDatabase(path)
		require.NoError(t, err)
		defer db.Close()

		hasData, err := db.HasData(context.Background())
		require.NoError(t, err)
		assert.False(t, hasData)
		assert.Equal(t, DefaultMaxPageSize, db.MaxPageSize())
	})

	t.Run("reopening an existing database keeps data and migrations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cve.db")
		db, err := NewCVEDatabase(path)
		require.NoError(t, err)
		require.NoError(t, db.UpsertCVE(context.Background(), testRecord("CVE-2021-0001", "2021-01-01T00:00:00.000", "2021-01-01T00:00:00.000", nil)))
		require.NoError(t, db.Close())

		db, err = NewCVEDatabase(path, WithMaxPageSize(25))
		require.NoError(t, err)
		defer db.Close()

		count, err := db.GetCveCount(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, 25, db.MaxPageSize())
	})
}

func TestUpsertBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips every field", func(t *testing.T) {
		db := newTestDB(t)
		in := testRecord("CVE-2023-1234", "2023-02-03T04:05:06.789", "2023-03-04T05:06:07.890", score(6.5))
		in.Descriptions = []string{"first", "second", "third"}
		in.References = []string{"https://a.example", "https://b.example"}

		n, err := db.UpsertBatch(ctx, []model.VulnerabilityRecord{in})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := db.GetByID(ctx, "CVE-2023-1234")
		require.NoError(t, err)
		assert.Equal(t, in.ID, got.ID)
		assert.Equal(t, in.Published, got.Published)
		assert.Equal(t, in.LastModified, got.LastModified)
		assert.Equal(t, in.VulnStatus, got.VulnStatus)
		assert.Equal(t, in.Descriptions, got.Descriptions)
		assert.Equal(t, in.References, got.References)
		require.Len(t, got.Configurations, 1)
		assert.JSONEq(t, `{"nodes":[]}`, string(got.Configurations[0]))
		assert.Equal(t, model.MetricsCVSSv2, got.Metrics.Kind)
		s, ok := got.Metrics.BaseScore()
		assert.True(t, ok)
		assert.Equal(t, 6.5, s)
	})

	t.Run("duplicate id replaces the stored record", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.UpsertCVE(ctx, testRecord("CVE-2020-0001", "2020-01-01T00:00:00.000", "2020-01-01T00:00:00.000", score(2.0))))
		require.NoError(t, db.UpsertCVE(ctx, testRecord("CVE-2020-0001", "2020-01-01T00:00:00.000", "2020-06-01T00:00:00.000", score(8.0))))

		count, err := db.GetCveCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		got, err := db.GetByID(ctx, "CVE-2020-0001")
		require.NoError(t, err)
		assert.Equal(t, "2020-06-01T00:00:00.000", got.LastModified)

		high, err := db.FilterByMinScore(ctx, 7.0)
		require.NoError(t, err)
		require.Len(t, high, 1)
	})

	t.Run("empty id rolls back the whole batch", func(t *testing.T) {
		db := newTestDB(t)
		batch := []model.VulnerabilityRecord{
			testRecord("CVE-2020-0001", "2020-01-01T00:00:00.000", "2020-01-01T00:00:00.000", nil),
			testRecord("", "2020-01-01T00:00:00.000", "2020-01-01T00:00:00.000", nil),
		}

		_, err := db.UpsertBatch(ctx, batch)
		require.Error(t, err)
		assert.True(t, IsValidation(err))

		count, err := db.GetCveCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		db := newTestDB(t)
		n, err := db.UpsertBatch(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("nil collections are stored as empty arrays", func(t *testing.T) {
		db := newTestDB(t)
		require.NoError(t, db.UpsertCVE(ctx, model.VulnerabilityRecord{ID: "CVE-2019-0001"}))

		got, err := db.GetByID(ctx, "CVE-2019-0001")
		require.NoError(t, err)
		assert.NotNil(t, got.Descriptions)
		assert.NotNil(t, got.Configurations)
		assert.NotNil(t, got.References)
		assert.Equal(t, model.MetricsNone, got.Metrics.Kind)
	})
}

func TestUpdateHistory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	runs := []model.IngestRun{
		{ID: "run-1", Source: "sample", StartedAt: base, FinishedAt: base.Add(time.Second), Status: model.IngestSucceeded, RecordsFetched: 3, RecordsStored: 3},
		{ID: "run-2", Source: "file:feed.json", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Second), Status: model.IngestFailed, RecordsFetched: 10, Error: "第 4 条记录无效"},
	}
	for _, run := range runs {
		require.NoError(t, db.RecordIngestRun(ctx, run))
	}

	history, err := db.GetUpdateHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// 最新的在前
	assert.Equal(t, "run-2", history[0].ID)
	assert.Equal(t, model.IngestFailed, history[0].Status)
	assert.Equal(t, "第 4 条记录无效", history[0].Error)
	assert.True(t, history[0].StartedAt.Equal(base.Add(time.Hour)))
	assert.Equal(t, "run-1", history[1].ID)
	assert.Equal(t, 3, history[1].RecordsStored)

	limited, err := db.GetUpdateHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = db.GetUpdateHistory(ctx, 0)
	assert.True(t, IsValidation(err))
	_, err = db.GetUpdateHistory(ctx, DefaultMaxPageSize+1)
	assert.True(t, IsValidation(err))
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
