package cvedb

import (
	"context"
	"encoding/json"
	"time"

	"LingLongTa/internal/model"
	"LingLongTa/internal/monitoring"
	"LingLongTa/internal/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// BulkUpdater 导入任务：拉取一批上游记录，规范化后整批写入
type BulkUpdater struct {
	db      *CVEDatabase
	logger  *utils.Logger
	workers int
	now     func() time.Time
}

func NewBulkUpdater(db *CVEDatabase, workers int) *BulkUpdater {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &BulkUpdater{
		db:      db,
		logger:  utils.NewLogger("bulk-updater"),
		workers: workers,
		now:     time.Now,
	}
}

// Run 执行一次导入。任何一条记录无效时整批放弃，不写入任何数据。
// 返回的 IngestRun 无论成功失败都已写入导入历史。
func (bu *BulkUpdater) Run(ctx context.Context, source FeedSource) (model.IngestRun, error) {
	run := model.IngestRun{
		ID:        uuid.NewString(),
		Source:    source.Name(),
		StartedAt: bu.now().UTC(),
		Status:    model.IngestFailed,
	}
	bu.logger.Info("开始导入CVE数据，数据源: %s", run.Source)

	stored, err := bu.ingest(ctx, source, &run)
	run.FinishedAt = bu.now().UTC()
	run.RecordsStored = stored
	if err != nil {
		run.Error = err.Error()
		bu.logger.Error("导入失败: %v", err)
	} else {
		run.Status = model.IngestSucceeded
		bu.logger.Info("导入完成: 获取 %d 条，写入 %d 条", run.RecordsFetched, run.RecordsStored)
	}

	monitoring.IngestRunsTotal.WithLabelValues(string(run.Status)).Inc()
	monitoring.IngestRecordsStored.Add(float64(stored))
	monitoring.IngestDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	// 导入历史写入失败不影响本次结果
	if recErr := bu.db.RecordIngestRun(context.WithoutCancel(ctx), run); recErr != nil {
		bu.logger.Warn("写入导入历史失败: %v", recErr)
	}

	return run, err
}

func (bu *BulkUpdater) ingest(ctx context.Context, source FeedSource, run *model.IngestRun) (int, error) {
	raws, err := source.Fetch(ctx)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			return 0, err
		}
		return 0, &UpstreamError{Source: source.Name(), Err: err}
	}
	run.RecordsFetched = len(raws)

	records, err := bu.normalizeAll(ctx, raws)
	if err != nil {
		return 0, &UpstreamError{Source: source.Name(), Err: err}
	}

	return bu.db.UpsertBatch(ctx, records)
}

// normalizeAll 并发规范化，结果保持上游顺序
func (bu *BulkUpdater) normalizeAll(ctx context.Context, raws []json.RawMessage) ([]model.VulnerabilityRecord, error) {
	records := make([]model.VulnerabilityRecord, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bu.workers)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := Normalize(raw)
			if err != nil {
				return &EntryError{Index: i, Reason: "结构不合法", Err: err}
			}
			records[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bu.logger.Debug("规范化完成: %d 条记录", len(records))
	return records, nil
}
