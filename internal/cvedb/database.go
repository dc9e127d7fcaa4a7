package cvedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"LingLongTa/internal/model"
	"LingLongTa/internal/monitoring"
	"LingLongTa/internal/utils"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DefaultMaxPageSize = 100
	defaultCacheSize   = 1024
)

type CVEDatabase struct {
	db     *sql.DB
	path   string
	logger *utils.Logger

	maxPageSize int
	now         func() time.Time

	// 按ID查询的缓存，写入提交后整体失效
	cache    *lru.Cache[string, model.VulnerabilityRecord]
	cacheMu  sync.Mutex
	cacheGen uint64
}

// Option 数据库可选配置
type Option func(*CVEDatabase)

// WithMaxPageSize 设置分页查询允许的最大 limit
func WithMaxPageSize(n int) Option {
	return func(cd *CVEDatabase) {
		if n > 0 {
			cd.maxPageSize = n
		}
	}
}

// WithClock 替换时间来源，用于按修改时间过滤
func WithClock(now func() time.Time) Option {
	return func(cd *CVEDatabase) {
		cd.now = now
	}
}

func NewCVEDatabase(dbPath string, opts ...Option) (*CVEDatabase, error) {
	logger := utils.NewLogger("cvedb")

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %v", err)
	}

	// 每个连接都需要 WAL 和 busy_timeout，写在 DSN 里
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %v", err)
	}

	cache, err := lru.New[string, model.VulnerabilityRecord](defaultCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	cvedb := &CVEDatabase{
		db:          db,
		path:        dbPath,
		logger:      logger,
		maxPageSize: DefaultMaxPageSize,
		now:         time.Now,
		cache:       cache,
	}
	for _, opt := range opts {
		opt(cvedb)
	}

	version, err := runMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("数据库结构版本: %d", version)

	if count, err := cvedb.GetCveCount(context.Background()); err == nil {
		monitoring.StoredRecords.Set(float64(count))
	}

	return cvedb, nil
}

const upsertSQL = `
	INSERT INTO cves
	(id, published, last_modified, vuln_status, descriptions, metrics, metrics_kind, base_score, configurations, refs, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		published = excluded.published,
		last_modified = excluded.last_modified,
		vuln_status = excluded.vuln_status,
		descriptions = excluded.descriptions,
		metrics = excluded.metrics,
		metrics_kind = excluded.metrics_kind,
		base_score = excluded.base_score,
		configurations = excluded.configurations,
		refs = excluded.refs,
		updated_at = CURRENT_TIMESTAMP`

// UpsertCVE 插入或替换一条CVE记录
func (cd *CVEDatabase) UpsertCVE(ctx context.Context, cve model.VulnerabilityRecord) error {
	_, err := cd.UpsertBatch(ctx, []model.VulnerabilityRecord{cve})
	return err
}

// UpsertBatch 在同一个事务中插入或替换一批记录，全部成功或全部回滚
func (cd *CVEDatabase) UpsertBatch(ctx context.Context, cves []model.VulnerabilityRecord) (int, error) {
	if len(cves) == 0 {
		return 0, nil
	}

	tx, err := cd.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, storageErr("prepare upsert", err)
	}
	defer stmt.Close()

	for _, cve := range cves {
		if cve.ID == "" {
			return 0, invalid("id", "不能为空")
		}
		args, err := upsertArgs(cve)
		if err != nil {
			return 0, storageErr("encode "+cve.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, storageErr("upsert "+cve.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit", err)
	}
	cd.invalidateCache()

	if count, err := cd.GetCveCount(ctx); err == nil {
		monitoring.StoredRecords.Set(float64(count))
	}
	return len(cves), nil
}

func upsertArgs(cve model.VulnerabilityRecord) ([]interface{}, error) {
	descriptions, err := json.Marshal(nonNil(cve.Descriptions))
	if err != nil {
		return nil, err
	}
	configurations, err := json.Marshal(nonNilRaw(cve.Configurations))
	if err != nil {
		return nil, err
	}
	refs, err := json.Marshal(nonNil(cve.References))
	if err != nil {
		return nil, err
	}
	metrics, err := json.Marshal(cve.Metrics)
	if err != nil {
		return nil, err
	}

	kind := cve.Metrics.Kind
	if kind == "" {
		kind = model.MetricsNone
	}
	var score sql.NullFloat64
	if s, ok := cve.Metrics.BaseScore(); ok {
		score = sql.NullFloat64{Float64: s, Valid: true}
	}

	return []interface{}{
		cve.ID, cve.Published, cve.LastModified, cve.VulnStatus,
		string(descriptions), string(metrics), string(kind), score,
		string(configurations), string(refs),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilRaw(s []json.RawMessage) []json.RawMessage {
	if s == nil {
		return []json.RawMessage{}
	}
	return s
}

func (cd *CVEDatabase) invalidateCache() {
	cd.cacheMu.Lock()
	cd.cacheGen++
	cd.cache.Purge()
	cd.cacheMu.Unlock()
}

// HasData 检查数据库中是否有数据
func (cd *CVEDatabase) HasData(ctx context.Context) (bool, error) {
	count, err := cd.GetCveCount(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetCveCount 获取CVE总数
func (cd *CVEDatabase) GetCveCount(ctx context.Context) (int, error) {
	var count int
	err := cd.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cves").Scan(&count)
	return count, storageErr("count", err)
}

// RecordIngestRun 记录一次导入任务
func (cd *CVEDatabase) RecordIngestRun(ctx context.Context, run model.IngestRun) error {
	_, err := cd.db.ExecContext(ctx, `
		INSERT INTO update_history
		(id, source, started_at, finished_at, status, records_fetched, records_stored, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.StartedAt.UTC(), run.FinishedAt.UTC(), string(run.Status),
		run.RecordsFetched, run.RecordsStored, run.Error,
	)
	return storageErr("record ingest run", err)
}

// GetUpdateHistory 获取最近的导入记录，按开始时间倒序
func (cd *CVEDatabase) GetUpdateHistory(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit < 1 || limit > cd.maxPageSize {
		return nil, invalid("limit", fmt.Sprintf("必须在 1 到 %d 之间", cd.maxPageSize))
	}

	rows, err := cd.db.QueryContext(ctx, `
		SELECT id, source, started_at, finished_at, status, records_fetched, records_stored, error
		FROM update_history
		ORDER BY started_at DESC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("history", err)
	}
	defer rows.Close()

	history := []model.IngestRun{}
	for rows.Next() {
		var run model.IngestRun
		var status string
		if err := rows.Scan(&run.ID, &run.Source, &run.StartedAt, &run.FinishedAt, &status,
			&run.RecordsFetched, &run.RecordsStored, &run.Error); err != nil {
			return nil, storageErr("history scan", err)
		}
		run.Status = model.IngestStatus(status)
		history = append(history, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("history rows", err)
	}

	return history, nil
}

// Ping 检查数据库连接
func (cd *CVEDatabase) Ping(ctx context.Context) error {
	return storageErr("ping", cd.db.PingContext(ctx))
}

func (cd *CVEDatabase) Close() error {
	return cd.db.Close()
}
