package cvedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"LingLongTa/internal/model"
	"LingLongTa/internal/monitoring"

	"github.com/pkg/errors"
)

const (
	// MaxModifiedDays 按修改时间过滤时允许的最大天数
	MaxModifiedDays = 36500

	// CutoffFormat 修改时间截止点格式，UTC，不含秒的小数部分
	CutoffFormat = "2006-01-02T15:04:05"
)

const recordColumns = `id, published, last_modified, vuln_status, descriptions, metrics, configurations, refs`

var yearPattern = regexp.MustCompile(`^[0-9]{4}$`)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (model.VulnerabilityRecord, error) {
	var (
		record                              model.VulnerabilityRecord
		descriptions, metrics, configs, refs string
	)
	if err := row.Scan(&record.ID, &record.Published, &record.LastModified, &record.VulnStatus,
		&descriptions, &metrics, &configs, &refs); err != nil {
		return model.VulnerabilityRecord{}, err
	}

	if err := json.Unmarshal([]byte(descriptions), &record.Descriptions); err != nil {
		return model.VulnerabilityRecord{}, errors.Wrapf(err, "%s 的 descriptions 数据损坏", record.ID)
	}
	if err := json.Unmarshal([]byte(configs), &record.Configurations); err != nil {
		return model.VulnerabilityRecord{}, errors.Wrapf(err, "%s 的 configurations 数据损坏", record.ID)
	}
	if err := json.Unmarshal([]byte(refs), &record.References); err != nil {
		return model.VulnerabilityRecord{}, errors.Wrapf(err, "%s 的 references 数据损坏", record.ID)
	}
	if !json.Valid([]byte(metrics)) {
		return model.VulnerabilityRecord{}, errors.Errorf("%s 的 metrics 数据损坏", record.ID)
	}
	record.Metrics = model.ParseMetrics(json.RawMessage(metrics))

	record.Descriptions = nonNil(record.Descriptions)
	record.Configurations = nonNilRaw(record.Configurations)
	record.References = nonNil(record.References)
	return record, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (cd *CVEDatabase) queryRecords(ctx context.Context, q queryer, op, query string, args ...interface{}) ([]model.VulnerabilityRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	records := []model.VulnerabilityRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return records, nil
}

func observe(op string, start time.Time) {
	monitoring.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// MaxPageSize 返回分页允许的最大 limit
func (cd *CVEDatabase) MaxPageSize() int {
	return cd.maxPageSize
}

// ListPage 按ID升序分页列出CVE。页码超出范围时返回空列表。
func (cd *CVEDatabase) ListPage(ctx context.Context, page, limit int) (model.CVEPage, error) {
	defer observe("list_page", time.Now())

	if page < 1 {
		return model.CVEPage{}, invalid("page", "必须大于等于 1")
	}
	if limit < 1 || limit > cd.maxPageSize {
		return model.CVEPage{}, invalid("limit", fmt.Sprintf("必须在 1 到 %d 之间", cd.maxPageSize))
	}

	// 计数和取数在同一个读事务里，保证并发导入时结果一致
	tx, err := cd.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return model.CVEPage{}, storageErr("list begin", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM cves").Scan(&total); err != nil {
		return model.CVEPage{}, storageErr("list count", err)
	}

	result := model.CVEPage{
		CVEs:         []model.CVESummary{},
		TotalRecords: total,
		CurrentPage:  page,
		TotalPages:   (total + limit - 1) / limit,
	}
	if page > result.TotalPages {
		return result, nil
	}

	records, err := cd.queryRecords(ctx, tx, "list",
		"SELECT "+recordColumns+" FROM cves ORDER BY id ASC LIMIT ? OFFSET ?",
		limit, (page-1)*limit)
	if err != nil {
		return model.CVEPage{}, err
	}
	for _, record := range records {
		result.CVEs = append(result.CVEs, record.Summary())
	}

	return result, nil
}

// GetByID 按ID精确查询，不存在时返回 ErrNotFound
func (cd *CVEDatabase) GetByID(ctx context.Context, id string) (model.VulnerabilityRecord, error) {
	defer observe("get_by_id", time.Now())

	if id == "" {
		return model.VulnerabilityRecord{}, invalid("id", "不能为空")
	}

	cd.cacheMu.Lock()
	gen := cd.cacheGen
	cached, ok := cd.cache.Get(id)
	cd.cacheMu.Unlock()
	if ok {
		return cached.Clone(), nil
	}

	row := cd.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM cves WHERE id = ?", id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VulnerabilityRecord{}, ErrNotFound
	}
	if err != nil {
		return model.VulnerabilityRecord{}, storageErr("get "+id, err)
	}

	// 查询期间有写入提交时不缓存，避免缓存旧数据
	cd.cacheMu.Lock()
	if gen == cd.cacheGen {
		cd.cache.Add(id, record.Clone())
	}
	cd.cacheMu.Unlock()

	return record, nil
}

// FilterByYear 返回 published 以 "year-" 开头的记录
func (cd *CVEDatabase) FilterByYear(ctx context.Context, year string) ([]model.VulnerabilityRecord, error) {
	defer observe("filter_by_year", time.Now())

	if !yearPattern.MatchString(year) {
		return nil, invalid("year", "必须是4位数字")
	}

	// '.' 紧跟在 '-' 之后，[year-, year.) 正好是前缀范围，可以走索引
	return cd.queryRecords(ctx, cd.db, "filter by year",
		"SELECT "+recordColumns+" FROM cves WHERE published >= ? AND published < ? ORDER BY id ASC",
		year+"-", year+".")
}

// FilterByMinScore 返回 CVSS v2 基础分数不低于 score 的记录，没有分数的记录不返回
func (cd *CVEDatabase) FilterByMinScore(ctx context.Context, score float64) ([]model.VulnerabilityRecord, error) {
	defer observe("filter_by_min_score", time.Now())

	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, invalid("score", "必须是有限数值")
	}

	return cd.queryRecords(ctx, cd.db, "filter by score",
		"SELECT "+recordColumns+" FROM cves WHERE base_score IS NOT NULL AND base_score >= ? ORDER BY id ASC",
		score)
}

// ModifiedCutoff 计算 days 天前的截止时间字符串
func (cd *CVEDatabase) ModifiedCutoff(days int) string {
	return cd.now().UTC().AddDate(0, 0, -days).Format(CutoffFormat)
}

// FilterByModifiedSince 返回 lastModified 不早于 days 天前的记录，同时返回本次使用的截止时间
func (cd *CVEDatabase) FilterByModifiedSince(ctx context.Context, days int) ([]model.VulnerabilityRecord, string, error) {
	defer observe("filter_by_modified_since", time.Now())

	if days < 0 || days > MaxModifiedDays {
		return nil, "", invalid("days", fmt.Sprintf("必须在 0 到 %d 之间", MaxModifiedDays))
	}

	cutoff := cd.ModifiedCutoff(days)
	records, err := cd.queryRecords(ctx, cd.db, "filter by modified",
		"SELECT "+recordColumns+" FROM cves WHERE last_modified >= ? ORDER BY id ASC",
		cutoff)
	if err != nil {
		return nil, "", err
	}
	return records, cutoff, nil
}
