package model

import (
	"bytes"
	"encoding/json"
	"time"

	gocvss20 "github.com/pandatix/go-cvss/20"
)

// VulnerabilityRecord 规范化后的CVE记录
type VulnerabilityRecord struct {
	ID             string            `json:"id"`
	Published      string            `json:"published"`
	LastModified   string            `json:"lastModified"`
	VulnStatus     string            `json:"vulnStatus,omitempty"`
	Descriptions   []string          `json:"descriptions"`
	Metrics        Metrics           `json:"metrics"`
	Configurations []json.RawMessage `json:"configurations"`
	References     []string          `json:"references"`
}

// Summary 列表接口只返回的字段
func (r VulnerabilityRecord) Summary() CVESummary {
	return CVESummary{
		ID:           r.ID,
		Published:    r.Published,
		LastModified: r.LastModified,
		VulnStatus:   r.VulnStatus,
		Metrics:      r.Metrics,
	}
}

// Clone 深拷贝记录，切片与原始JSON不与原记录共享
func (r VulnerabilityRecord) Clone() VulnerabilityRecord {
	out := r
	if r.Descriptions != nil {
		out.Descriptions = append([]string{}, r.Descriptions...)
	}
	if r.References != nil {
		out.References = append([]string{}, r.References...)
	}
	if r.Configurations != nil {
		out.Configurations = make([]json.RawMessage, len(r.Configurations))
		for i, c := range r.Configurations {
			out.Configurations[i] = append(json.RawMessage(nil), c...)
		}
	}
	out.Metrics = r.Metrics.clone()
	return out
}

// CVESummary 分页列表中的CVE摘要
type CVESummary struct {
	ID           string  `json:"id"`
	Published    string  `json:"published"`
	LastModified string  `json:"lastModified"`
	VulnStatus   string  `json:"vulnStatus,omitempty"`
	Metrics      Metrics `json:"metrics"`
}

// CVEPage 分页查询结果
type CVEPage struct {
	CVEs         []CVESummary `json:"cves"`
	TotalRecords int          `json:"totalRecords"`
	CurrentPage  int          `json:"currentPage"`
	TotalPages   int          `json:"totalPages"`
}

// MetricsKind 评分数据的形态
type MetricsKind string

const (
	MetricsNone   MetricsKind = "none"
	MetricsCVSSv2 MetricsKind = "cvssV2"
	MetricsRaw    MetricsKind = "raw"
)

// CvssDataV2 CVSS v2 评分数据
type CvssDataV2 struct {
	Version               string   `json:"version,omitempty"`
	VectorString          string   `json:"vectorString,omitempty"`
	AccessVector          string   `json:"accessVector,omitempty"`
	AccessComplexity      string   `json:"accessComplexity,omitempty"`
	Authentication        string   `json:"authentication,omitempty"`
	ConfidentialityImpact string   `json:"confidentialityImpact,omitempty"`
	IntegrityImpact       string   `json:"integrityImpact,omitempty"`
	AvailabilityImpact    string   `json:"availabilityImpact,omitempty"`
	BaseScore             *float64 `json:"baseScore,omitempty"`
}

// CvssMetricV2 NVD cvssMetricV2 数组中的一项
type CvssMetricV2 struct {
	Source              string     `json:"source,omitempty"`
	Type                string     `json:"type,omitempty"`
	CvssData            CvssDataV2 `json:"cvssData"`
	BaseSeverity        string     `json:"baseSeverity,omitempty"`
	ExploitabilityScore float64    `json:"exploitabilityScore,omitempty"`
	ImpactScore         float64    `json:"impactScore,omitempty"`
}

// score 返回该项的基础分数，缺失时根据向量计算
func (m CvssMetricV2) score() (float64, bool) {
	if m.CvssData.BaseScore != nil {
		return *m.CvssData.BaseScore, true
	}
	if m.CvssData.VectorString == "" {
		return 0, false
	}
	cvss, err := gocvss20.ParseVector(m.CvssData.VectorString)
	if err != nil {
		return 0, false
	}
	return cvss.BaseScore(), true
}

// Metrics 评分数据。Raw 始终保存上游原始JSON，
// Kind 为 cvssV2 时 CVSSv2 为解析后的结构。
type Metrics struct {
	Kind   MetricsKind
	CVSSv2 []CvssMetricV2
	Raw    json.RawMessage
}

var emptyArray = json.RawMessage("[]")

// ParseMetrics 根据原始JSON判断评分数据形态
func ParseMetrics(raw json.RawMessage) Metrics {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Metrics{Kind: MetricsNone, Raw: emptyArray}
	}

	var items []CvssMetricV2
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return Metrics{Kind: MetricsRaw, Raw: append(json.RawMessage(nil), trimmed...)}
	}
	if len(items) == 0 {
		return Metrics{Kind: MetricsNone, Raw: emptyArray}
	}
	// 至少一项可评分即为 cvssV2，无分数的项在计算时跳过
	for _, item := range items {
		if _, ok := item.score(); ok {
			return Metrics{Kind: MetricsCVSSv2, CVSSv2: items, Raw: append(json.RawMessage(nil), trimmed...)}
		}
	}

	return Metrics{Kind: MetricsRaw, Raw: append(json.RawMessage(nil), trimmed...)}
}

func (m Metrics) clone() Metrics {
	out := Metrics{Kind: m.Kind}
	if m.Raw != nil {
		out.Raw = append(json.RawMessage(nil), m.Raw...)
	}
	if m.CVSSv2 != nil {
		out.CVSSv2 = make([]CvssMetricV2, len(m.CVSSv2))
		for i, item := range m.CVSSv2 {
			if item.CvssData.BaseScore != nil {
				score := *item.CvssData.BaseScore
				item.CvssData.BaseScore = &score
			}
			out.CVSSv2[i] = item
		}
	}
	return out
}

// BaseScore 返回最高的 v2 基础分数；非 cvssV2 形态没有分数
func (m Metrics) BaseScore() (float64, bool) {
	if m.Kind != MetricsCVSSv2 {
		return 0, false
	}

	found := false
	best := 0.0
	for _, item := range m.CVSSv2 {
		s, ok := item.score()
		if !ok {
			continue
		}
		if !found || s > best {
			best = s
			found = true
		}
	}
	return best, found
}

// Severity 最高分对应的严重等级，没有分数时为空
func (m Metrics) Severity() string {
	score, ok := m.BaseScore()
	if !ok {
		return ""
	}
	for _, item := range m.CVSSv2 {
		if s, ok := item.score(); ok && s == score && item.BaseSeverity != "" {
			return item.BaseSeverity
		}
	}

	// CVSS v2 官方分级
	switch {
	case score >= 7.0:
		return "HIGH"
	case score >= 4.0:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("[]"), nil
	}
	return m.Raw, nil
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	*m = ParseMetrics(data)
	return nil
}

// IngestStatus 导入任务状态
type IngestStatus string

const (
	IngestSucceeded IngestStatus = "succeeded"
	IngestFailed    IngestStatus = "failed"
)

// IngestRun 一次导入任务的记录
type IngestRun struct {
	ID             string       `json:"id"`
	Source         string       `json:"source"`
	StartedAt      time.Time    `json:"startedAt"`
	FinishedAt     time.Time    `json:"finishedAt"`
	Status         IngestStatus `json:"status"`
	RecordsFetched int          `json:"recordsFetched"`
	RecordsStored  int          `json:"recordsStored"`
	Error          string       `json:"error,omitempty"`
}
