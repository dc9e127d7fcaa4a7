package cvedb

import (
	"bytes"
	"encoding/json"
	"strings"

	"LingLongTa/internal/model"

	"github.com/pkg/errors"
)

// nvdEntry NVD CVE API 2.0 vulnerabilities 数组中的一项，
// 只声明规范化需要的字段
type nvdEntry struct {
	CVE *struct {
		ID           string `json:"id"`
		Published    string `json:"published"`
		LastModified string `json:"lastModified"`
		VulnStatus   string `json:"vulnStatus"`
		Descriptions []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"descriptions"`
		Metrics *struct {
			CvssMetricV2 json.RawMessage `json:"cvssMetricV2"`
		} `json:"metrics"`
		Configurations json.RawMessage `json:"configurations"`
		References     []struct {
			URL    string   `json:"url"`
			Source string   `json:"source"`
			Tags   []string `json:"tags"`
		} `json:"references"`
	} `json:"cve"`
}

// Normalize 将一条上游原始记录转换为规范化记录
func Normalize(raw json.RawMessage) (model.VulnerabilityRecord, error) {
	var entry nvdEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.VulnerabilityRecord{}, errors.Wrap(err, "解析记录失败")
	}
	if entry.CVE == nil {
		return model.VulnerabilityRecord{}, errors.New("缺少 cve 对象")
	}

	cve := entry.CVE
	if strings.TrimSpace(cve.ID) == "" {
		return model.VulnerabilityRecord{}, errors.New("缺少 cve.id")
	}

	record := model.VulnerabilityRecord{
		ID:             cve.ID,
		Published:      cve.Published,
		LastModified:   cve.LastModified,
		VulnStatus:     cve.VulnStatus,
		Descriptions:   make([]string, 0, len(cve.Descriptions)),
		Configurations: []json.RawMessage{},
		References:     make([]string, 0, len(cve.References)),
	}

	// 丢弃语言标签，保留顺序
	for _, desc := range cve.Descriptions {
		record.Descriptions = append(record.Descriptions, desc.Value)
	}

	if cve.Metrics != nil {
		record.Metrics = model.ParseMetrics(cve.Metrics.CvssMetricV2)
	} else {
		record.Metrics = model.ParseMetrics(nil)
	}

	configs := bytes.TrimSpace(cve.Configurations)
	if len(configs) > 0 && !bytes.Equal(configs, []byte("null")) {
		if err := json.Unmarshal(configs, &record.Configurations); err != nil {
			return model.VulnerabilityRecord{}, errors.Wrapf(err, "%s 的 configurations 不是数组", cve.ID)
		}
	}

	for _, ref := range cve.References {
		record.References = append(record.References, ref.URL)
	}

	return record, nil
}
