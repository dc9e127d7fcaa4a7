package cvedb

import (
	"encoding/json"
	"testing"

	"LingLongTa/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullEntry = `{
	"cve": {
		"id": "CVE-2021-44228",
		"sourceIdentifier": "security@apache.org",
		"published": "2021-12-10T10:15:09.143",
		"lastModified": "2023-11-07T03:39:36.747",
		"vulnStatus": "Modified",
		"descriptions": [
			{"lang": "en", "value": "Apache Log4j2 JNDI features do not protect against attacker controlled LDAP."},
			{"lang": "es", "value": "Las funciones JNDI de Apache Log4j2 no protegen contra LDAP controlado por el atacante."}
		],
		"metrics": {
			"cvssMetricV31": [{"cvssData": {"baseScore": 10.0}}],
			"cvssMetricV2": [
				{
					"source": "nvd@nist.gov",
					"type": "Primary",
					"cvssData": {"version": "2.0", "vectorString": "AV:N/AC:M/Au:N/C:C/I:C/A:C", "baseScore": 9.3},
					"baseSeverity": "HIGH",
					"acInsufInfo": false
				}
			]
		},
		"configurations": [
			{"nodes": [{"operator": "OR", "cpeMatch": [{"vulnerable": true, "criteria": "cpe:2.3:a:apache:log4j:*:*:*:*:*:*:*:*"}]}]},
			{"operator": "AND", "nodes": []}
		],
		"references": [
			{"url": "https://logging.apache.org/log4j/2.x/security.html", "source": "security@apache.org", "tags": ["Vendor Advisory"]},
			{"url": "http://www.openwall.com/lists/oss-security/2021/12/10/1", "source": "security@apache.org"}
		]
	}
}`

func TestNormalize(t *testing.T) {
	t.Run("extracts every field of a complete entry", func(t *testing.T) {
		record, err := Normalize(json.RawMessage(fullEntry))
		require.NoError(t, err)

		assert.Equal(t, "CVE-2021-44228", record.ID)
		assert.Equal(t, "2021-12-10T10:15:09.143", record.Published)
		assert.Equal(t, "2023-11-07T03:39:36.747", record.LastModified)
		assert.Equal(t, "Modified", record.VulnStatus)
		assert.Equal(t, []string{
			"Apache Log4j2 JNDI features do not protect against attacker controlled LDAP.",
			"Las funciones JNDI de Apache Log4j2 no protegen contra LDAP controlado por el atacante.",
		}, record.Descriptions)
		assert.Equal(t, []string{
			"https://logging.apache.org/log4j/2.x/security.html",
			"http://www.openwall.com/lists/oss-security/2021/12/10/1",
		}, record.References)

		require.Len(t, record.Configurations, 2)
		assert.JSONEq(t, `{"operator": "AND", "nodes": []}`, string(record.Configurations[1]))

		// 只保留 v2 评分
		assert.Equal(t, model.MetricsCVSSv2, record.Metrics.Kind)
		s, ok := record.Metrics.BaseScore()
		assert.True(t, ok)
		assert.Equal(t, 9.3, s)
		assert.Contains(t, string(record.Metrics.Raw), "acInsufInfo")
		assert.NotContains(t, string(record.Metrics.Raw), "cvssMetricV31")
	})

	t.Run("optional fields default to empty values", func(t *testing.T) {
		record, err := Normalize(json.RawMessage(`{"cve": {"id": "CVE-2024-0001"}}`))
		require.NoError(t, err)

		assert.Equal(t, "CVE-2024-0001", record.ID)
		assert.Empty(t, record.Published)
		assert.Empty(t, record.VulnStatus)
		assert.NotNil(t, record.Descriptions)
		assert.NotNil(t, record.Configurations)
		assert.NotNil(t, record.References)
		assert.Equal(t, model.MetricsNone, record.Metrics.Kind)

		out, err := json.Marshal(record)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"CVE-2024-0001","published":"","lastModified":"","descriptions":[],"metrics":[],"configurations":[],"references":[]}`, string(out))
	})

	t.Run("metrics without a v2 collection are none", func(t *testing.T) {
		record, err := Normalize(json.RawMessage(`{"cve": {"id": "CVE-2024-0002", "metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 8.1}}]}}}`))
		require.NoError(t, err)
		assert.Equal(t, model.MetricsNone, record.Metrics.Kind)
	})

	t.Run("null configurations are treated as empty", func(t *testing.T) {
		record, err := Normalize(json.RawMessage(`{"cve": {"id": "CVE-2024-0003", "configurations": null}}`))
		require.NoError(t, err)
		assert.Empty(t, record.Configurations)
	})

	t.Run("id is kept exactly as received", func(t *testing.T) {
		record, err := Normalize(json.RawMessage(`{"cve": {"id": "  CVE-2024-0004 "}}`))
		require.NoError(t, err)
		assert.Equal(t, "  CVE-2024-0004 ", record.ID)
	})
}

func TestNormalizeRejectsInvalidShapes(t *testing.T) {
	cases := map[string]string{
		"not json":                    `{"cve":`,
		"not an object":               `["CVE-2024-0001"]`,
		"missing cve":                 `{"id": "CVE-2024-0001"}`,
		"null cve":                    `{"cve": null}`,
		"missing id":                  `{"cve": {"published": "2024-01-01T00:00:00.000"}}`,
		"blank id":                    `{"cve": {"id": "   "}}`,
		"descriptions not array":      `{"cve": {"id": "CVE-2024-0001", "descriptions": "text"}}`,
		"references not array":        `{"cve": {"id": "CVE-2024-0001", "references": {"url": "x"}}}`,
		"configurations not an array": `{"cve": {"id": "CVE-2024-0001", "configurations": {"nodes": []}}}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(json.RawMessage(raw))
			assert.Error(t, err)
		})
	}
}
