package cvedb

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// sampleFeed 内置的测试CVE数据，NVD API 2.0 格式
const sampleFeed = `{
  "resultsPerPage": 3,
  "startIndex": 0,
  "totalResults": 3,
  "format": "NVD_CVE",
  "version": "2.0",
  "vulnerabilities": [
    {
      "cve": {
        "id": "CVE-2021-23017",
        "sourceIdentifier": "f0158376-9dc2-43b6-827c-5f631a4d8d09",
        "published": "2021-06-01T13:15:07.853",
        "lastModified": "2021-06-15T00:00:00.000",
        "vulnStatus": "Analyzed",
        "descriptions": [
          {"lang": "en", "value": "A security issue in nginx resolver was identified, which might allow an attacker to cause 1-byte memory overwrite."},
          {"lang": "es", "value": "Se ha identificado un problema de seguridad en el resolver de nginx."}
        ],
        "metrics": {
          "cvssMetricV2": [
            {
              "source": "nvd@nist.gov",
              "type": "Primary",
              "cvssData": {
                "version": "2.0",
                "vectorString": "AV:N/AC:L/Au:N/C:P/I:P/A:P",
                "accessVector": "NETWORK",
                "accessComplexity": "LOW",
                "authentication": "NONE",
                "confidentialityImpact": "PARTIAL",
                "integrityImpact": "PARTIAL",
                "availabilityImpact": "PARTIAL",
                "baseScore": 7.5
              },
              "baseSeverity": "HIGH",
              "exploitabilityScore": 10.0,
              "impactScore": 6.4
            }
          ]
        },
        "configurations": [
          {"nodes": [{"operator": "OR", "negate": false, "cpeMatch": [{"vulnerable": true, "criteria": "cpe:2.3:a:f5:nginx:*:*:*:*:*:*:*:*", "versionStartIncluding": "0.6.18", "versionEndExcluding": "1.20.1"}]}]}
        ],
        "references": [
          {"url": "http://mailman.nginx.org/pipermail/nginx-announce/2021/000300.html", "source": "f0158376-9dc2-43b6-827c-5f631a4d8d09", "tags": ["Mailing List", "Vendor Advisory"]}
        ]
      }
    },
    {
      "cve": {
        "id": "CVE-2021-40438",
        "sourceIdentifier": "security@apache.org",
        "published": "2021-09-16T15:15:07.457",
        "lastModified": "2021-09-24T00:00:00.000",
        "vulnStatus": "Analyzed",
        "descriptions": [
          {"lang": "en", "value": "A crafted request uri-path can cause mod_proxy to forward the request to an origin server chosen by the remote user."}
        ],
        "metrics": {
          "cvssMetricV2": [
            {
              "source": "nvd@nist.gov",
              "type": "Primary",
              "cvssData": {
                "version": "2.0",
                "vectorString": "AV:N/AC:M/Au:N/C:P/I:P/A:P",
                "baseScore": 6.8
              },
              "baseSeverity": "MEDIUM"
            }
          ]
        },
        "configurations": [
          {"nodes": [{"operator": "OR", "negate": false, "cpeMatch": [{"vulnerable": true, "criteria": "cpe:2.3:a:apache:http_server:*:*:*:*:*:*:*:*", "versionEndIncluding": "2.4.48"}]}]}
        ],
        "references": [
          {"url": "https://httpd.apache.org/security/vulnerabilities_24.html", "source": "security@apache.org"}
        ]
      }
    },
    {
      "cve": {
        "id": "CVE-2022-3602",
        "sourceIdentifier": "openssl-security@openssl.org",
        "published": "2022-11-01T18:15:11.540",
        "lastModified": "2022-11-08T00:00:00.000",
        "vulnStatus": "Modified",
        "descriptions": [
          {"lang": "en", "value": "A buffer overrun can be triggered in X.509 certificate verification, specifically in name constraint checking."}
        ],
        "metrics": {},
        "references": [
          {"url": "https://www.openssl.org/news/secadv/20221101.txt", "source": "openssl-security@openssl.org"}
        ]
      }
    }
  ]
}`

// SampleFeed 内置测试数据源，用于演示和本地开发
type SampleFeed struct{}

// Name 数据源名称
func (SampleFeed) Name() string {
	return "sample"
}

// Fetch 返回内置的测试记录
func (SampleFeed) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resp NVDResponse
	if err := json.Unmarshal([]byte(sampleFeed), &resp); err != nil {
		return nil, errors.Wrap(err, "解析内置测试数据失败")
	}
	return resp.Vulnerabilities, nil
}
