package cvedb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"LingLongTa/internal/utils"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

// DefaultFeedURL NVD CVE API 2.0 地址
const DefaultFeedURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// FeedSource 一次性返回一批上游原始记录的数据源
type FeedSource interface {
	Name() string
	Fetch(ctx context.Context) ([]json.RawMessage, error)
}

// NVDResponse NVD API 2.0 响应，记录本身保持原始JSON交给 Normalize 处理
type NVDResponse struct {
	ResultsPerPage  int               `json:"resultsPerPage"`
	StartIndex      int               `json:"startIndex"`
	TotalResults    int               `json:"totalResults"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

// CVEAPIClient 用于从NVD API获取CVE数据的客户端
type CVEAPIClient struct {
	baseURL        string
	apiKey         string
	resultsPerPage int
	logger         *utils.Logger
	httpClient     *http.Client
	cb             *gobreaker.CircuitBreaker
}

// APIClientOption CVEAPIClient 可选配置
type APIClientOption func(*CVEAPIClient)

// WithBaseURL 替换上游地址
func WithBaseURL(baseURL string) APIClientOption {
	return func(client *CVEAPIClient) {
		if baseURL != "" {
			client.baseURL = baseURL
		}
	}
}

// WithAPIKey 设置 NVD apiKey 请求头
func WithAPIKey(key string) APIClientOption {
	return func(client *CVEAPIClient) {
		client.apiKey = key
	}
}

// WithResultsPerPage 设置单次请求返回的记录数，0 表示使用上游默认值
func WithResultsPerPage(n int) APIClientOption {
	return func(client *CVEAPIClient) {
		client.resultsPerPage = n
	}
}

// WithTimeout 设置HTTP请求超时
func WithTimeout(timeout time.Duration) APIClientOption {
	return func(client *CVEAPIClient) {
		if timeout > 0 {
			client.httpClient.Timeout = timeout
		}
	}
}

// NewCVEAPIClient 创建新的CVE API客户端
func NewCVEAPIClient(opts ...APIClientOption) *CVEAPIClient {
	logger := utils.NewLogger("cve-api-client")
	client := &CVEAPIClient{
		baseURL: DefaultFeedURL,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  false,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
	for _, opt := range opts {
		opt(client)
	}

	client.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nvd-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("熔断器 %s 状态变化: %v -> %v", name, from, to)
		},
	})

	return client
}

// Name 数据源名称
func (client *CVEAPIClient) Name() string {
	return client.baseURL
}

func (client *CVEAPIClient) requestURL() (string, error) {
	u, err := url.Parse(client.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "解析上游地址失败")
	}
	if client.resultsPerPage > 0 {
		q := u.Query()
		q.Set("resultsPerPage", strconv.Itoa(client.resultsPerPage))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Fetch 发起一次请求并返回 vulnerabilities 数组，不处理分页
func (client *CVEAPIClient) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	reqURL, err := client.requestURL()
	if err != nil {
		return nil, &UpstreamError{Source: client.Name(), Err: err}
	}
	client.logger.Debug("请求URL: %s", reqURL)

	result, err := client.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, errors.Wrap(err, "创建请求失败")
		}

		// 设置请求头
		req.Header.Set("User-Agent", "LingLongTa/1.0")
		req.Header.Set("Accept", "application/json")
		if client.apiKey != "" {
			req.Header.Set("apiKey", client.apiKey)
		}

		resp, err := client.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "HTTP请求失败")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "读取响应失败")
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API返回错误: %s, 响应: %s", resp.Status, truncate(string(body), 200))
		}

		var nvdResponse NVDResponse
		if err := json.Unmarshal(body, &nvdResponse); err != nil {
			client.logger.Error("解析JSON失败: %v, 响应: %s", err, truncate(string(body), 500))
			return nil, errors.Wrap(err, "解析JSON失败")
		}
		if nvdResponse.Vulnerabilities == nil {
			return nil, errors.New("响应中缺少 vulnerabilities 数组")
		}

		client.logger.Debug("获取到 %d 个CVE，总结果数: %d",
			len(nvdResponse.Vulnerabilities), nvdResponse.TotalResults)
		return nvdResponse.Vulnerabilities, nil
	})
	if err != nil {
		return nil, &UpstreamError{Source: client.Name(), Err: err}
	}

	return result.([]json.RawMessage), nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}
