package cvedb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestNewCVEAPIClient(t *testing.T) {
	client := NewCVEAPIClient()
	if client == nil {
		t.Fatal("NewCVEAPIClient() 返回 nil")
	}
	if client.baseURL != DefaultFeedURL {
		t.Errorf("期望baseURL为 %s, 实际得到 %s", DefaultFeedURL, client.baseURL)
	}
	if client.logger == nil {
		t.Error("logger 不应为 nil")
	}
	if client.httpClient == nil {
		t.Error("httpClient 不应为 nil")
	}
	if client.cb == nil {
		t.Error("熔断器不应为 nil")
	}
}

func TestNewCVEAPIClientOptions(t *testing.T) {
	client := NewCVEAPIClient(
		WithBaseURL("http://localhost:1234/cves"),
		WithAPIKey("secret"),
		WithResultsPerPage(50),
		WithTimeout(5*time.Second),
	)

	if client.baseURL != "http://localhost:1234/cves" {
		t.Errorf("baseURL 未生效: %s", client.baseURL)
	}
	if client.apiKey != "secret" {
		t.Errorf("apiKey 未生效: %s", client.apiKey)
	}
	if client.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout 未生效: %v", client.httpClient.Timeout)
	}

	u, err := client.requestURL()
	if err != nil {
		t.Fatalf("requestURL 失败: %v", err)
	}
	if u != "http://localhost:1234/cves?resultsPerPage=50" {
		t.Errorf("请求地址不正确: %s", u)
	}
}

func TestFetchWithMockServer(t *testing.T) {
	var gotKey, gotAccept string
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("期望GET请求, 实际得到 %s", r.Method)
		}
		gotKey = r.Header.Get("apiKey")
		gotAccept = r.Header.Get("Accept")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"resultsPerPage": 2, "startIndex": 0, "totalResults": 2,
			"vulnerabilities": [
				{"cve": {"id": "CVE-2025-0001", "published": "2025-01-01T00:00:00.000"}},
				{"cve": {"id": "CVE-2025-0002", "published": "2025-01-02T00:00:00.000"}}
			]
		}`))
	}))
	defer testServer.Close()

	client := NewCVEAPIClient(WithBaseURL(testServer.URL+"/rest/json/cves/2.0"), WithAPIKey("k-123"))

	raws, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch 失败: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("期望2条记录, 实际得到 %d", len(raws))
	}
	if gotKey != "k-123" {
		t.Errorf("apiKey 请求头不正确: %q", gotKey)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept 请求头不正确: %q", gotAccept)
	}

	record, err := Normalize(raws[1])
	if err != nil {
		t.Fatalf("Normalize 失败: %v", err)
	}
	if record.ID != "CVE-2025-0002" {
		t.Errorf("第二条记录应为 CVE-2025-0002, 实际得到 %s", record.ID)
	}
}

func TestFetchWithAPIError(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal Server Error"}`))
	}))
	defer testServer.Close()

	client := NewCVEAPIClient(WithBaseURL(testServer.URL))

	_, err := client.Fetch(context.Background())
	if err == nil {
		t.Fatal("期望API错误，但未返回错误")
	}

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("期望 UpstreamError, 实际得到 %T", err)
	}
	if !strings.Contains(err.Error(), "500 Internal Server Error") {
		t.Errorf("错误消息应包含状态码: %s", err.Error())
	}
}

func TestFetchErrorBodyIsTruncatedOnRuneBoundary(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("a" + strings.Repeat("服务暂不可用", 100)))
	}))
	defer testServer.Close()

	client := NewCVEAPIClient(WithBaseURL(testServer.URL))

	_, err := client.Fetch(context.Background())
	if err == nil {
		t.Fatal("期望API错误，但未返回错误")
	}
	if !utf8.ValidString(err.Error()) {
		t.Errorf("错误消息不是合法的UTF-8: %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "...") {
		t.Errorf("过长的响应应被截断: %s", err.Error())
	}
}

func TestFetchWithoutVulnerabilities(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"totalResults": 0})
	}))
	defer testServer.Close()

	client := NewCVEAPIClient(WithBaseURL(testServer.URL))

	_, err := client.Fetch(context.Background())
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("缺少 vulnerabilities 时期望 UpstreamError, 实际得到 %v", err)
	}
}

func TestFetchWithMalformedJSON(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer testServer.Close()

	client := NewCVEAPIClient(WithBaseURL(testServer.URL))

	if _, err := client.Fetch(context.Background()); err == nil {
		t.Error("期望解析错误，但未返回错误")
	}
}

func TestFetchCircuitBreakerOpens(t *testing.T) {
	calls := 0
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer testServer.Close()

	client := NewCVEAPIClient(WithBaseURL(testServer.URL))

	for i := 0; i < 5; i++ {
		if _, err := client.Fetch(context.Background()); err == nil {
			t.Fatalf("第 %d 次请求期望失败", i+1)
		}
	}

	// 连续3次失败后熔断，之后的请求不再到达服务器
	if calls != 3 {
		t.Errorf("期望3次请求到达服务器, 实际得到 %d", calls)
	}
}
