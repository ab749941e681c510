package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/config"
	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/server"
	"github.com/wiki-hub/wiki-hub/internal/wiki"
)

type testEnv struct {
	app     *fiber.App
	store   *cache.Memory
	metrics *cache.Metrics
}

// newTestEnv 组装完整的路由栈：上游 stub → GitHub 客户端 → 服务 → fiber 应用。
func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Wikis: []config.WikiConfig{
			{Name: "handbook", Owner: "acme", Repo: "handbook-wiki", Branch: "master", PagesPath: "pages"},
		},
	}
	registry, err := server.NewWikiRegistry(cfg)
	if err != nil {
		t.Fatalf("构建注册表失败: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := cache.NewMetrics(promRegistry)
	store := cache.NewMemory(cache.DefaultPolicy(), metrics)

	gh := github.NewClient(config.GitHubConfig{APIBaseURL: upstream.URL, UserAgent: "wiki-hub-test"}, upstream.Client(), logger, metrics)
	service, err := wiki.NewService(wiki.Options{
		Store:   store,
		GitHub:  gh,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("构建服务失败: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{Logger: logger, Registry: registry, ListenPort: 5000})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}
	RegisterAPIRoutes(app, APIDeps{Registry: registry, Service: service, Logger: logger})
	RegisterDiagnosticsRoutes(app, DiagnosticsDeps{
		Registry:     registry,
		Store:        store,
		Metrics:      metrics,
		GitHub:       gh,
		PromRegistry: promRegistry,
		Logger:       logger,
		Version:      "test",
	})
	return &testEnv{app: app, store: store, metrics: metrics}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("响应不是合法 JSON: %v", err)
	}
	return payload
}

func TestUnknownWikiIs404(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("未知 wiki 不应回源: %s", r.URL.Path)
	}))

	resp, err := env.app.Test(httptest.NewRequest("GET", "/api/nowhere/pulls", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("状态码 = %d", resp.StatusCode)
	}
	if payload := decodeBody(t, resp); payload["error"] != "wiki_unknown" {
		t.Fatalf("错误码不符: %v", payload)
	}
}

func TestPageRouteSetsCacheHeader(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Home\n")
	}))

	resp, err := env.app.Test(httptest.NewRequest("GET", "/api/handbook/page/Home.md", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态码 = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cache"); got != "miss" {
		t.Fatalf("首次请求 X-Cache = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "# Home\n" {
		t.Fatalf("正文不符: %q", body)
	}

	resp2, err := env.app.Test(httptest.NewRequest("GET", "/api/handbook/page/Home.md", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Cache"); got != "hit" {
		t.Fatalf("二次请求 X-Cache = %q", got)
	}
}

func TestPullsRouteFiltersByAuthor(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"number":1,"state":"open","user":{"id":1,"login":"octocat"}},
			{"number":2,"state":"open","user":{"id":2,"login":"monalisa"}}
		]`)
	}))

	resp, err := env.app.Test(httptest.NewRequest("GET", "/api/handbook/pulls?author=octocat", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	payload := decodeBody(t, resp)
	pulls, ok := payload["pulls"].([]any)
	if !ok || len(pulls) != 1 {
		t.Fatalf("应只返回指定作者的 PR: %v", payload)
	}
}

func TestUpstreamErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		upstream   int
		wantStatus int
		wantCode   string
	}{
		{"not found", http.StatusNotFound, http.StatusNotFound, "not_found"},
		{"rate limited", http.StatusForbidden, http.StatusServiceUnavailable, "upstream_rate_limited"},
		{"server error", http.StatusBadGateway, http.StatusBadGateway, "upstream_error"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if c.upstream == http.StatusForbidden {
					w.Header().Set("X-RateLimit-Remaining", "0")
				}
				w.WriteHeader(c.upstream)
				fmt.Fprint(w, `{"message":"boom"}`)
			}))

			resp, err := env.app.Test(httptest.NewRequest("GET", "/api/handbook/branch", nil))
			if err != nil {
				t.Fatalf("request error: %v", err)
			}
			if resp.StatusCode != c.wantStatus {
				t.Fatalf("状态码 = %d, 期望 %d", resp.StatusCode, c.wantStatus)
			}
			if payload := decodeBody(t, resp); payload["error"] != c.wantCode {
				t.Fatalf("错误码不符: %v", payload)
			}
		})
	}
}

func TestEditWithoutTokenIs401(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("匿名编辑不应回源: %s", r.URL.Path)
	}))

	req := httptest.NewRequest("POST", "/api/handbook/edits", strings.NewReader(`{"path":"Home.md","content":"x"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("状态码 = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDiagnosticsWikis(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/wikis", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	payload := decodeBody(t, resp)
	wikis, ok := payload["wikis"].([]any)
	if !ok || len(wikis) != 1 {
		t.Fatalf("应列出 1 个 wiki: %v", payload)
	}
	entry := wikis[0].(map[string]any)
	if entry["name"] != "handbook" || entry["repo"] != "handbook-wiki" {
		t.Fatalf("wiki 信息不符: %v", entry)
	}
	if payload["server_token"] != false {
		t.Fatalf("未配置服务端 Token 时 server_token 应为 false: %v", payload["server_token"])
	}
}

func TestDiagnosticsCacheSnapshot(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))

	// 先制造一次未命中 + 回源。
	if resp, err := env.app.Test(httptest.NewRequest("GET", "/api/handbook/pulls", nil)); err == nil {
		resp.Body.Close()
	}

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	payload := decodeBody(t, resp)
	if payload["api_calls"].(float64) < 1 {
		t.Fatalf("API 调用计数不符: %v", payload["api_calls"])
	}
	buckets, ok := payload["buckets"].([]any)
	if !ok || len(buckets) == 0 {
		t.Fatalf("缓存快照应包含分区统计: %v", payload)
	}
}

func TestDiagnosticsCachePurge(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))

	if resp, err := env.app.Test(httptest.NewRequest("GET", "/api/handbook/pulls", nil)); err == nil {
		resp.Body.Close()
	}
	if env.store.Len(cache.BucketPulls) == 0 {
		t.Fatalf("预置缓存失败")
	}

	resp, err := env.app.Test(httptest.NewRequest("POST", "/-/cache/purge?bucket=pulls", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	payload := decodeBody(t, resp)
	purged := payload["purged"].(map[string]any)
	if purged["pulls"].(float64) != 1 {
		t.Fatalf("清除数量不符: %v", purged)
	}
	if env.store.Len(cache.BucketPulls) != 0 {
		t.Fatalf("pulls 分区应被清空")
	}

	resp2, err := env.app.Test(httptest.NewRequest("POST", "/-/cache/purge?bucket=nonsense", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("未知分区应返回 400, 实际 %d", resp2.StatusCode)
	}
	resp2.Body.Close()
}

func TestDiagnosticsMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))

	if resp, err := env.app.Test(httptest.NewRequest("GET", "/api/handbook/pulls", nil)); err == nil {
		resp.Body.Close()
	}

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态码 = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "wikihub_cache_misses_total") {
		t.Fatalf("导出的指标缺少缓存计数器")
	}
}
