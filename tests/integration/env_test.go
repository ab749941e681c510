package integration

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/config"
	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/server"
	"github.com/wiki-hub/wiki-hub/internal/server/routes"
	"github.com/wiki-hub/wiki-hub/internal/wiki"
)

// env 是端到端测试环境：上游 stub → GitHub 客户端 → 缓存 → Fiber 应用。
type env struct {
	app     *fiber.App
	store   *cache.Memory
	metrics *cache.Metrics
}

func baseConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		GitHub: config.GitHubConfig{UserAgent: "wiki-hub-test"},
		Wikis: []config.WikiConfig{
			{Name: "handbook", Owner: "acme", Repo: "handbook-wiki", Branch: "master", PagesPath: "pages"},
		},
	}
}

// newEnv 按 main.go 的启动顺序组装整套服务。mutate 可在组装前调整配置。
func newEnv(t *testing.T, handler http.Handler, mutate func(*config.Config)) *env {
	t.Helper()

	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	cfg := baseConfig()
	cfg.GitHub.APIBaseURL = upstream.URL
	if mutate != nil {
		mutate(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry, err := server.NewWikiRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := cache.NewMetrics(promRegistry)
	store := cache.NewMemory(cfg.Policy(), metrics)
	identity := cache.NewIdentityTracker(store, logger)

	var content cache.ContentStore
	if cfg.Global.StoragePath != "" {
		content, err = cache.NewContentStore(cfg.Global.StoragePath)
		if err != nil {
			t.Fatalf("content store error: %v", err)
		}
	}

	gh := github.NewClient(cfg.GitHub, upstream.Client(), logger, metrics)
	service, err := wiki.NewService(wiki.Options{
		Store:    store,
		Content:  content,
		GitHub:   gh,
		Identity: identity,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("service error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterAPIRoutes(app, routes.APIDeps{Registry: registry, Service: service, Logger: logger})
	routes.RegisterDiagnosticsRoutes(app, routes.DiagnosticsDeps{
		Registry:     registry,
		Store:        store,
		Metrics:      metrics,
		GitHub:       gh,
		PromRegistry: promRegistry,
		Logger:       logger,
		Version:      "integration",
	})

	return &env{app: app, store: store, metrics: metrics}
}

func (e *env) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}
