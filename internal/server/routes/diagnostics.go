package routes

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/server"
)

// DiagnosticsDeps 聚合 /-/ 诊断端点需要的依赖。PromRegistry 为空时不挂载
// /-/metrics。
type DiagnosticsDeps struct {
	Registry     *server.WikiRegistry
	Store        *cache.Memory
	Metrics      *cache.Metrics
	GitHub       *github.Client
	PromRegistry *prometheus.Registry
	Logger       *logrus.Logger
	Version      string
}

type wikiPayload struct {
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch"`
	PagesPath    string `json:"pages_path,omitempty"`
	DonatorsFile string `json:"donators_file,omitempty"`
	AuthTTL      string `json:"content_ttl_auth"`
	AnonTTL      string `json:"content_ttl_anon"`
}

type bucketPayload struct {
	Bucket  string `json:"bucket"`
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	AuthTTL string `json:"auth_ttl"`
	AnonTTL string `json:"anon_ttl"`
}

// RegisterDiagnosticsRoutes 暴露 /-/ 前缀下的运维端点，供 SRE 观察缓存水位。
func RegisterDiagnosticsRoutes(app *fiber.App, deps DiagnosticsDeps) {
	if app == nil || deps.Registry == nil || deps.Store == nil {
		return
	}

	app.Get("/-/wikis", func(c fiber.Ctx) error {
		routes := deps.Registry.List()
		payload := make([]wikiPayload, 0, len(routes))
		for _, route := range routes {
			payload = append(payload, wikiPayload{
				Name:         route.Config.Name,
				Owner:        route.Config.Owner,
				Repo:         route.Config.Repo,
				Branch:       route.Config.Branch,
				PagesPath:    route.PagesPrefix,
				DonatorsFile: route.Config.DonatorsFile,
				AuthTTL:      route.ContentTTL.Auth.String(),
				AnonTTL:      route.ContentTTL.Anon.String(),
			})
		}
		// server_token 告诉 SRE 匿名回源走的是服务端 Token 还是纯匿名配额。
		serverToken := false
		if deps.GitHub != nil {
			serverToken = deps.GitHub.HasServerToken()
		}
		return c.JSON(fiber.Map{
			"version":      deps.Version,
			"server_token": serverToken,
			"wikis":        payload,
		})
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		snapshot := deps.Store.Snapshot()
		buckets := make([]bucketPayload, 0, len(snapshot))
		for _, bucket := range cache.Buckets() {
			stats, ok := snapshot[bucket]
			if !ok {
				continue
			}
			buckets = append(buckets, bucketPayload{
				Bucket:  string(bucket),
				Entries: stats.Entries,
				Hits:    stats.Hits,
				Misses:  stats.Misses,
				AuthTTL: stats.AuthTTL,
				AnonTTL: stats.AnonTTL,
			})
		}
		return c.JSON(fiber.Map{
			"generated_at": time.Now().UTC(),
			"buckets":      buckets,
			"api_calls":    deps.Metrics.APITotal(),
			"request_id":   server.RequestID(c),
		})
	})

	app.Post("/-/cache/purge", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Query("bucket"))
		purged := map[string]int{}

		if name != "" {
			bucket, ok := resolveBucket(name)
			if !ok {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_bucket"})
			}
			purged[string(bucket)] = deps.Store.PurgeBucket(bucket)
		} else {
			for _, bucket := range cache.Buckets() {
				purged[string(bucket)] = deps.Store.PurgeBucket(bucket)
			}
		}

		if deps.Logger != nil {
			deps.Logger.WithFields(logrus.Fields{
				"action":     "cache_purge",
				"bucket":     name,
				"request_id": server.RequestID(c),
			}).Info("缓存手动清除")
		}
		return c.JSON(fiber.Map{"purged": purged})
	})

	if deps.PromRegistry != nil {
		metricsHandler := adaptor.HTTPHandler(promhttp.HandlerFor(deps.PromRegistry, promhttp.HandlerOpts{}))
		app.Get("/-/metrics", metricsHandler)
	}
}

func resolveBucket(name string) (cache.Bucket, bool) {
	for _, bucket := range cache.Buckets() {
		if string(bucket) == name {
			return bucket, true
		}
	}
	return "", false
}
