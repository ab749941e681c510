package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/config"
	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/logging"
	"github.com/wiki-hub/wiki-hub/internal/server"
	"github.com/wiki-hub/wiki-hub/internal/server/routes"
	"github.com/wiki-hub/wiki-hub/internal/statstore"
	"github.com/wiki-hub/wiki-hub/internal/version"
	"github.com/wiki-hub/wiki-hub/internal/wiki"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["wikis"] = config.WikiNames(cfg.Wikis)
		fields["auth_mode"] = cfg.GitHub.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewWikiRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Wiki 注册表失败: %v\n", err)
		return 1
	}

	// 启动顺序：配置 → 注册表 → 缓存/指标 → GitHub 客户端 → 服务 → Fiber。
	// 所有 wiki 共享同一套缓存与指标实例。
	promRegistry := prometheus.NewRegistry()
	metrics := cache.NewMetrics(promRegistry)
	store := cache.NewMemory(cfg.Policy(), metrics)
	identity := cache.NewIdentityTracker(store, logger)

	var content cache.ContentStore
	if cfg.Global.StoragePath != "" {
		content, err = cache.NewContentStore(cfg.Global.StoragePath)
		if err != nil {
			fmt.Fprintf(stdErr, "初始化正文缓存目录失败: %v\n", err)
			return 1
		}
	}

	stats, err := statstore.Open(cfg.Global.StatsDBPath)
	if err != nil {
		fmt.Fprintf(stdErr, "打开贡献统计库失败: %v\n", err)
		return 1
	}
	if stats != nil {
		defer stats.Close()
	}

	gh := github.NewClient(cfg.GitHub, nil, logger, metrics)
	service, err := wiki.NewService(wiki.Options{
		Store:    store,
		Content:  content,
		GitHub:   gh,
		Stats:    stats,
		Identity: identity,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 wiki 服务失败: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := cache.NewSweeper(store, cfg.Global.SweepInterval.DurationValue(), logger)
	if stats != nil {
		sweeper.AttachPurger(stats)
	}
	go sweeper.Run(ctx)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["wikis"] = config.WikiNames(cfg.Wikis)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["auth_mode"] = cfg.GitHub.AuthMode()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, service, gh, store, metrics, promRegistry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("wiki-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 WIKI_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("WIKI_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, registry *server.WikiRegistry, service *wiki.Service, gh *github.Client, store *cache.Memory, metrics *cache.Metrics, promRegistry *prometheus.Registry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterAPIRoutes(app, routes.APIDeps{
		Registry: registry,
		Service:  service,
		Logger:   logger,
	})
	routes.RegisterDiagnosticsRoutes(app, routes.DiagnosticsDeps{
		Registry:     registry,
		Store:        store,
		Metrics:      metrics,
		GitHub:       gh,
		PromRegistry: promRegistry,
		Logger:       logger,
		Version:      version.Full(),
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
