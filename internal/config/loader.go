package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyGitHubDefaults(&cfg.GitHub)
	for i := range cfg.Wikis {
		applyWikiDefaults(&cfg.Wikis[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Global.StatsDBPath != "" {
		absStats, err := filepath.Abs(cfg.Global.StatsDBPath)
		if err != nil {
			return nil, fmt.Errorf("无法解析统计库路径: %w", err)
		}
		cfg.Global.StatsDBPath = absStats
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StatsDBPath", "")
	v.SetDefault("SweepInterval", "10m")
	v.SetDefault("GitHub.APIBaseURL", "https://api.github.com")
	v.SetDefault("GitHub.UserAgent", "wiki-hub")
	v.SetDefault("GitHub.UpstreamTimeout", "30s")
	v.SetDefault("GitHub.MaxRetries", 3)
	v.SetDefault("GitHub.InitialBackoff", "1s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.SweepInterval.DurationValue() == 0 {
		g.SweepInterval = Duration(10 * time.Minute)
	}
}

func applyGitHubDefaults(g *GitHubConfig) {
	if g.APIBaseURL == "" {
		g.APIBaseURL = "https://api.github.com"
	}
	if g.UserAgent == "" {
		g.UserAgent = "wiki-hub"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
}

func applyWikiDefaults(w *WikiConfig) {
	if w.Branch == "" {
		w.Branch = "master"
	}
	if w.ContentTTL.DurationValue() < 0 {
		w.ContentTTL = Duration(0)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
