package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Wiki 共享同一份参数。
type GlobalConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	StoragePath   string   `mapstructure:"StoragePath"`
	StatsDBPath   string   `mapstructure:"StatsDBPath"`
	SweepInterval Duration `mapstructure:"SweepInterval"`
}

// GitHubConfig 描述上游 GitHub API 的访问方式。Token 为空时以匿名身份回源，
// 共享 60 次/小时的速率配额，生产部署应当配置服务端 Token。
type GitHubConfig struct {
	APIBaseURL      string   `mapstructure:"APIBaseURL"`
	Token           string   `mapstructure:"Token"`
	UserAgent       string   `mapstructure:"UserAgent"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
}

// HasToken 表示是否配置了服务端 Token。
func (g GitHubConfig) HasToken() bool {
	return strings.TrimSpace(g.Token) != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供启动日志字段使用。
func (g GitHubConfig) AuthMode() string {
	if g.HasToken() {
		return "credentialed"
	}
	return "anonymous"
}

// TTLOverride 覆盖单个缓存分区的已登录/匿名 TTL。
type TTLOverride struct {
	Auth Duration `mapstructure:"Auth"`
	Anon Duration `mapstructure:"Anon"`
}

// WikiConfig 决定单个 wiki 实例绑定的 GitHub 仓库及页面布局。
type WikiConfig struct {
	Name         string   `mapstructure:"Name"`
	Owner        string   `mapstructure:"Owner"`
	Repo         string   `mapstructure:"Repo"`
	Branch       string   `mapstructure:"Branch"`
	PagesPath    string   `mapstructure:"PagesPath"`
	DonatorsFile string   `mapstructure:"DonatorsFile"`
	ContentTTL   Duration `mapstructure:"ContentTTL"`
}

// Slug 输出 owner/repo 形式的仓库标识，供日志与缓存键使用。
func (w WikiConfig) Slug() string {
	return fmt.Sprintf("%s/%s", w.Owner, w.Repo)
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig           `mapstructure:",squash"`
	GitHub GitHubConfig           `mapstructure:"GitHub"`
	TTL    map[string]TTLOverride `mapstructure:"TTL"`
	Wikis  []WikiConfig           `mapstructure:"Wiki"`
}

// WikiNames 返回所有 wiki 名称摘要，供启动日志输出。
func WikiNames(wikis []WikiConfig) []string {
	if len(wikis) == 0 {
		return nil
	}
	result := make([]string, len(wikis))
	for i, wiki := range wikis {
		result[i] = fmt.Sprintf("%s:%s", wiki.Name, wiki.Slug())
	}
	return result
}
