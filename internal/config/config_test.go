package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wiki-hub/wiki-hub/internal/cache"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

const minimalWiki = `
[[Wiki]]
Name = "handbook"
Owner = "acme"
Repo = "handbook-wiki"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalWiki))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("默认端口不符: %d", cfg.Global.ListenPort)
	}
	if cfg.Global.SweepInterval.DurationValue() != 10*time.Minute {
		t.Fatalf("默认清扫间隔不符: %v", cfg.Global.SweepInterval.DurationValue())
	}
	if cfg.GitHub.APIBaseURL != "https://api.github.com" {
		t.Fatalf("默认 API 地址不符: %s", cfg.GitHub.APIBaseURL)
	}
	if cfg.Wikis[0].Branch != "master" {
		t.Fatalf("默认分支不符: %s", cfg.Wikis[0].Branch)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应解析为绝对路径: %s", cfg.Global.StoragePath)
	}
}

func TestLoadDurationForms(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
SweepInterval = 300

[GitHub]
UpstreamTimeout = "45s"
`+minimalWiki))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Global.SweepInterval.DurationValue() != 5*time.Minute {
		t.Fatalf("整数秒应按秒解析: %v", cfg.Global.SweepInterval.DurationValue())
	}
	if cfg.GitHub.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("Duration 字符串解析不符: %v", cfg.GitHub.UpstreamTimeout.DurationValue())
	}
}

func TestValidateRejectsDuplicateWikiNames(t *testing.T) {
	_, err := Load(writeConfig(t, minimalWiki+`
[[Wiki]]
Name = "handbook"
Owner = "acme"
Repo = "other"
`))
	if err == nil || !strings.Contains(err.Error(), "重复") {
		t.Fatalf("重复 wiki 名称应报错，得到 %v", err)
	}
}

func TestValidateRejectsUnknownTTLBucket(t *testing.T) {
	_, err := Load(writeConfig(t, `
[TTL.webhooks]
Auth = "1m"
`+minimalWiki))
	if err == nil || !strings.Contains(err.Error(), "未知缓存分区") {
		t.Fatalf("未知分区应报错，得到 %v", err)
	}
}

func TestValidateRejectsMissingWiki(t *testing.T) {
	_, err := Load(writeConfig(t, `ListenPort = 5000`))
	if err == nil || !strings.Contains(err.Error(), "至少需要配置一个 Wiki") {
		t.Fatalf("缺少 Wiki 应报错，得到 %v", err)
	}
}

func TestValidateRejectsBadAPIBase(t *testing.T) {
	_, err := Load(writeConfig(t, `
[GitHub]
APIBaseURL = "ftp://api.github.com"
`+minimalWiki))
	if err == nil || !strings.Contains(err.Error(), "http/https") {
		t.Fatalf("非法协议应报错，得到 %v", err)
	}
}

func TestPolicyAppliesOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[TTL.pulls]
Auth = "45s"
Anon = "4m"
`+minimalWiki))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	profile := cfg.Policy().Profile(cache.BucketPulls)
	if profile.Auth != 45*time.Second || profile.Anon != 4*time.Minute {
		t.Fatalf("覆盖后的 pulls TTL 不符: %+v", profile)
	}
	// 未覆盖的分区保持默认值。
	if cfg.Policy().Profile(cache.BucketDonators) != cache.DefaultPolicy().Profile(cache.BucketDonators) {
		t.Fatalf("未覆盖分区不应改变")
	}
}

func TestEffectiveContentTTLOnlyTightens(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalWiki+`
ContentTTL = "2m"
`))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	profile := cfg.EffectiveContentTTL(cfg.Wikis[0])
	if profile.Auth != 2*time.Minute || profile.Anon != 2*time.Minute {
		t.Fatalf("wiki 覆盖应收紧两种 TTL: %+v", profile)
	}

	// 覆盖值大于默认值时不应放宽。
	cfg2, err := Load(writeConfig(t, minimalWiki+`
ContentTTL = "24h"
`))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	base := cfg2.Policy().Profile(cache.BucketContent)
	if cfg2.EffectiveContentTTL(cfg2.Wikis[0]) != base {
		t.Fatalf("放宽覆盖应被忽略")
	}
}

func TestWikiNamesSummary(t *testing.T) {
	names := WikiNames([]WikiConfig{{Name: "handbook", Owner: "acme", Repo: "handbook-wiki"}})
	if len(names) != 1 || names[0] != "handbook:acme/handbook-wiki" {
		t.Fatalf("摘要输出不符: %v", names)
	}
}
