package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wiki-hub/wiki-hub/internal/cache"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "必须大于 0")
	}

	if err := validateAPIBase(c.GitHub.APIBaseURL); err != nil {
		return fmt.Errorf("GitHub.APIBaseURL: %w", err)
	}
	if c.GitHub.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("GitHub.UpstreamTimeout", "必须大于 0")
	}
	if c.GitHub.MaxRetries < 0 {
		return newFieldError("GitHub.MaxRetries", "不能为负数")
	}
	if c.GitHub.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("GitHub.InitialBackoff", "必须大于 0")
	}

	for name, override := range c.TTL {
		if !isKnownBucket(name) {
			return newFieldError("TTL."+name, "未知缓存分区")
		}
		if override.Auth.DurationValue() < 0 || override.Anon.DurationValue() < 0 {
			return newFieldError("TTL."+name, "TTL 不能为负数")
		}
	}

	if len(c.Wikis) == 0 {
		return errors.New("至少需要配置一个 Wiki")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Wikis {
		wiki := &c.Wikis[i]
		if wiki.Name == "" {
			return newFieldError("Wiki[].Name", "不能为空")
		}
		if strings.ContainsAny(wiki.Name, "/ ") {
			return newFieldError(wikiField(wiki.Name, "Name"), "不允许包含斜杠或空格")
		}
		if _, exists := seenNames[wiki.Name]; exists {
			return newFieldError(wikiField(wiki.Name, "Name"), "重复")
		}
		seenNames[wiki.Name] = struct{}{}

		if wiki.Owner == "" {
			return newFieldError(wikiField(wiki.Name, "Owner"), "不能为空")
		}
		if wiki.Repo == "" {
			return newFieldError(wikiField(wiki.Name, "Repo"), "不能为空")
		}
		if strings.Contains(wiki.Owner, "/") || strings.Contains(wiki.Repo, "/") {
			return newFieldError(wikiField(wiki.Name, "Owner/Repo"), "不允许包含斜杠")
		}
		if strings.HasPrefix(wiki.PagesPath, "/") {
			return newFieldError(wikiField(wiki.Name, "PagesPath"), "必须是仓库内相对路径")
		}
		if strings.HasPrefix(wiki.DonatorsFile, "/") {
			return newFieldError(wikiField(wiki.Name, "DonatorsFile"), "必须是仓库内相对路径")
		}
		if wiki.ContentTTL.DurationValue() < 0 {
			return newFieldError(wikiField(wiki.Name, "ContentTTL"), "不能为负数")
		}
	}

	return nil
}

func validateAPIBase(raw string) error {
	if raw == "" {
		return errors.New("缺少 API 地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，当前: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}

func isKnownBucket(name string) bool {
	for _, bucket := range cache.Buckets() {
		if string(bucket) == name {
			return true
		}
	}
	return false
}

// Policy 基于默认 TTL 策略应用 [TTL.*] 覆盖，产出缓存层使用的最终策略。
func (c *Config) Policy() cache.Policy {
	policy := cache.DefaultPolicy()
	for name, override := range c.TTL {
		bucket := cache.Bucket(name)
		profile := policy.Profile(bucket)
		if d := override.Auth.DurationValue(); d > 0 {
			profile.Auth = d
		}
		if d := override.Anon.DurationValue(); d > 0 {
			profile.Anon = d
		}
		policy = policy.WithOverride(bucket, profile)
	}
	return policy
}

// EffectiveContentTTL 返回指定 wiki 生效的页面正文 TTL。
// wiki 级 ContentTTL 只允许收紧，不允许放宽，否则条目会先被清扫器
// 按全局上限淘汰，覆盖值形同虚设。
func (c *Config) EffectiveContentTTL(w WikiConfig) cache.TTLProfile {
	profile := c.Policy().Profile(cache.BucketContent)
	override := w.ContentTTL.DurationValue()
	if override <= 0 {
		return profile
	}
	if override < profile.Auth {
		profile.Auth = override
	}
	if override < profile.Anon {
		profile.Anon = override
	}
	return profile
}
