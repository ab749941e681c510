package server

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/config"
)

// WikiRoute 将 Wiki 配置与派生属性（生效的正文 TTL、规范化后的页面前缀）
// 聚合在一起，供路由与服务层直接复用，避免重复解析配置。
type WikiRoute struct {
	// Config 是用户在 config.toml 中声明的 Wiki 字段副本，避免外部修改。
	Config config.WikiConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志输出。
	ListenPort int
	// ContentTTL 是对当前 wiki 生效的页面正文 TTL（wiki 级覆盖只收紧不放宽）。
	ContentTTL cache.TTLProfile
	// PagesPrefix 是规范化后的页面目录前缀，空字符串表示仓库根。
	PagesPrefix string
}

// PagePath 将请求中的页面路径映射为仓库内路径。
func (r *WikiRoute) PagePath(requestPath string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+requestPath), "/")
	if r.PagesPrefix == "" {
		return cleaned
	}
	if cleaned == "" {
		return r.PagesPrefix
	}
	return r.PagesPrefix + "/" + cleaned
}

// WikiRegistry 提供名称到 WikiRoute 的查询能力，所有 wiki 共享同一个监听端口。
type WikiRegistry struct {
	routes  map[string]*WikiRoute
	ordered []*WikiRoute
}

// NewWikiRegistry 根据配置构建名称映射。调用方应在启动阶段创建一次并复用。
func NewWikiRegistry(cfg *config.Config) (*WikiRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &WikiRegistry{
		routes: make(map[string]*WikiRoute, len(cfg.Wikis)),
	}

	for _, wiki := range cfg.Wikis {
		name := strings.ToLower(strings.TrimSpace(wiki.Name))
		if name == "" {
			return nil, errors.New("wiki name is empty")
		}
		if _, exists := registry.routes[name]; exists {
			return nil, fmt.Errorf("duplicate wiki name detected: %s", name)
		}

		route := &WikiRoute{
			Config:      wiki,
			ListenPort:  cfg.Global.ListenPort,
			ContentTTL:  cfg.EffectiveContentTTL(wiki),
			PagesPrefix: normalizePagesPath(wiki.PagesPath),
		}
		registry.routes[name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 按名称查找 WikiRoute，名称不区分大小写。
func (r *WikiRegistry) Lookup(name string) (*WikiRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[strings.ToLower(strings.TrimSpace(name))]
	return route, ok
}

// List 返回当前注册的 WikiRoute 列表（按配置定义的顺序），用于 /-/wikis 输出。
func (r *WikiRegistry) List() []WikiRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]WikiRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizePagesPath(raw string) string {
	cleaned := strings.Trim(path.Clean("/"+raw), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}
