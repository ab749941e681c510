package github

import (
	"net"
	"net/http"
	"time"

	"github.com/wiki-hub/wiki-hub/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client，用于所有上游 GitHub 请求。
func NewHTTPClient(cfg config.GitHubConfig) *http.Client {
	timeout := 30 * time.Second
	if cfg.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
