package github

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示上游返回 404。路由层据此输出 404 而非 502。
var ErrNotFound = errors.New("github: resource not found")

// ErrRateLimited 表示上游返回 403/429 且配额已耗尽。
var ErrRateLimited = errors.New("github: rate limit exhausted")

// APIError 保留上游状态码与错误消息，便于日志与诊断输出。
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}
