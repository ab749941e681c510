package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Caller 描述一次 API 请求的鉴权状态。前端将用户的 GitHub Token 透传到
// Authorization 头：带 Token 的请求按已登录 TTL 读缓存并以该 Token 回源。
type Caller struct {
	Token         string
	Authenticated bool
}

// AuthMode 输出日志字段使用的 credentialed/anonymous。
func (c Caller) AuthMode() string {
	if c.Authenticated {
		return "credentialed"
	}
	return "anonymous"
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *WikiRegistry
	ListenPort int
}

const (
	contextKeyCaller    = "_wikihub_caller"
	contextKeyRequestID = "_wikihub_request_id"
)

// NewApp builds a Fiber application with request-ID/auth middleware and
// structured error handling. Route handlers are attached by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("wiki registry is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并从 Authorization 头提取调用方 Token。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		c.Locals(contextKeyCaller, callerFromHeader(string(c.Request().Header.Peek(fiber.HeaderAuthorization))))
		return c.Next()
	}
}

// callerFromHeader 解析 `Bearer x` / `token x` 两种写法，其余内容视为匿名。
func callerFromHeader(raw string) Caller {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Caller{}
	}

	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return Caller{}
	}
	switch strings.ToLower(fields[0]) {
	case "bearer", "token":
		return Caller{Token: fields[1], Authenticated: true}
	default:
		return Caller{}
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// CallerFromContext 返回中间件解析出的调用方信息。
func CallerFromContext(c fiber.Ctx) Caller {
	if value := c.Locals(contextKeyCaller); value != nil {
		if caller, ok := value.(Caller); ok {
			return caller
		}
	}
	return Caller{}
}

// RenderWikiUnknown 输出统一的 404 响应并记录告警日志。
func RenderWikiUnknown(c fiber.Ctx, logger *logrus.Logger, name string) error {
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"action": "wiki_lookup",
			"wiki":   name,
		}).Warn("wiki unknown")
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "wiki_unknown",
	})
}
