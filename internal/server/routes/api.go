package routes

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/logging"
	"github.com/wiki-hub/wiki-hub/internal/server"
	"github.com/wiki-hub/wiki-hub/internal/wiki"
)

// APIDeps 聚合 API 路由需要的依赖。
type APIDeps struct {
	Registry *server.WikiRegistry
	Service  *wiki.Service
	Logger   *logrus.Logger
}

// RegisterAPIRoutes 挂载 /api/:wiki/** 下的全部读写端点。
func RegisterAPIRoutes(app *fiber.App, deps APIDeps) {
	if app == nil || deps.Registry == nil || deps.Service == nil {
		return
	}

	api := app.Group("/api/:wiki")

	api.Get("/page/*", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		pagePath := c.Params("*")
		if pagePath == "" {
			return badRequest(c, "page_path_required")
		}
		page, cached, err := deps.Service.Page(c.Context(), route, caller, pagePath)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "page", caller, cached)
		c.Set("X-Cache", cacheHeader(cached))
		c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return c.Send(page.Body)
	}))

	api.Get("/history/*", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		pagePath := c.Params("*")
		if pagePath == "" {
			return badRequest(c, "page_path_required")
		}
		commits, cached, err := deps.Service.History(c.Context(), route, caller, pagePath)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "history", caller, cached)
		return renderCached(c, cached, fiber.Map{"wiki": route.Config.Name, "path": route.PagePath(pagePath), "commits": commits})
	}))

	api.Get("/pulls", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		state := c.Query("state", "open")
		author := strings.TrimSpace(c.Query("author"))

		var (
			pulls  []github.PullRequest
			cached bool
			err    error
		)
		if author != "" {
			pulls, cached, err = deps.Service.PullsByAuthor(c.Context(), route, caller, state, author)
		} else {
			pulls, cached, err = deps.Service.Pulls(c.Context(), route, caller, state)
		}
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "pulls", caller, cached)
		return renderCached(c, cached, fiber.Map{"wiki": route.Config.Name, "state": state, "pulls": pulls})
	}))

	api.Get("/star/*", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		pagePath := c.Params("*")
		if pagePath == "" {
			return badRequest(c, "page_path_required")
		}
		star, cached, err := deps.Service.StarContributor(c.Context(), route, caller, pagePath)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "star", caller, cached)
		return renderCached(c, cached, fiber.Map{"wiki": route.Config.Name, "path": route.PagePath(pagePath), "star": star})
	}))

	api.Get("/forks", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		forks, cached, err := deps.Service.Forks(c.Context(), route, caller)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "forks", caller, cached)
		return renderCached(c, cached, fiber.Map{"wiki": route.Config.Name, "forks": forks})
	}))

	api.Get("/branch", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		branch, cached, err := deps.Service.Branch(c.Context(), route, caller)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "branch", caller, cached)
		return renderCached(c, cached, fiber.Map{"wiki": route.Config.Name, "branch": branch})
	}))

	api.Get("/permission/:login", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		login := strings.TrimSpace(c.Params("login"))
		if login == "" {
			return badRequest(c, "login_required")
		}
		perm, cached, err := deps.Service.Permission(c.Context(), route, caller, login)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "permission", caller, cached)
		return renderCached(c, cached, fiber.Map{
			"wiki":       route.Config.Name,
			"login":      perm.User.Login,
			"permission": perm.Permission,
			"can_write":  perm.CanWrite(),
		})
	}))

	api.Get("/donators", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		donators, cached, err := deps.Service.Donators(c.Context(), route, caller)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "donators", caller, cached)
		if donators == nil {
			donators = []wiki.Donator{}
		}
		return renderCached(c, cached, fiber.Map{"wiki": route.Config.Name, "donators": donators})
	}))

	api.Get("/donators/:login", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		login := strings.TrimSpace(c.Params("login"))
		donator, cached, err := deps.Service.IsDonator(c.Context(), route, caller, login)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "donators", caller, cached)
		return renderCached(c, cached, fiber.Map{
			"wiki":    route.Config.Name,
			"login":   login,
			"donator": donator != nil,
			"entry":   donator,
		})
	}))

	api.Get("/contributors/:login/prestige", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		login := strings.TrimSpace(c.Params("login"))
		if login == "" {
			return badRequest(c, "login_required")
		}
		prestige, cached, err := deps.Service.Prestige(c.Context(), route, caller, login)
		if err != nil {
			return deps.renderUpstreamError(c, route, caller, cached, err)
		}
		deps.logRead(c, route, "prestige", caller, cached)
		return renderCached(c, cached, fiber.Map{"wiki": route.Config.Name, "prestige": prestige})
	}))

	api.Post("/edits", deps.withRoute(func(c fiber.Ctx, route *server.WikiRoute, caller server.Caller) error {
		var edit wiki.EditRequest
		if err := c.Bind().JSON(&edit); err != nil {
			return badRequest(c, "invalid_edit_payload")
		}
		pull, err := deps.Service.SubmitEdit(c.Context(), route, caller, edit)
		if err != nil {
			if errors.Is(err, wiki.ErrEditUnauthorized) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "edit_requires_token"})
			}
			return deps.renderUpstreamError(c, route, caller, false, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"wiki": route.Config.Name,
			"pull": pull,
		})
	}))
}

// withRoute 解析 :wiki 参数并注入对应的 WikiRoute，未知名称统一 404。
func (d APIDeps) withRoute(handler func(fiber.Ctx, *server.WikiRoute, server.Caller) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := c.Params("wiki")
		route, ok := d.Registry.Lookup(name)
		if !ok {
			return server.RenderWikiUnknown(c, d.Logger, name)
		}
		return handler(c, route, server.CallerFromContext(c))
	}
}

func (d APIDeps) logRead(c fiber.Ctx, route *server.WikiRoute, operation string, caller server.Caller, cached bool) {
	if d.Logger == nil {
		return
	}
	fields := logging.RequestFields(route.Config.Name, route.Config.Owner+"/"+route.Config.Repo, operation, caller.AuthMode(), cached)
	fields["request_id"] = server.RequestID(c)
	d.Logger.WithFields(fields).Debug("API 读取完成")
}

// renderUpstreamError 将上游错误映射为稳定的 HTTP 状态码。
func (d APIDeps) renderUpstreamError(c fiber.Ctx, route *server.WikiRoute, caller server.Caller, cached bool, err error) error {
	status := fiber.StatusBadGateway
	code := "upstream_error"

	switch {
	case errors.Is(err, github.ErrNotFound):
		status = fiber.StatusNotFound
		code = "not_found"
	case errors.Is(err, github.ErrRateLimited):
		status = fiber.StatusServiceUnavailable
		code = "upstream_rate_limited"
	}

	if d.Logger != nil {
		fields := logging.RequestFields(route.Config.Name, route.Config.Owner+"/"+route.Config.Repo, "", caller.AuthMode(), cached)
		fields["action"] = "upstream_error"
		fields["request_id"] = server.RequestID(c)
		d.Logger.WithError(err).WithFields(fields).Warn("上游请求失败")
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func renderCached(c fiber.Ctx, cached bool, payload fiber.Map) error {
	c.Set("X-Cache", cacheHeader(cached))
	return c.JSON(payload)
}

func cacheHeader(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}

func badRequest(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
}
