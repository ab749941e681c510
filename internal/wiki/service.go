package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/server"
	"github.com/wiki-hub/wiki-hub/internal/statstore"
)

// Service 聚合缓存、GitHub 客户端与持久层，对路由层暴露领域操作。
type Service struct {
	store    *cache.Memory
	content  cache.ContentStore
	gh       *github.Client
	stats    *statstore.Store
	identity *cache.IdentityTracker
	metrics  *cache.Metrics
	logger   *logrus.Logger
	group    singleflight.Group
}

// Options 列出构建 Service 的依赖。Content/Stats 可为空（相应能力降级）。
type Options struct {
	Store    *cache.Memory
	Content  cache.ContentStore
	GitHub   *github.Client
	Stats    *statstore.Store
	Identity *cache.IdentityTracker
	Metrics  *cache.Metrics
	Logger   *logrus.Logger
}

// NewService 校验依赖并构建 Service。
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.GitHub == nil {
		return nil, errors.New("github client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		store:    opts.Store,
		content:  opts.Content,
		gh:       opts.GitHub,
		stats:    opts.Stats,
		identity: opts.Identity,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}, nil
}

// fetchCached 是所有读取操作共用的骨架：TTL 缓存 → singleflight 合并回源 →
// 填充缓存。返回值第二项表示是否来自缓存。合并到同一 in-flight 请求的
// 调用方共享 leader 的结果；所有读取端点均为只读数据，共享无副作用。
func fetchCached[T any](ctx context.Context, s *Service, bucket cache.Bucket, key string, caller server.Caller, fn func(context.Context) (T, error)) (T, bool, error) {
	if value, ok := s.store.Get(bucket, key, caller.Authenticated); ok {
		if typed, ok := value.(T); ok {
			return typed, true, nil
		}
		// 类型不符说明键冲突，按未命中处理并覆盖。
		s.store.Delete(bucket, key)
	}

	// leader 标记只会在执行回源闭包的那一次调用里被置位，
	// 借此把搭上同一 in-flight 请求的跟随者与发起者区分开。
	sfKey := string(bucket) + "::" + key
	leader := false
	result, err, _ := s.group.Do(sfKey, func() (any, error) {
		leader = true
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		s.store.Put(bucket, key, value)
		return value, nil
	})
	if !leader {
		s.metrics.Coalesced(bucket)
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return result.(T), false, nil
}

// Pulls 返回 wiki 仓库的 PR 列表。state 取 open/closed/all。
func (s *Service) Pulls(ctx context.Context, route *server.WikiRoute, caller server.Caller, state string) ([]github.PullRequest, bool, error) {
	if state == "" {
		state = "open"
	}
	key := cache.Key(route.Config.Name, "pulls", state)
	pulls, hit, err := fetchCached(ctx, s, cache.BucketPulls, key, caller, func(ctx context.Context) ([]github.PullRequest, error) {
		return s.gh.ListPulls(ctx, caller.Token, route.Config.Owner, route.Config.Repo, state)
	})
	if err == nil && !hit {
		s.observePullAuthors(pulls)
	}
	return pulls, hit, err
}

// PullsByAuthor 返回指定作者的 PR。键中作者独立成段，用户名变更时可被精确清除。
func (s *Service) PullsByAuthor(ctx context.Context, route *server.WikiRoute, caller server.Caller, state, author string) ([]github.PullRequest, bool, error) {
	if state == "" {
		state = "open"
	}
	key := cache.Key(route.Config.Name, "pulls", state, author)
	return fetchCached(ctx, s, cache.BucketPulls, key, caller, func(ctx context.Context) ([]github.PullRequest, error) {
		all, err := s.gh.ListPulls(ctx, caller.Token, route.Config.Owner, route.Config.Repo, state)
		if err != nil {
			return nil, err
		}
		s.observePullAuthors(all)
		filtered := make([]github.PullRequest, 0, len(all))
		for _, pull := range all {
			if pull.User.Login == author {
				filtered = append(filtered, pull)
			}
		}
		return filtered, nil
	})
}

// History 返回单个页面的提交历史。
func (s *Service) History(ctx context.Context, route *server.WikiRoute, caller server.Caller, requestPath string) ([]github.Commit, bool, error) {
	repoPath := route.PagePath(requestPath)
	key := cache.Key(route.Config.Name, "history", repoPath)
	return fetchCached(ctx, s, cache.BucketCommits, key, caller, func(ctx context.Context) ([]github.Commit, error) {
		return s.gh.ListCommits(ctx, caller.Token, route.Config.Owner, route.Config.Repo, repoPath, route.Config.Branch, "")
	})
}

// Branch 返回 wiki 绑定分支的头部状态。
func (s *Service) Branch(ctx context.Context, route *server.WikiRoute, caller server.Caller) (*github.Branch, bool, error) {
	key := cache.Key(route.Config.Name, "branch", route.Config.Branch)
	return fetchCached(ctx, s, cache.BucketBranches, key, caller, func(ctx context.Context) (*github.Branch, error) {
		return s.gh.GetBranch(ctx, caller.Token, route.Config.Owner, route.Config.Repo, route.Config.Branch)
	})
}

// Permission 返回指定用户对 wiki 仓库的协作权限。键中登录名独立成段。
func (s *Service) Permission(ctx context.Context, route *server.WikiRoute, caller server.Caller, login string) (*github.Permission, bool, error) {
	key := cache.Key(route.Config.Name, login)
	perm, hit, err := fetchCached(ctx, s, cache.BucketPermissions, key, caller, func(ctx context.Context) (*github.Permission, error) {
		return s.gh.GetPermission(ctx, caller.Token, route.Config.Owner, route.Config.Repo, login)
	})
	if err == nil && !hit && s.identity != nil {
		s.identity.Observe(perm.User.ID, perm.User.Login)
	}
	return perm, hit, err
}

// Forks 返回 wiki 仓库的 fork 列表。
func (s *Service) Forks(ctx context.Context, route *server.WikiRoute, caller server.Caller) ([]github.Fork, bool, error) {
	key := cache.Key(route.Config.Name, "forks")
	return fetchCached(ctx, s, cache.BucketForks, key, caller, func(ctx context.Context) ([]github.Fork, error) {
		return s.gh.ListForks(ctx, caller.Token, route.Config.Owner, route.Config.Repo)
	})
}

// PageResult 描述一次页面读取结果。
type PageResult struct {
	WikiName   string    `json:"wiki"`
	Path       string    `json:"path"`
	Body       []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}

// Page 返回页面正文。三级查找：内存 TTL 缓存 → 磁盘正文缓存 → 上游。
// 磁盘命中会回填内存缓存；上游命中同时写入两层。
func (s *Service) Page(ctx context.Context, route *server.WikiRoute, caller server.Caller, requestPath string) (*PageResult, bool, error) {
	repoPath := route.PagePath(requestPath)
	key := cache.Key(route.Config.Name, repoPath)
	ttl := route.ContentTTL.For(caller.Authenticated)

	if value, ok := s.store.GetWithTTL(cache.BucketContent, key, ttl); ok {
		if result, ok := value.(*PageResult); ok {
			return result, true, nil
		}
		s.store.Delete(cache.BucketContent, key)
	}

	if result := s.pageFromDisk(ctx, route, repoPath, ttl); result != nil {
		s.store.Put(cache.BucketContent, key, result)
		return result, true, nil
	}

	sfKey := string(cache.BucketContent) + "::" + key
	leader := false
	fetched, err, _ := s.group.Do(sfKey, func() (any, error) {
		leader = true
		body, err := s.gh.GetRawContent(ctx, caller.Token, route.Config.Owner, route.Config.Repo, repoPath, route.Config.Branch)
		if err != nil {
			return nil, err
		}
		result := &PageResult{
			WikiName:   route.Config.Name,
			Path:       repoPath,
			Body:       body,
			CapturedAt: time.Now().UTC(),
		}
		s.store.Put(cache.BucketContent, key, result)
		s.persistPage(ctx, route, repoPath, result)
		return result, nil
	})
	if !leader {
		s.metrics.Coalesced(cache.BucketContent)
	}
	if err != nil {
		return nil, false, err
	}
	return fetched.(*PageResult), false, nil
}

// pageFromDisk 在 TTL 范围内读取磁盘正文，失败一律按未命中处理。
func (s *Service) pageFromDisk(ctx context.Context, route *server.WikiRoute, repoPath string, ttl time.Duration) *PageResult {
	if s.content == nil || ttl <= 0 {
		return nil
	}

	locator := cache.ContentLocator{WikiName: route.Config.Name, Path: repoPath}
	result, err := s.content.Get(ctx, locator)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "content_disk_read",
				"wiki":   route.Config.Name,
			}).Warn("磁盘正文读取失败")
		}
		return nil
	}
	defer result.Reader.Close()

	if time.Since(result.Entry.CapturedAt) >= ttl {
		return nil
	}

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		return nil
	}
	return &PageResult{
		WikiName:   route.Config.Name,
		Path:       repoPath,
		Body:       body,
		CapturedAt: result.Entry.CapturedAt,
	}
}

func (s *Service) persistPage(ctx context.Context, route *server.WikiRoute, repoPath string, result *PageResult) {
	if s.content == nil {
		return
	}
	locator := cache.ContentLocator{WikiName: route.Config.Name, Path: repoPath}
	if _, err := s.content.Put(ctx, locator, bytes.NewReader(result.Body), result.CapturedAt); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "content_disk_write",
			"wiki":   route.Config.Name,
		}).Warn("磁盘正文写入失败")
	}
}

// Donator 是捐赠者名单中的一行，名单以 JSON 文件形式存放在仓库中。
type Donator struct {
	Login string `json:"login"`
	Tier  string `json:"tier"`
	Since string `json:"since"`
}

// Donators 返回捐赠者名单。未配置名单文件的 wiki 返回空列表。
func (s *Service) Donators(ctx context.Context, route *server.WikiRoute, caller server.Caller) ([]Donator, bool, error) {
	if route.Config.DonatorsFile == "" {
		return nil, false, nil
	}
	key := cache.Key(route.Config.Name, "donators")
	return fetchCached(ctx, s, cache.BucketDonators, key, caller, func(ctx context.Context) ([]Donator, error) {
		body, err := s.gh.GetRawContent(ctx, caller.Token, route.Config.Owner, route.Config.Repo, route.Config.DonatorsFile, route.Config.Branch)
		if err != nil {
			if errors.Is(err, github.ErrNotFound) {
				// 名单文件尚未创建不算错误。
				return []Donator{}, nil
			}
			return nil, err
		}
		return parseDonators(body)
	})
}

// IsDonator 查询单个用户的捐赠状态。
func (s *Service) IsDonator(ctx context.Context, route *server.WikiRoute, caller server.Caller, login string) (*Donator, bool, error) {
	donators, hit, err := s.Donators(ctx, route, caller)
	if err != nil {
		return nil, hit, err
	}
	for i := range donators {
		if donators[i].Login == login {
			return &donators[i], hit, nil
		}
	}
	return nil, hit, nil
}

// InvalidateAfterEdit 在页面编辑成功后清除相关缓存，保证后续读取回源。
func (s *Service) InvalidateAfterEdit(ctx context.Context, route *server.WikiRoute, repoPath string) {
	s.store.PurgeBucket(cache.BucketPulls)
	s.store.Delete(cache.BucketContent, cache.Key(route.Config.Name, repoPath))
	s.store.Delete(cache.BucketCommits, cache.Key(route.Config.Name, "history", repoPath))
	if s.content != nil {
		locator := cache.ContentLocator{WikiName: route.Config.Name, Path: repoPath}
		if err := s.content.Remove(ctx, locator); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "content_disk_remove",
				"wiki":   route.Config.Name,
			}).Warn("磁盘正文删除失败")
		}
	}
}

// observePullAuthors 将 PR 作者送入用户名变更检测。
func (s *Service) observePullAuthors(pulls []github.PullRequest) {
	if s.identity == nil {
		return
	}
	for _, pull := range pulls {
		s.identity.Observe(pull.User.ID, pull.User.Login)
	}
}

func parseDonators(body []byte) ([]Donator, error) {
	var donators []Donator
	if err := json.Unmarshal(body, &donators); err != nil {
		return nil, fmt.Errorf("解析捐赠者名单失败: %w", err)
	}
	return donators, nil
}
