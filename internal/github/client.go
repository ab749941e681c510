package github

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/config"
)

// 提交历史分页上限：星级贡献者统计最多回看 3 页 × 100 条提交。
const (
	commitsPerPage = 100
	maxCommitPages = 3
)

// acceptJSON/acceptRaw 是 contents 接口的两种媒体类型。
const (
	acceptJSON = "application/vnd.github+json"
	acceptRaw  = "application/vnd.github.raw"
)

// Client 封装 wiki 前端依赖的 GitHub REST 子集。所有读取接口都带 ETag
// 条件请求：304 复用上次正文，不额外消耗响应带宽（仍计入速率配额的
// 豁免名单之外的调用会返回新的配额头）。
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	userAgent      string
	maxRetries     int
	initialBackoff time.Duration
	logger         *logrus.Logger
	metrics        *cache.Metrics

	etags sync.Map // key: tokenHash+URL, value: conditionalEntry

	rateMu sync.Mutex
	rate   RateLimit
}

type conditionalEntry struct {
	etag string
	body []byte
}

// NewClient 基于配置构建客户端。httpClient 为空时退回 NewHTTPClient 的共享实例。
func NewClient(cfg config.GitHubConfig, httpClient *http.Client, logger *logrus.Logger, metrics *cache.Metrics) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg)
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
		token:          strings.TrimSpace(cfg.Token),
		userAgent:      cfg.UserAgent,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff.DurationValue(),
		logger:         logger,
		metrics:        metrics,
	}
}

// HasServerToken 表示是否配置了服务端 Token。
func (c *Client) HasServerToken() bool {
	return c.token != ""
}

// LastRateLimit 返回最近一次响应携带的速率配额。
func (c *Client) LastRateLimit() RateLimit {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	return c.rate
}

// ListPulls 拉取 PR 列表。state 取 open/closed/all。
func (c *Client) ListPulls(ctx context.Context, token, owner, repo, state string) ([]PullRequest, error) {
	query := url.Values{"state": {state}, "per_page": {"100"}}
	body, _, err := c.get(ctx, "pulls", token, c.repoPath(owner, repo, "pulls"), query, acceptJSON)
	if err != nil {
		return nil, err
	}
	var pulls []PullRequest
	if err := json.Unmarshal(body, &pulls); err != nil {
		return nil, fmt.Errorf("decode pulls: %w", err)
	}
	return pulls, nil
}

// ListCommits 拉取提交列表。path 非空时限定到单个文件，author 非空时限定作者，
// 自动跟随 Link 分页直到上限。
func (c *Client) ListCommits(ctx context.Context, token, owner, repo, path, ref, author string) ([]Commit, error) {
	query := url.Values{"per_page": {strconv.Itoa(commitsPerPage)}}
	if path != "" {
		query.Set("path", path)
	}
	if ref != "" {
		query.Set("sha", ref)
	}
	if author != "" {
		query.Set("author", author)
	}

	endpoint := c.repoPath(owner, repo, "commits")
	var all []Commit
	for page := 1; page <= maxCommitPages; page++ {
		query.Set("page", strconv.Itoa(page))
		body, header, err := c.get(ctx, "commits", token, endpoint, query, acceptJSON)
		if err != nil {
			return nil, err
		}
		var commits []Commit
		if err := json.Unmarshal(body, &commits); err != nil {
			return nil, fmt.Errorf("decode commits: %w", err)
		}
		all = append(all, commits...)
		if len(commits) < commitsPerPage || !hasNextPage(header) {
			break
		}
	}
	return all, nil
}

// GetCommit 拉取单个提交详情，包含增删行数统计。
func (c *Client) GetCommit(ctx context.Context, token, owner, repo, sha string) (*Commit, error) {
	body, _, err := c.get(ctx, "commit", token, c.repoPath(owner, repo, "commits", sha), nil, acceptJSON)
	if err != nil {
		return nil, err
	}
	var commit Commit
	if err := json.Unmarshal(body, &commit); err != nil {
		return nil, fmt.Errorf("decode commit: %w", err)
	}
	return &commit, nil
}

// GetRawContent 以 raw 媒体类型拉取文件正文。
func (c *Client) GetRawContent(ctx context.Context, token, owner, repo, path, ref string) ([]byte, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	body, _, err := c.get(ctx, "content", token, c.repoPath(owner, repo, "contents", path), query, acceptRaw)
	return body, err
}

// GetContentMeta 以 JSON 媒体类型拉取文件元数据（写路径需要 blob SHA）。
func (c *Client) GetContentMeta(ctx context.Context, token, owner, repo, path, ref string) (*Content, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	body, _, err := c.get(ctx, "content_meta", token, c.repoPath(owner, repo, "contents", path), query, acceptJSON)
	if err != nil {
		return nil, err
	}
	var content Content
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("decode content meta: %w", err)
	}
	return &content, nil
}

// GetBranch 拉取分支及头部提交。
func (c *Client) GetBranch(ctx context.Context, token, owner, repo, branch string) (*Branch, error) {
	body, _, err := c.get(ctx, "branch", token, c.repoPath(owner, repo, "branches", branch), nil, acceptJSON)
	if err != nil {
		return nil, err
	}
	var result Branch
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode branch: %w", err)
	}
	return &result, nil
}

// GetPermission 查询协作者权限级别。
func (c *Client) GetPermission(ctx context.Context, token, owner, repo, login string) (*Permission, error) {
	body, _, err := c.get(ctx, "permission", token, c.repoPath(owner, repo, "collaborators", login, "permission"), nil, acceptJSON)
	if err != nil {
		return nil, err
	}
	var perm Permission
	if err := json.Unmarshal(body, &perm); err != nil {
		return nil, fmt.Errorf("decode permission: %w", err)
	}
	return &perm, nil
}

// ListForks 拉取 fork 列表。
func (c *Client) ListForks(ctx context.Context, token, owner, repo string) ([]Fork, error) {
	query := url.Values{"per_page": {"100"}}
	body, _, err := c.get(ctx, "forks", token, c.repoPath(owner, repo, "forks"), query, acceptJSON)
	if err != nil {
		return nil, err
	}
	var forks []Fork
	if err := json.Unmarshal(body, &forks); err != nil {
		return nil, fmt.Errorf("decode forks: %w", err)
	}
	return forks, nil
}

// GetUser 查询用户档案。
func (c *Client) GetUser(ctx context.Context, token, login string) (*User, error) {
	body, _, err := c.get(ctx, "user", token, "/users/"+url.PathEscape(login), nil, acceptJSON)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// CreateBranchRef 在 base SHA 上创建新分支引用。
func (c *Client) CreateBranchRef(ctx context.Context, token, owner, repo, branch, sha string) error {
	payload := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	_, err := c.send(ctx, "create_ref", token, http.MethodPost, c.repoPath(owner, repo, "git", "refs"), payload)
	return err
}

// PutFile 通过 contents 接口创建或更新文件。更新已有文件时必须携带其 blob SHA。
func (c *Client) PutFile(ctx context.Context, token, owner, repo, path, branch, message string, content []byte, previousSHA string) error {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  branch,
	}
	if previousSHA != "" {
		payload["sha"] = previousSHA
	}
	_, err := c.send(ctx, "put_file", token, http.MethodPut, c.repoPath(owner, repo, "contents", path), payload)
	return err
}

// CreatePull 创建 PR 并返回创建结果。
func (c *Client) CreatePull(ctx context.Context, token, owner, repo, title, body, head, base string) (*PullRequest, error) {
	payload := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	respBody, err := c.send(ctx, "create_pull", token, http.MethodPost, c.repoPath(owner, repo, "pulls"), payload)
	if err != nil {
		return nil, err
	}
	var pull PullRequest
	if err := json.Unmarshal(respBody, &pull); err != nil {
		return nil, fmt.Errorf("decode created pull: %w", err)
	}
	return &pull, nil
}

func (c *Client) repoPath(owner, repo string, parts ...string) string {
	segments := append([]string{"repos", owner, repo}, parts...)
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		// contents 路径可能含斜杠，按段转义后重新拼接。
		sub := strings.Split(segment, "/")
		for j, s := range sub {
			sub[j] = url.PathEscape(s)
		}
		escaped[i] = strings.Join(sub, "/")
	}
	return "/" + strings.Join(escaped, "/")
}

// get 执行带重试与 ETag 条件逻辑的 GET。返回响应正文与头部。
func (c *Client) get(ctx context.Context, endpoint, token, path string, query url.Values, accept string) ([]byte, http.Header, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	effectiveToken := c.effectiveToken(token)
	cacheKey := tokenHash(effectiveToken) + "::" + accept + "::" + fullURL

	var lastErr error
	backoff := c.initialBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, nil, err
		}
		c.decorate(req, effectiveToken, accept)
		if cached, ok := c.etags.Load(cacheKey); ok {
			req.Header.Set("If-None-Match", cached.(conditionalEntry).etag)
		}

		c.metrics.APICall(endpoint)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, header, err := c.consume(endpoint, cacheKey, resp)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 500 {
				lastErr = err
				continue
			}
			return nil, nil, err
		}
		return body, header, nil
	}
	return nil, nil, fmt.Errorf("github: %s failed after retries: %w", endpoint, lastErr)
}

// consume 读取响应并应用 304/404/403 语义。
func (c *Client) consume(endpoint, cacheKey string, resp *http.Response) ([]byte, http.Header, error) {
	defer resp.Body.Close()
	c.recordRateLimit(resp.Header)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if cached, ok := c.etags.Load(cacheKey); ok {
			return cached.(conditionalEntry).body, resp.Header, nil
		}
		// ETag 映射在 304 前被并发替换，回退为错误让上层重试。
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: "not modified without cached body", Endpoint: endpoint}
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, fmt.Errorf("%s: %w", endpoint, ErrNotFound)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		if c.LastRateLimit().Remaining == 0 {
			return nil, nil, fmt.Errorf("%s: %w", endpoint, ErrRateLimited)
		}
		fallthrough
	case resp.StatusCode >= 400:
		return nil, nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiMessage(resp.Body),
			Endpoint:   endpoint,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		c.etags.Store(cacheKey, conditionalEntry{etag: etag, body: body})
	}
	return body, resp.Header, nil
}

// send 执行 JSON 写请求（POST/PUT），不做重试：写操作不保证幂等。
func (c *Client) send(ctx context.Context, endpoint, token, method, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	c.decorate(req, c.effectiveToken(token), acceptJSON)
	req.Header.Set("Content-Type", "application/json")

	c.metrics.APICall(endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.recordRateLimit(resp.Header)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", endpoint, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiMessage(resp.Body),
			Endpoint:   endpoint,
		}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) decorate(req *http.Request, token, accept string) {
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// effectiveToken 优先使用调用方转发的 Token，回退到服务端 Token。
func (c *Client) effectiveToken(override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return c.token
}

func (c *Client) recordRateLimit(header http.Header) {
	remaining, err := strconv.Atoi(header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(header.Get("X-RateLimit-Limit"))
	var resetAt time.Time
	if resetUnix, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		resetAt = time.Unix(resetUnix, 0)
	}

	c.rateMu.Lock()
	c.rate = RateLimit{Remaining: remaining, Limit: limit, ResetAt: resetAt}
	c.rateMu.Unlock()

	if c.logger != nil && remaining > 0 && remaining <= 50 {
		c.logger.WithFields(logrus.Fields{
			"action":    "rate_limit_low",
			"remaining": remaining,
			"reset_at":  resetAt.Format(time.RFC3339),
		}).Warn("GitHub 速率配额即将耗尽")
	}
}

func apiMessage(body io.Reader) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil || payload.Message == "" {
		return "unexpected response"
	}
	return payload.Message
}

func hasNextPage(header http.Header) bool {
	return strings.Contains(header.Get("Link"), `rel="next"`)
}

func tokenHash(token string) string {
	if token == "" {
		return "anon"
	}
	sum := sha1.Sum([]byte(token))
	return hex.EncodeToString(sum[:8])
}
