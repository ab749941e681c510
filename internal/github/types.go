package github

import "time"

// User 是 GitHub 用户的最小投影，数字 ID 用于用户名变更检测。
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// PullRequest 描述一个 PR 列表条目。
type PullRequest struct {
	Number    int       `json:"number"`
	State     string    `json:"state"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Head      PullRef   `json:"head"`
	Base      PullRef   `json:"base"`
}

// PullRef 描述 PR 的 head/base 引用。
type PullRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// Commit 描述提交列表条目，页面历史与贡献统计共用。
type Commit struct {
	SHA     string       `json:"sha"`
	Commit  CommitInfo   `json:"commit"`
	Author  *User        `json:"author"`
	Stats   *CommitStats `json:"stats,omitempty"`
	HTMLURL string       `json:"html_url"`
}

// CommitInfo 是 git 层的提交元数据。
type CommitInfo struct {
	Message string       `json:"message"`
	Author  CommitAuthor `json:"author"`
}

// CommitAuthor 记录 git author 的签名信息。
type CommitAuthor struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// CommitStats 是单个提交的增删行数，仅在提交详情接口返回。
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

// Branch 描述分支及其最新提交。
type Branch struct {
	Name      string    `json:"name"`
	Commit    BranchRef `json:"commit"`
	Protected bool      `json:"protected"`
}

// BranchRef 只保留分支头部 SHA。
type BranchRef struct {
	SHA string `json:"sha"`
}

// Permission 是 collaborator permission 接口的返回结构。
type Permission struct {
	Permission string `json:"permission"`
	User       User   `json:"user"`
}

// CanWrite 表示该权限级别是否允许直接推送。
func (p Permission) CanWrite() bool {
	return p.Permission == "admin" || p.Permission == "maintain" || p.Permission == "write"
}

// Fork 描述一个 fork 仓库。
type Fork struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Owner    User   `json:"owner"`
	HTMLURL  string `json:"html_url"`
}

// Content 是 contents 接口 JSON 形式的返回（写路径需要 SHA 做乐观并发控制）。
type Content struct {
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int    `json:"size"`
}

// RateLimit 记录最近一次响应携带的速率配额信息。
type RateLimit struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}
