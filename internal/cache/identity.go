package cache

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// IdentityTracker 记录 GitHub 用户数字 ID 到最近一次观察到的登录名的映射。
// 用户改名后，按旧登录名缓存的权限与 PR 条目全部失效，必须立刻清除，
// 否则改名用户会拿到别人（或自己旧身份）的缓存结果。
type IdentityTracker struct {
	mu        sync.Mutex
	lastLogin map[int64]string
	store     *Memory
	logger    *logrus.Logger
}

// NewIdentityTracker 构建跟踪器，store 不能为空。
func NewIdentityTracker(store *Memory, logger *logrus.Logger) *IdentityTracker {
	return &IdentityTracker{
		lastLogin: make(map[int64]string),
		store:     store,
		logger:    logger,
	}
}

// Observe 登记一次 (id, login) 观察结果。检测到登录名变化时，
// 清除 permissions 与 pulls 分区中以旧登录名为键段的条目，返回是否发生清除。
// id 为零（API 未返回 ID）或 login 为空时不做任何事。
func (t *IdentityTracker) Observe(id int64, login string) bool {
	if id == 0 || login == "" {
		return false
	}

	t.mu.Lock()
	previous, seen := t.lastLogin[id]
	t.lastLogin[id] = login
	t.mu.Unlock()

	if !seen || previous == login {
		return false
	}

	permissions := t.store.PurgeSegment(BucketPermissions, previous)
	pulls := t.store.PurgeSegment(BucketPulls, previous)

	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"action":             "identity_rename",
			"user_id":            id,
			"previous_login":     previous,
			"login":              login,
			"purged_permissions": permissions,
			"purged_pulls":       pulls,
		}).Info("检测到用户名变更，已清除旧登录名缓存")
	}
	return true
}

// Known 返回指定用户 ID 最近一次观察到的登录名。
func (t *IdentityTracker) Known(id int64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	login, ok := t.lastLogin[id]
	return login, ok
}
