package cache

import (
	"strings"
	"time"
)

// Bucket 标识一类 GitHub 数据的逻辑分区，TTL 策略按分区配置。
type Bucket string

const (
	BucketPulls       Bucket = "pulls"
	BucketBranches    Bucket = "branches"
	BucketPermissions Bucket = "permissions"
	BucketForks       Bucket = "forks"
	BucketCommits     Bucket = "commits"
	BucketStar        Bucket = "star"
	BucketDonators    Bucket = "donators"
	BucketContent     Bucket = "content"
)

// Buckets 返回所有分区，顺序固定，供清扫器与诊断端遍历。
func Buckets() []Bucket {
	return []Bucket{
		BucketPulls,
		BucketBranches,
		BucketPermissions,
		BucketForks,
		BucketCommits,
		BucketStar,
		BucketDonators,
		BucketContent,
	}
}

// TTLProfile 描述一个分区在已登录/匿名两种读取状态下的有效期。
// 已登录用户通常配置更短的 TTL，以便尽快看到自己刚提交的改动。
type TTLProfile struct {
	Auth time.Duration
	Anon time.Duration
}

// For 返回指定鉴权状态下生效的 TTL。
func (p TTLProfile) For(authenticated bool) time.Duration {
	if authenticated {
		return p.Auth
	}
	return p.Anon
}

// Max 返回该分区任何读取方式可能使用的最大 TTL，清扫器以此为保守淘汰界限。
func (p TTLProfile) Max() time.Duration {
	if p.Auth > p.Anon {
		return p.Auth
	}
	return p.Anon
}

// Policy 将分区映射到 TTLProfile。缺失的分区按零值处理（等价于不缓存）。
type Policy map[Bucket]TTLProfile

// DefaultPolicy 返回内置 TTL 策略。数值沿用上游前端的经验值：
// 列表类数据（PR、提交）刷新快，计算类数据（star、donator）刷新慢。
func DefaultPolicy() Policy {
	return Policy{
		BucketPulls:       {Auth: time.Minute, Anon: 5 * time.Minute},
		BucketBranches:    {Auth: 10 * time.Minute, Anon: 30 * time.Minute},
		BucketPermissions: {Auth: 15 * time.Minute, Anon: time.Hour},
		BucketForks:       {Auth: 10 * time.Minute, Anon: 30 * time.Minute},
		BucketCommits:     {Auth: 5 * time.Minute, Anon: 15 * time.Minute},
		BucketStar:        {Auth: 30 * time.Minute, Anon: 2 * time.Hour},
		BucketDonators:    {Auth: time.Hour, Anon: 6 * time.Hour},
		BucketContent:     {Auth: 5 * time.Minute, Anon: 30 * time.Minute},
	}
}

// Profile 返回指定分区的策略，未配置时为零值。
func (p Policy) Profile(bucket Bucket) TTLProfile {
	if p == nil {
		return TTLProfile{}
	}
	return p[bucket]
}

// WithOverride 返回覆盖指定分区后的新 Policy，原 Policy 不被修改。
func (p Policy) WithOverride(bucket Bucket, profile TTLProfile) Policy {
	result := make(Policy, len(p)+1)
	for k, v := range p {
		result[k] = v
	}
	result[bucket] = profile
	return result
}

const keySeparator = "::"

// Key 将若干段拼成缓存键，段与段之间使用 :: 分隔。
// 约定：凡是按用户名区分的条目，用户名必须独立成段，
// 以便 PurgeSegment 在用户改名时能够精确清除。
func Key(parts ...string) string {
	return strings.Join(parts, keySeparator)
}

// keySegments 将缓存键拆回各段。
func keySegments(key string) []string {
	return strings.Split(key, keySeparator)
}
