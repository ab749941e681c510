package wiki

import (
	"context"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/server"
)

// PrestigeTier 是贡献统计映射出的徽章级别。
type PrestigeTier string

const (
	PrestigeNone     PrestigeTier = "none"
	PrestigeBronze   PrestigeTier = "bronze"
	PrestigeSilver   PrestigeTier = "silver"
	PrestigeGold     PrestigeTier = "gold"
	PrestigePlatinum PrestigeTier = "platinum"
)

// 各级别的加权分门槛。
const (
	silverThreshold   = 250
	goldThreshold     = 1000
	platinumThreshold = 5000
)

// Prestige 描述一个用户在整个 wiki 上的累计贡献与对应徽章。
type Prestige struct {
	Login     string       `json:"login"`
	UserID    int64        `json:"user_id"`
	AvatarURL string       `json:"avatar_url,omitempty"`
	Tier      PrestigeTier `json:"tier"`
	Score     int64        `json:"score"`
	Commits   int          `json:"commits"`
}

// Prestige 统计指定用户在 wiki 仓库全部历史中的提交并换算徽章级别。
// 先查用户档案：不存在的登录名直接返回 ErrNotFound，数字 ID 同时送入
// 用户名变更检测。结果按登录名独立成段缓存在 star 分区（同属计算类
// 数据，共享慢 TTL）。
func (s *Service) Prestige(ctx context.Context, route *server.WikiRoute, caller server.Caller, login string) (*Prestige, bool, error) {
	key := cache.Key(route.Config.Name, "prestige", login)
	return fetchCached(ctx, s, cache.BucketStar, key, caller, func(ctx context.Context) (*Prestige, error) {
		user, err := s.gh.GetUser(ctx, caller.Token, login)
		if err != nil {
			return nil, err
		}
		if s.identity != nil {
			s.identity.Observe(user.ID, user.Login)
		}

		commits, err := s.gh.ListCommits(ctx, caller.Token, route.Config.Owner, route.Config.Repo, "", route.Config.Branch, login)
		if err != nil {
			return nil, err
		}

		score := int64(len(commits)) * commitWeight
		return &Prestige{
			Login:     user.Login,
			UserID:    user.ID,
			AvatarURL: user.AvatarURL,
			Tier:      tierForScore(score, len(commits)),
			Score:     score,
			Commits:   len(commits),
		}, nil
	})
}

// tierForScore 将累计分映射到徽章级别，没有任何提交的用户不授徽章。
func tierForScore(score int64, commits int) PrestigeTier {
	switch {
	case commits == 0:
		return PrestigeNone
	case score >= platinumThreshold:
		return PrestigePlatinum
	case score >= goldThreshold:
		return PrestigeGold
	case score >= silverThreshold:
		return PrestigeSilver
	default:
		return PrestigeBronze
	}
}
