package wiki

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/server"
	"github.com/wiki-hub/wiki-hub/internal/statstore"
)

// 加权编辑分：每个提交记 commitWeight 分，再加增删行数（单提交封顶
// diffCapPerCommit，防止一次性大规模迁移提交碾压长期维护者）。
const (
	commitWeight     = 25
	diffCapPerCommit = 500
)

// 星级结果持久化的最长存活时间，head 变化时立即失效。
const starRecordTTL = 7 * 24 * time.Hour

// StarContributor 是某个页面加权编辑分最高的贡献者。
type StarContributor struct {
	Login     string `json:"login"`
	UserID    int64  `json:"user_id"`
	Score     int64  `json:"score"`
	Commits   int    `json:"commits"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// StarContributor 计算页面的星级贡献者。按页面历史 head 提交做持久化：
// head 未变化时直接复用 SQLite 中的结果，避免逐提交拉取 diff 统计。
func (s *Service) StarContributor(ctx context.Context, route *server.WikiRoute, caller server.Caller, requestPath string) (*StarContributor, bool, error) {
	repoPath := route.PagePath(requestPath)
	key := cache.Key(route.Config.Name, "star", repoPath)

	return fetchCached(ctx, s, cache.BucketStar, key, caller, func(ctx context.Context) (*StarContributor, error) {
		commits, err := s.gh.ListCommits(ctx, caller.Token, route.Config.Owner, route.Config.Repo, repoPath, route.Config.Branch, "")
		if err != nil {
			return nil, err
		}
		if len(commits) == 0 {
			return nil, nil
		}
		head := commits[0].SHA

		if record, ok, err := s.stats.GetStar(route.Config.Name, repoPath, head); err == nil && ok {
			return &StarContributor{
				Login:     record.Login,
				UserID:    record.UserID,
				Score:     record.Score,
				Commits:   record.Commits,
				Additions: record.Additions,
				Deletions: record.Deletions,
			}, nil
		} else if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "star_stats_read",
				"wiki":   route.Config.Name,
			}).Warn("读取星级持久缓存失败")
		}

		star, err := s.computeStar(ctx, route, caller, commits)
		if err != nil {
			return nil, err
		}
		if star == nil {
			return nil, nil
		}

		if err := s.stats.PutStar(statstore.StarRecord{
			Wiki:      route.Config.Name,
			Page:      repoPath,
			HeadSHA:   head,
			Login:     star.Login,
			UserID:    star.UserID,
			Score:     star.Score,
			Commits:   star.Commits,
			Additions: star.Additions,
			Deletions: star.Deletions,
		}, starRecordTTL); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "star_stats_write",
				"wiki":   route.Config.Name,
			}).Warn("写入星级持久缓存失败")
		}
		return star, nil
	})
}

// computeStar 逐提交累计加权编辑分并挑出最高者。
// 平分时提交数多者优先，再按登录名字典序保证结果稳定。
func (s *Service) computeStar(ctx context.Context, route *server.WikiRoute, caller server.Caller, commits []github.Commit) (*StarContributor, error) {
	totals := make(map[string]*StarContributor)

	for _, commit := range commits {
		if commit.Author == nil || commit.Author.Login == "" {
			// 未关联 GitHub 账号的提交（纯 git 签名）不参与评分。
			continue
		}
		login := commit.Author.Login
		if s.identity != nil {
			s.identity.Observe(commit.Author.ID, login)
		}

		total := totals[login]
		if total == nil {
			total = &StarContributor{Login: login, UserID: commit.Author.ID}
			totals[login] = total
		}
		total.Commits++
		total.Score += commitWeight

		stats := commit.Stats
		if stats == nil {
			detail, err := s.gh.GetCommit(ctx, caller.Token, route.Config.Owner, route.Config.Repo, commit.SHA)
			if err != nil {
				return nil, err
			}
			stats = detail.Stats
		}
		if stats != nil {
			diff := stats.Additions + stats.Deletions
			if diff > diffCapPerCommit {
				diff = diffCapPerCommit
			}
			total.Score += int64(diff)
			total.Additions += stats.Additions
			total.Deletions += stats.Deletions
		}
	}

	if len(totals) == 0 {
		return nil, nil
	}

	ranked := make([]*StarContributor, 0, len(totals))
	for _, total := range totals {
		ranked = append(ranked, total)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Commits != ranked[j].Commits {
			return ranked[i].Commits > ranked[j].Commits
		}
		return ranked[i].Login < ranked[j].Login
	})
	return ranked[0], nil
}
