package wiki

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/server"
)

// EditRequest 描述一次页面编辑提交。编辑方必须携带自己的 Token，
// hub 不会用服务端 Token 替用户署名。
type EditRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// ErrEditUnauthorized 表示编辑请求未携带调用方 Token。
var ErrEditUnauthorized = errors.New("wiki: edits require a caller token")

// SubmitEdit 执行编辑 → PR 流程：基于绑定分支头部开新分支，通过 contents
// 接口提交改动，再开 PR 指回绑定分支。成功后清除相关缓存条目。
func (s *Service) SubmitEdit(ctx context.Context, route *server.WikiRoute, caller server.Caller, edit EditRequest) (*github.PullRequest, error) {
	if !caller.Authenticated {
		return nil, ErrEditUnauthorized
	}
	if strings.TrimSpace(edit.Path) == "" {
		return nil, errors.New("wiki: edit path is empty")
	}

	repoPath := route.PagePath(edit.Path)
	owner := route.Config.Owner
	repo := route.Config.Repo

	branch, err := s.gh.GetBranch(ctx, caller.Token, owner, repo, route.Config.Branch)
	if err != nil {
		return nil, fmt.Errorf("resolve base branch: %w", err)
	}

	editBranch := editBranchName(repoPath)
	if err := s.gh.CreateBranchRef(ctx, caller.Token, owner, repo, editBranch, branch.Commit.SHA); err != nil {
		return nil, fmt.Errorf("create edit branch: %w", err)
	}

	// 更新已有页面需要当前 blob SHA；新页面拿不到属正常情况。
	previousSHA := ""
	if meta, err := s.gh.GetContentMeta(ctx, caller.Token, owner, repo, repoPath, route.Config.Branch); err == nil {
		previousSHA = meta.SHA
	} else if !errors.Is(err, github.ErrNotFound) {
		return nil, fmt.Errorf("resolve page blob: %w", err)
	}

	message := edit.Summary
	if strings.TrimSpace(message) == "" {
		message = "Update " + repoPath
	}
	if err := s.gh.PutFile(ctx, caller.Token, owner, repo, repoPath, editBranch, message, []byte(edit.Content), previousSHA); err != nil {
		return nil, fmt.Errorf("commit edit: %w", err)
	}

	pull, err := s.gh.CreatePull(ctx, caller.Token, owner, repo, message, "", editBranch, route.Config.Branch)
	if err != nil {
		return nil, fmt.Errorf("open pull request: %w", err)
	}

	s.InvalidateAfterEdit(ctx, route, repoPath)
	s.logger.WithFields(logrus.Fields{
		"action": "page_edit",
		"wiki":   route.Config.Name,
		"path":   repoPath,
		"pull":   pull.Number,
	}).Info("页面编辑已提交为 PR")
	return pull, nil
}

// editBranchName 生成唯一的编辑分支名，页面路径压扁为合法的 ref 片段。
func editBranchName(repoPath string) string {
	flattened := strings.NewReplacer("/", "-", ".", "-", " ", "-").Replace(repoPath)
	flattened = strings.Trim(strings.ToLower(flattened), "-")
	return fmt.Sprintf("wiki-edit/%s-%d", flattened, time.Now().UnixNano())
}
