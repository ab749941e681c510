package wiki

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/wiki-hub/wiki-hub/internal/cache"
	"github.com/wiki-hub/wiki-hub/internal/config"
	"github.com/wiki-hub/wiki-hub/internal/github"
	"github.com/wiki-hub/wiki-hub/internal/server"
	"github.com/wiki-hub/wiki-hub/internal/statstore"
)

func starStubMux(detailCalls *int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/handbook-wiki/commits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"sha":"c1","author":{"id":1,"login":"octocat"}},
			{"sha":"c2","author":{"id":1,"login":"octocat"}},
			{"sha":"c3","author":{"id":2,"login":"monalisa"}}
		]`)
	})
	mux.HandleFunc("/repos/acme/handbook-wiki/commits/", func(w http.ResponseWriter, r *http.Request) {
		*detailCalls++
		switch filepath.Base(r.URL.Path) {
		case "c1":
			fmt.Fprint(w, `{"sha":"c1","author":{"id":1,"login":"octocat"},"stats":{"additions":10,"deletions":5}}`)
		case "c2":
			fmt.Fprint(w, `{"sha":"c2","author":{"id":1,"login":"octocat"},"stats":{"additions":20,"deletions":0}}`)
		case "c3":
			fmt.Fprint(w, `{"sha":"c3","author":{"id":2,"login":"monalisa"},"stats":{"additions":900,"deletions":400}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

func TestStarContributorScoringWithDiffCap(t *testing.T) {
	detailCalls := 0
	service, _ := newTestService(t, starStubMux(&detailCalls), nil)

	star, _, err := service.StarContributor(context.Background(), testRoute(), server.Caller{}, "Home.md")
	if err != nil {
		t.Fatalf("star error: %v", err)
	}
	if star == nil || star.Login != "monalisa" {
		t.Fatalf("unexpected star: %+v", star)
	}
	// monalisa：1 次提交 25 分 + 封顶后的 500 行 diff。
	if star.Score != 525 {
		t.Fatalf("diff 应单提交封顶，score = %d", star.Score)
	}
	if star.Additions != 900 || star.Deletions != 400 {
		t.Fatalf("增删行数应记录原始值: %+v", star)
	}
	if detailCalls != 3 {
		t.Fatalf("每个提交拉取一次详情，实际 %d 次", detailCalls)
	}

	// 二次查询命中内存缓存，不再回源。
	if _, hit, err := service.StarContributor(context.Background(), testRoute(), server.Caller{}, "Home.md"); err != nil || !hit {
		t.Fatalf("二次查询应命中缓存: hit=%v err=%v", hit, err)
	}
	if detailCalls != 3 {
		t.Fatalf("缓存命中不应再拉详情，实际 %d 次", detailCalls)
	}
}

func TestStarContributorReusesPersistedRecord(t *testing.T) {
	stats, err := statstore.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("打开统计库失败: %v", err)
	}
	t.Cleanup(func() { stats.Close() })

	detailCalls := 0
	upstream := httptest.NewServer(starStubMux(&detailCalls))
	t.Cleanup(upstream.Close)

	newService := func() *Service {
		t.Helper()
		gh := github.NewClient(config.GitHubConfig{APIBaseURL: upstream.URL, UserAgent: "wiki-hub-test"}, upstream.Client(), nil, nil)
		service, err := NewService(Options{
			Store:  cache.NewMemory(cache.DefaultPolicy(), nil),
			GitHub: gh,
			Stats:  stats,
			Logger: discardLogger(),
		})
		if err != nil {
			t.Fatalf("构建服务失败: %v", err)
		}
		return service
	}

	if _, _, err := newService().StarContributor(context.Background(), testRoute(), server.Caller{}, "Home.md"); err != nil {
		t.Fatalf("star error: %v", err)
	}
	if detailCalls != 3 {
		t.Fatalf("首次计算应拉取全部详情，实际 %d 次", detailCalls)
	}

	// 内存缓存全新、head 未变：应复用持久化结果，只多一次列表请求。
	star, _, err := newService().StarContributor(context.Background(), testRoute(), server.Caller{}, "Home.md")
	if err != nil {
		t.Fatalf("star error: %v", err)
	}
	if star == nil || star.Login != "monalisa" || star.Score != 525 {
		t.Fatalf("持久化结果不符: %+v", star)
	}
	if detailCalls != 3 {
		t.Fatalf("head 未变时不应重算，详情请求 %d 次", detailCalls)
	}
}

func TestComputeStarTieBreaksByCommitsThenLogin(t *testing.T) {
	service, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("内联 stats 不应触发上游请求: %s", r.URL.Path)
	}), nil)

	commits := []github.Commit{
		{SHA: "a1", Author: &github.User{ID: 1, Login: "zed"}, Stats: &github.CommitStats{Additions: 50}},
		{SHA: "b1", Author: &github.User{ID: 2, Login: "amy"}, Stats: &github.CommitStats{Additions: 25}},
		{SHA: "b2", Author: &github.User{ID: 2, Login: "amy"}, Stats: &github.CommitStats{}},
		{SHA: "c1", Author: nil},
	}
	// zed: 25 + 50 = 75；amy: 2*25 + 25 = 75。平分时提交多者胜出。
	star, err := service.computeStar(context.Background(), testRoute(), server.Caller{}, commits)
	if err != nil {
		t.Fatalf("compute error: %v", err)
	}
	if star.Login != "amy" {
		t.Fatalf("平分时应按提交数取胜: %+v", star)
	}
}

func TestStarContributorEmptyHistory(t *testing.T) {
	service, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}), nil)

	star, _, err := service.StarContributor(context.Background(), testRoute(), server.Caller{}, "Ghost.md")
	if err != nil || star != nil {
		t.Fatalf("无历史页面应返回 nil: %+v %v", star, err)
	}
}
