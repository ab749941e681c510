package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ContentStore 将页面正文持久化到磁盘，让进程重启后仍可在重新验证前出页。
// 磁盘布局：
//
//	<StoragePath>/<WikiName>/<page path>
//
// 条目只有正文文件本身，捕获时间由文件 ModTime 承载。
type ContentStore interface {
	// Get 返回缓存的页面正文。不存在时返回 ErrNotFound。
	Get(ctx context.Context, locator ContentLocator) (*ContentResult, error)

	// Put 原子写入正文（临时文件 + rename），并将文件时间戳设为捕获时间。
	Put(ctx context.Context, locator ContentLocator, body io.Reader, capturedAt time.Time) (*ContentEntry, error)

	// Remove 删除正文文件，页面被编辑后调用以强制回源。
	Remove(ctx context.Context, locator ContentLocator) error
}

// ContentLocator 唯一定位一个页面正文（wiki 名 + 页面路径）。
type ContentLocator struct {
	WikiName string
	Path     string
}

// ContentEntry 描述一次落盘结果。
type ContentEntry struct {
	Locator    ContentLocator
	FilePath   string
	SizeBytes  int64
	CapturedAt time.Time
}

// ContentResult 组合条目信息与正文 Reader，供路由层流式返回。
type ContentResult struct {
	Entry  ContentEntry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示磁盘上没有对应正文。
var ErrNotFound = errors.New("cache entry not found")
