package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewContentStore 以 basePath 为根目录构建磁盘正文缓存，整站复用一份实例。
func NewContentStore(basePath string) (ContentStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &contentFS{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// contentFS 通过 entryLock 避免同一页面并发写入，basePath 全局共享。
type contentFS struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *contentFS) Get(ctx context.Context, locator ContentLocator) (*ContentResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ContentResult{
		Entry: ContentEntry{
			Locator:    locator,
			FilePath:   filePath,
			SizeBytes:  info.Size(),
			CapturedAt: info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *contentFS) Put(ctx context.Context, locator ContentLocator, body io.Reader, capturedAt time.Time) (*ContentEntry, error) {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".page-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, capturedAt, capturedAt); err != nil {
		return nil, err
	}

	return &ContentEntry{
		Locator:    locator,
		FilePath:   filePath,
		SizeBytes:  written,
		CapturedAt: capturedAt,
	}, nil
}

func (s *contentFS) Remove(ctx context.Context, locator ContentLocator) error {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *contentFS) lockEntry(locator ContentLocator) func() {
	key := locator.WikiName + keySeparator + locator.Path
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *contentFS) entryPath(locator ContentLocator) (string, error) {
	if locator.WikiName == "" {
		return "", errors.New("wiki name required")
	}

	rel := locator.Path
	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	filePath := filepath.Join(s.basePath, locator.WikiName, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, filepath.Join(s.basePath, locator.WikiName)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
