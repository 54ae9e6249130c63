package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads the token from a file and reloads it whenever the file
// is rewritten or replaced, so rotated credentials are picked up without a
// restart.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	token string
	err   error

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileProvider loads path and starts watching it.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token file: %w", err)
	}

	p := &FileProvider{
		path:   abs,
		logger: logger,
		done:   make(chan struct{}),
	}
	p.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors and secret managers replace the file
	// by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch token file: %w", err)
	}
	p.watcher = watcher

	p.wg.Add(1)
	go p.watch()
	return p, nil
}

// Token implements TokenProvider.
func (p *FileProvider) Token(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.err != nil {
		return "", p.err
	}
	if p.token == "" {
		return "", ErrMissingToken
	}
	return p.token, nil
}

// Close stops watching the file.
func (p *FileProvider) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)
	err := p.watcher.Close()
	p.wg.Wait()
	return err
}

func (p *FileProvider) watch() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				p.reload()
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("token file watcher error", "path", p.path, "error", err)
		}
	}
}

func (p *FileProvider) reload() {
	data, err := os.ReadFile(p.path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.err = fmt.Errorf("failed to read token file: %w", err)
		p.logger.Warn("token file unreadable", "path", p.path, "error", err)
		return
	}
	p.err = nil
	p.token = strings.TrimSpace(string(data))
	p.logger.Debug("token reloaded", "path", p.path, "fingerprint", Fingerprint(p.token))
}
