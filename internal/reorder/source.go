package reorder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/pkg/logger"
)

// Source hands out the current rule set. Callers take one snapshot per run
// and use it throughout.
type Source interface {
	Current() *RuleSet
}

// StaticSource always returns the same rule set.
type StaticSource struct {
	rules *RuleSet
}

// NewStaticSource wraps rs. A nil rs yields DefaultRuleSet.
func NewStaticSource(rs *RuleSet) StaticSource {
	if rs == nil {
		rs = DefaultRuleSet()
	}
	return StaticSource{rules: rs}
}

// Current implements Source.
func (s StaticSource) Current() *RuleSet {
	return s.rules
}

// FileSource serves a rule set loaded from a YAML file. Reloads swap the
// snapshot atomically; a file that fails to parse keeps the previous one.
type FileSource struct {
	path    string
	current atomic.Pointer[RuleSet]
}

// NewFileSource loads path.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current implements Source.
func (s *FileSource) Current() *RuleSet {
	return s.current.Load()
}

// Reload re-reads the file.
func (s *FileSource) Reload() error {
	rs, err := LoadRuleSet(s.path)
	if err != nil {
		return err
	}
	s.current.Store(rs)
	return nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file are picked up.
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.Warn("Reorder rules reload failed, keeping previous snapshot",
					zap.String("path", s.path),
					zap.Error(err),
				)
				continue
			}
			logger.Info("Reorder rules reloaded",
				zap.String("path", s.path),
				zap.String("version", s.Current().Version),
			)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Reorder rules watcher error", zap.Error(err))
		}
	}
}
