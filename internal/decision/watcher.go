package decision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"spotpilot/internal/logger"
)

// DirWatcher watches a drop directory and hands every new proposal file to
// handle. Files are consumed (renamed to .done, or .rejected on parse failure).
type DirWatcher struct {
	Dir           string
	DefaultSymbol string
	// settle waits for writers to finish before reading a new file.
	settle time.Duration
	nowFn  func() time.Time
	log    *logger.Component
}

func NewDirWatcher(dir, defaultSymbol string) *DirWatcher {
	return &DirWatcher{
		Dir:           dir,
		DefaultSymbol: defaultSymbol,
		settle:        200 * time.Millisecond,
		nowFn:         time.Now,
		log:           logger.Named("proposal-watcher"),
	}
}

// Run blocks until ctx is done. Files already present at start are processed first.
func (w *DirWatcher) Run(ctx context.Context, handle func(context.Context, Proposal) error) error {
	if handle == nil {
		return fmt.Errorf("proposal handler is nil")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	w.drainExisting(ctx, handle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isProposalFile(ev.Name) {
				continue
			}
			if !sleepFor(ctx, w.settle) {
				return nil
			}
			w.consume(ctx, ev.Name, handle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("watcher error: %v", err)
		}
	}
}

func (w *DirWatcher) drainExisting(ctx context.Context, handle func(context.Context, Proposal) error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		w.log.Warnf("list %s failed: %v", w.Dir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isProposalFile(e.Name()) {
			continue
		}
		w.consume(ctx, filepath.Join(w.Dir, e.Name()), handle)
	}
}

func (w *DirWatcher) consume(ctx context.Context, path string, handle func(context.Context, Proposal) error) {
	p, err := LoadProposalFile(path, w.DefaultSymbol, w.nowFn())
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		w.log.Warnf("reject proposal file %s: %v", filepath.Base(path), err)
		_ = os.Rename(path, path+".rejected")
		return
	}
	if err := os.Rename(path, path+".done"); err != nil {
		w.log.Warnf("consume proposal file %s failed: %v", filepath.Base(path), err)
		return
	}
	if err := handle(ctx, p); err != nil {
		w.log.Warnf("proposal from %s failed: %v", filepath.Base(path), err)
	}
}

func isProposalFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
