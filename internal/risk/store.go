package risk

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PolicyStore holds the live policy. Readers never block writers.
type PolicyStore struct {
	current atomic.Pointer[Policy]
}

// NewPolicyStore returns a store seeded with p, or DefaultPolicy when p is nil.
func NewPolicyStore(p *Policy) *PolicyStore {
	if p == nil {
		p = DefaultPolicy()
	}
	s := &PolicyStore{}
	s.current.Store(p)
	return s
}

// Current returns the policy snapshot in force.
func (s *PolicyStore) Current() *Policy {
	return s.current.Load()
}

// Swap validates p and installs it.
func (s *PolicyStore) Swap(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.compile()
	s.current.Store(p)
	return nil
}

const reloadDebounce = 250 * time.Millisecond

// PolicyWatcher reloads a policy file into a PolicyStore when it changes.
// A file that fails to parse or validate leaves the previous policy active.
type PolicyWatcher struct {
	path     string
	store    *PolicyStore
	logger   *slog.Logger
	onReload func(err error)
}

// NewPolicyWatcher creates a watcher for path. onReload, if non-nil, is called
// after every reload attempt with its outcome.
func NewPolicyWatcher(path string, store *PolicyStore, logger *slog.Logger, onReload func(error)) *PolicyWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyWatcher{path: path, store: store, logger: logger, onReload: onReload}
}

// Run watches the policy file's directory until ctx is cancelled. Editors
// often replace files via rename, so the directory is watched rather than
// the file itself.
func (w *PolicyWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	target := filepath.Clean(w.path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			w.Reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", "path", w.path, "error", err)
		}
	}
}

// Reload reads the file once and swaps it in on success.
func (w *PolicyWatcher) Reload() {
	p, err := LoadPolicyFile(w.path)
	if err == nil {
		err = w.store.Swap(p)
	}
	if err != nil {
		w.logger.Error("policy reload rejected, keeping previous policy", "path", w.path, "error", err)
	} else {
		w.logger.Info("policy reloaded", "path", w.path,
			"block_threshold", p.BlockThreshold,
			"challenge_threshold", p.ChallengeThreshold,
			"sentinels_enabled", p.SentinelsEnabled)
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
