package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/folio/internal/plugin/manifest"
)

// RescanResult reports the plugins a rescan changed.
type RescanResult struct {
	Loaded   []string
	Reloaded []string
	Unloaded []string
	Errors   []error
}

// Changed reports whether anything was loaded, reloaded or unloaded.
func (r RescanResult) Changed() bool {
	return len(r.Loaded)+len(r.Reloaded)+len(r.Unloaded) > 0
}

// Rescan discovers plugins again. New plugins are loaded (and activated when
// AutoActivate is set), plugins whose manifest version changed are
// reloaded, and plugins whose manifest file is gone are unloaded.
func (m *Manager) Rescan(ctx context.Context) (RescanResult, error) {
	res, err := m.Discover(ctx)
	if err != nil {
		return RescanResult{}, err
	}

	var out RescanResult
	found := make(map[string]bool, len(res.Manifests))
	var fresh []*manifest.Manifest
	var changed []string
	for _, d := range res.Manifests {
		found[d.Manifest.ID] = true
		inst, ok := m.registry.Plugin(d.Manifest.ID)
		switch {
		case !ok:
			if !m.isDisabled(d.Manifest.ID) {
				fresh = append(fresh, d.Manifest)
			}
		case inst.Version() != d.Manifest.Version:
			changed = append(changed, d.Manifest.ID)
		}
	}

	for _, inst := range m.registry.Plugins() {
		if found[inst.ID()] {
			continue
		}
		path := m.manifestPath(inst.Manifest())
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := m.UnloadPlugin(ctx, inst.ID()); err != nil {
			out.Errors = append(out.Errors, err)
			continue
		}
		out.Unloaded = append(out.Unloaded, inst.ID())
	}

	for _, id := range changed {
		if err := m.ReloadPlugin(ctx, id); err != nil {
			out.Errors = append(out.Errors, err)
			continue
		}
		out.Reloaded = append(out.Reloaded, id)
	}

	ordered, _ := dependencyOrder(fresh)
	for _, mf := range ordered {
		if _, err := m.LoadPlugin(ctx, mf); err != nil {
			out.Errors = append(out.Errors, err)
			continue
		}
		out.Loaded = append(out.Loaded, mf.ID)
		if m.cfg.AutoActivate {
			if err := m.ActivatePlugin(ctx, mf.ID); err != nil {
				out.Errors = append(out.Errors, err)
			}
		}
	}

	if out.Changed() {
		m.logger.Info("plugins rescanned", "loaded", out.Loaded, "reloaded", out.Reloaded, "unloaded", out.Unloaded)
	}
	return out, nil
}

// Watch watches the discovery roots and rescans after manifest changes,
// debounced by WatchDebounce. It blocks until ctx ends.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	for _, root := range m.cfg.Discovery.Paths {
		m.watchTree(w, root, 0)
	}

	trigger := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if depth, ok := m.depthOf(ev.Name); ok && depth <= m.cfg.Discovery.MaxDepth {
						m.watchTree(w, ev.Name, depth)
					}
				}
			}
			if !m.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(m.cfg.WatchDebounce, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(m.cfg.WatchDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watch error", "error", err)

		case <-trigger:
			res, err := m.Rescan(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Warn("rescan failed", "error", err)
				continue
			}
			for _, e := range res.Errors {
				m.logger.Warn("rescan", "error", e)
			}
		}
	}
}

// watchTree adds dir and its subdirectories down to MaxDepth, skipping
// excluded names.
func (m *Manager) watchTree(w *fsnotify.Watcher, dir string, depth int) {
	if err := w.Add(dir); err != nil {
		if !os.IsNotExist(err) {
			m.logger.Debug("cannot watch", "path", dir, "error", err)
		}
		return
	}
	if depth >= m.cfg.Discovery.MaxDepth {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && !isExcluded(e.Name(), m.cfg.Discovery.ExcludePatterns) {
			m.watchTree(w, filepath.Join(dir, e.Name()), depth+1)
		}
	}
}

// depthOf returns how far below a discovery root path is.
func (m *Manager) depthOf(path string) (int, bool) {
	for _, root := range m.cfg.Discovery.Paths {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if rel == "." {
			return 0, true
		}
		return len(strings.Split(rel, string(filepath.Separator))), true
	}
	return 0, false
}

func (m *Manager) relevant(ev fsnotify.Event) bool {
	name := m.cfg.Discovery.ManifestFile
	if name == "" {
		name = manifest.DefaultFile
	}
	if filepath.Base(ev.Name) == name {
		return true
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
