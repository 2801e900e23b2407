package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/folio/internal/plugin/manifest"
)

// DiscoveryConfig controls the plugin directory walk.
type DiscoveryConfig struct {
	// Paths are the roots to search, walked concurrently and merged in order.
	Paths []string

	// ManifestFile marks a plugin root.
	ManifestFile string

	// MaxDepth bounds how deep below a root the walk goes.
	MaxDepth int

	// Recursive allows descending below the roots' direct children.
	Recursive bool

	// ExcludePatterns are directory names to skip. "*suffix" matches by suffix.
	ExcludePatterns []string
}

// DefaultDiscoveryConfig returns the default walk settings.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Paths:           []string{"plugins"},
		ManifestFile:    manifest.DefaultFile,
		MaxDepth:        2,
		Recursive:       true,
		ExcludePatterns: []string{"node_modules", ".git", "dist", "build"},
	}
}

// DiscoveredManifest is a manifest found during discovery.
type DiscoveredManifest struct {
	Path     string
	Manifest *manifest.Manifest
}

// DiscoveryError is a failure to read or validate one manifest.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e DiscoveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// DiscoveryResult is the outcome of Discover.
type DiscoveryResult struct {
	// PluginPaths are the manifest paths found, valid or not.
	PluginPaths []string
	Manifests   []DiscoveredManifest
	Errors      []DiscoveryError
}

func (r *DiscoveryResult) merge(o DiscoveryResult) {
	r.PluginPaths = append(r.PluginPaths, o.PluginPaths...)
	r.Manifests = append(r.Manifests, o.Manifests...)
	r.Errors = append(r.Errors, o.Errors...)
}

// Discover walks the configured roots for plugin manifests. Missing roots
// are skipped. A directory holding the manifest file is a plugin root and
// is not descended into. The error is non-nil only when ctx ends.
func Discover(ctx context.Context, cfg DiscoveryConfig) (DiscoveryResult, error) {
	if cfg.ManifestFile == "" {
		cfg.ManifestFile = manifest.DefaultFile
	}

	results := make([]DiscoveryResult, len(cfg.Paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range cfg.Paths {
		g.Go(func() error {
			w := walker{cfg: cfg}
			if err := w.walk(gctx, root, 0); err != nil {
				return err
			}
			results[i] = w.res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DiscoveryResult{}, err
	}

	var out DiscoveryResult
	for _, r := range results {
		out.merge(r)
	}
	return out, nil
}

type walker struct {
	cfg DiscoveryConfig
	res DiscoveryResult
}

func (w *walker) walk(ctx context.Context, dir string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		w.res.Errors = append(w.res.Errors, DiscoveryError{Path: dir, Err: err})
		return nil
	}

	for _, e := range entries {
		if !e.IsDir() && e.Name() == w.cfg.ManifestFile {
			w.inspect(filepath.Join(dir, e.Name()))
			return nil
		}
	}

	if depth >= w.cfg.MaxDepth || (!w.cfg.Recursive && depth > 0) {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() || isExcluded(e.Name(), w.cfg.ExcludePatterns) {
			continue
		}
		if err := w.walk(ctx, filepath.Join(dir, e.Name()), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) inspect(path string) {
	w.res.PluginPaths = append(w.res.PluginPaths, path)
	m, err := manifest.Load(path)
	if err != nil {
		w.res.Errors = append(w.res.Errors, DiscoveryError{Path: path, Err: err})
		return
	}
	w.res.Manifests = append(w.res.Manifests, DiscoveredManifest{Path: path, Manifest: m})
}

func isExcluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if suffix, ok := strings.CutPrefix(p, "*"); ok {
			if strings.HasSuffix(name, suffix) {
				return true
			}
			continue
		}
		if name == p {
			return true
		}
	}
	return false
}
