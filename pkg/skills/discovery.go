package skills

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/jingkaihe/skillman/pkg/descriptor"
	"github.com/jingkaihe/skillman/pkg/logger"
	"github.com/jingkaihe/skillman/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultDepth allows one level of grouping directories below a layer root.
const DefaultDepth = 1

// DefaultIgnore lists directory names that are never scanned.
var DefaultIgnore = []string{".git", "node_modules"}

// ErrRootUnavailable is reported when a scan root is missing or unreadable.
var ErrRootUnavailable = errors.New("scan root unavailable")

// ScanResult is the outcome of a scan. Err is only set when the root itself
// could not be read; an existing root without packages yields no Err.
type ScanResult struct {
	Packages []*Package
	Err      error
	Skipped  []string // nested directories that could not be read
}

// Scanner walks layer roots looking for skill packages
type Scanner struct {
	depth  int
	ignore []glob.Glob
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner) error

// WithDepth sets the default depth limit used by ScanLayer and DiscoverAll
func WithDepth(depth int) ScannerOption {
	return func(s *Scanner) error {
		if depth < 0 {
			return errors.Errorf("scan depth must not be negative, got %d", depth)
		}
		s.depth = depth
		return nil
	}
}

// WithIgnore replaces the ignored directory name patterns
func WithIgnore(patterns ...string) ScannerOption {
	return func(s *Scanner) error {
		compiled := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return errors.Wrapf(err, "invalid ignore pattern %q", p)
			}
			compiled = append(compiled, g)
		}
		s.ignore = compiled
		return nil
	}
}

// NewScanner creates a scanner with the default depth and ignore list
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	s := &Scanner{}
	defaults := []ScannerOption{WithDepth(DefaultDepth), WithIgnore(DefaultIgnore...)}
	for _, opt := range append(defaults, opts...) {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Depth returns the configured depth limit
func (s *Scanner) Depth() int {
	return s.depth
}

type candidate struct {
	dir   string
	depth int
}

// Scan walks root breadth-first. The immediate subdirectories of root are at
// depth 0; root itself is a container and never a package, even when it holds
// a SKILL.md. A directory that directly contains SKILL.md is recorded and not
// descended into; other directories have their children visited while
// depth < depthLimit.
func (s *Scanner) Scan(root string, depthLimit int) ScanResult {
	var result ScanResult

	children, err := s.subdirs(root)
	if err != nil {
		result.Err = errors.Wrapf(ErrRootUnavailable, "%s: %v", root, err)
		return result
	}

	queue := make([]candidate, 0, len(children))
	for _, dir := range children {
		queue = append(queue, candidate{dir: dir, depth: 0})
	}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		if pkg, ok := s.loadPackage(c.dir); ok {
			result.Packages = append(result.Packages, pkg)
			continue
		}

		if c.depth >= depthLimit {
			continue
		}

		nested, err := s.subdirs(c.dir)
		if err != nil {
			logger.L.WithError(err).WithField("dir", c.dir).Debug("skipping unreadable directory")
			result.Skipped = append(result.Skipped, c.dir)
			continue
		}
		for _, dir := range nested {
			queue = append(queue, candidate{dir: dir, depth: c.depth + 1})
		}
	}

	return result
}

// ScanLayer scans a layer root with the configured depth and stamps the layer on each package
func (s *Scanner) ScanLayer(root LayerRoot) ScanResult {
	result := s.Scan(root.Dir, s.depth)
	for _, pkg := range result.Packages {
		pkg.Layer = root.Layer
	}
	return result
}

// DiscoverAll scans every layer in order and returns all packages, duplicates
// included. Layers whose root is unavailable contribute nothing.
func (s *Scanner) DiscoverAll(ctx context.Context, layers []LayerRoot) []*Package {
	var packages []*Package

	telemetry.WithSpanFunc(ctx, "skills.discover", func(ctx context.Context) {
		for _, layer := range layers {
			result := s.ScanLayer(layer)
			if result.Err != nil {
				logger.G(ctx).WithError(result.Err).WithField("layer", layer.Layer.String()).Debug("layer root unavailable")
				continue
			}
			packages = append(packages, result.Packages...)
		}
		telemetry.SetAttributes(ctx, attribute.Int("skills.count", len(packages)))
	}, attribute.Int("layers.count", len(layers)))

	return packages
}

// subdirs lists the directories directly under dir in lexical order,
// following symlinks and dropping ignored names.
func (s *Scanner) subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if s.ignored(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, path)
	}
	return dirs, nil
}

func (s *Scanner) ignored(name string) bool {
	for _, g := range s.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// loadPackage returns the package rooted at dir when dir directly contains SKILL.md.
func (s *Scanner) loadPackage(dir string) (*Package, bool) {
	path := filepath.Join(dir, descriptor.FileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}

	desc, err := descriptor.ParseFile(path)
	if err != nil {
		logger.L.WithError(err).WithField("path", path).Debug("descriptor unreadable, recording package without metadata")
	}

	return &Package{Root: dir, Descriptor: desc}, true
}
