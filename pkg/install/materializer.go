package install

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// ErrOverlapsSource is returned when the install path is the package source or contains it
var ErrOverlapsSource = errors.New("install path overlaps the package source")

// Mode selects how packages are placed at a destination
type Mode string

// Supported install modes
const (
	ModeCopy Mode = "copy"
	ModeLink Mode = "link"
)

// ParseMode parses an install.mode value. Empty means copy.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCopy:
		return ModeCopy, nil
	case ModeLink, "symlink":
		return ModeLink, nil
	default:
		return "", errors.Errorf("unknown install mode %q (expected copy or link)", s)
	}
}

// Materializer places a package directory at a destination path and removes
// it again. Both operations must be idempotent.
type Materializer interface {
	Mode() Mode
	Materialize(src, dst string) error
	Remove(dst string) error
}

// NewMaterializer returns the materializer for mode. Exclude patterns only
// apply to copies.
func NewMaterializer(mode Mode, exclude []string) (Materializer, error) {
	switch mode {
	case ModeCopy, "":
		return NewCopyMaterializer(exclude...)
	case ModeLink:
		return &LinkMaterializer{}, nil
	default:
		return nil, errors.Errorf("unknown install mode %q", mode)
	}
}

// CopyMaterializer copies the package tree, replacing whatever was at dst.
type CopyMaterializer struct {
	exclude []string
}

// NewCopyMaterializer validates the doublestar exclude patterns, which are
// matched against slash separated paths relative to the package root.
func NewCopyMaterializer(exclude ...string) (*CopyMaterializer, error) {
	for _, pattern := range exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return &CopyMaterializer{exclude: exclude}, nil
}

// Mode implements Materializer
func (c *CopyMaterializer) Mode() Mode { return ModeCopy }

// Materialize replaces dst with a copy of src
func (c *CopyMaterializer) Materialize(src, dst string) error {
	realSrc, err := filepath.EvalSymlinks(src)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve source %s", src)
	}
	if overlaps(realSrc, dst) {
		return errors.Wrapf(ErrOverlapsSource, "%s -> %s", src, dst)
	}
	if err := os.RemoveAll(dst); err != nil {
		return errors.Wrapf(err, "failed to remove existing %s", dst)
	}
	if err := c.copyDir(realSrc, dst); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", src, dst)
	}
	return nil
}

// Remove deletes dst. A missing dst is not an error.
func (c *CopyMaterializer) Remove(dst string) error {
	return errors.Wrapf(os.RemoveAll(dst), "failed to remove %s", dst)
}

func (c *CopyMaterializer) excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range c.exclude {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

func (c *CopyMaterializer) copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && c.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// LinkMaterializer installs packages as symlinks to their source directory.
type LinkMaterializer struct{}

// Mode implements Materializer
func (l *LinkMaterializer) Mode() Mode { return ModeLink }

// Materialize points dst at src. An existing link to src is left alone.
func (l *LinkMaterializer) Materialize(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve source %s", src)
	}

	if target, err := os.Readlink(dst); err == nil && target == absSrc {
		return nil
	}
	if overlaps(absSrc, dst) {
		return errors.Wrapf(ErrOverlapsSource, "%s -> %s", src, dst)
	}

	if err := os.RemoveAll(dst); err != nil {
		return errors.Wrapf(err, "failed to remove existing %s", dst)
	}
	return errors.Wrapf(os.Symlink(absSrc, dst), "failed to link %s to %s", dst, absSrc)
}

// Remove deletes the link at dst, or whatever else is there.
func (l *LinkMaterializer) Remove(dst string) error {
	return errors.Wrapf(os.RemoveAll(dst), "failed to remove %s", dst)
}

// overlaps reports whether dst is src or one of its ancestors. A symlink at
// dst itself is not followed, so a link pointing at src does not overlap.
func overlaps(src, dst string) bool {
	realSrc, err := filepath.EvalSymlinks(src)
	if err != nil {
		if realSrc, err = filepath.Abs(src); err != nil {
			return false
		}
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return false
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(absDst))
	if err != nil {
		parent = filepath.Dir(absDst)
	}
	rel, err := filepath.Rel(filepath.Join(parent, filepath.Base(absDst)), realSrc)
	return err == nil && filepath.IsLocal(rel)
}
