// Package skills discovers skill packages and resolves skill identifiers.
// A skill package is a directory that directly contains a SKILL.md file;
// packages live under layer roots that are searched in precedence order
// (project, then personal, then superpowers).
package skills

import (
	"path/filepath"
	"strings"

	"github.com/jingkaihe/skillman/pkg/descriptor"
	"github.com/pkg/errors"
)

// Layer identifies the storage scope a package was found in.
type Layer int

// Layers in default precedence order, highest first.
const (
	LayerProject Layer = iota
	LayerPersonal
	LayerSuperpowers
	// LayerSource marks packages offered by the installer's source tree. It
	// is not an identifier prefix.
	LayerSource
)

var layerNames = map[Layer]string{
	LayerProject:     "project",
	LayerPersonal:    "personal",
	LayerSuperpowers: "superpowers",
	LayerSource:      "source",
}

// String returns the layer name, which is also its identifier prefix.
func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLayer parses a layer name such as "personal".
func ParseLayer(name string) (Layer, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for layer, n := range layerNames {
		if n == normalized {
			return layer, nil
		}
	}
	return 0, errors.Errorf("unknown layer %q (expected project, personal, superpowers or source)", name)
}

// AllLayers returns the resolvable layers in default precedence order.
func AllLayers() []Layer {
	return []Layer{LayerProject, LayerPersonal, LayerSuperpowers}
}

// LayerRoot binds a layer to the directory holding its packages.
type LayerRoot struct {
	Layer Layer
	Dir   string
	// PrefixOnly layers are skipped by lookups that do not name them explicitly.
	PrefixOnly bool
}

// Package is a discovered skill package.
type Package struct {
	Root       string                `json:"root" yaml:"root"`
	Layer      Layer                 `json:"layer" yaml:"layer"`
	Descriptor descriptor.Descriptor `json:"descriptor" yaml:"descriptor"`
}

// Name returns the declared name, falling back to the directory name.
func (p *Package) Name() string {
	return p.Descriptor.NameOr(p.DirName())
}

// Description returns the declared description or an empty string.
func (p *Package) Description() string {
	return p.Descriptor.DescriptionOr("")
}

// DirName returns the base name of the package root
func (p *Package) DirName() string {
	return filepath.Base(p.Root)
}

// DescriptorPath returns the path of the package's SKILL.md.
func (p *Package) DescriptorPath() string {
	return filepath.Join(p.Root, descriptor.FileName)
}
