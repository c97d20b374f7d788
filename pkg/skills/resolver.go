package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jingkaihe/skillman/pkg/descriptor"
	"github.com/jingkaihe/skillman/pkg/logger"
	"github.com/jingkaihe/skillman/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNotFound is returned when no layer holds a matching package.
var ErrNotFound = errors.New("skill not found")

// IsNotFound reports whether err means the identifier did not resolve
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

const prefixSeparator = ":"

// Identifier is a parsed "[<layer>:]<name>" skill reference.
type Identifier struct {
	Name   string
	Layer  Layer
	Forced bool // Layer is only meaningful when Forced is set
}

// ParseIdentifier splits a reserved layer prefix off raw. Text before a colon
// that is not a layer name stays part of the bare name.
func ParseIdentifier(raw string) Identifier {
	raw = strings.TrimSpace(raw)
	if prefix, name, ok := strings.Cut(raw, prefixSeparator); ok {
		for _, layer := range AllLayers() {
			if layer.String() == prefix {
				return Identifier{Name: name, Layer: layer, Forced: true}
			}
		}
	}
	return Identifier{Name: raw}
}

// String formats the identifier back into its textual form
func (id Identifier) String() string {
	if id.Forced {
		return id.Layer.String() + prefixSeparator + id.Name
	}
	return id.Name
}

// Method records which resolution step produced a result.
type Method string

// Resolution methods
const (
	MethodDirect    Method = "direct"
	MethodNameMatch Method = "name-match"
)

// Resolution is a successfully resolved identifier.
type Resolution struct {
	Identifier Identifier
	Package    *Package
	Method     Method
}

// Resolver maps identifiers to packages across priority-ordered layers
type Resolver struct {
	layers  []LayerRoot
	scanner *Scanner
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithScanner sets the scanner used by the name-match fallback
func WithScanner(scanner *Scanner) ResolverOption {
	return func(r *Resolver) {
		r.scanner = scanner
	}
}

// NewResolver creates a resolver over layers, highest precedence first
func NewResolver(layers []LayerRoot, opts ...ResolverOption) (*Resolver, error) {
	r := &Resolver{layers: layers}
	for _, opt := range opts {
		opt(r)
	}

	if r.scanner == nil {
		scanner, err := NewScanner()
		if err != nil {
			return nil, err
		}
		r.scanner = scanner
	}

	return r, nil
}

// Layers returns the configured layer roots
func (r *Resolver) Layers() []LayerRoot {
	return r.layers
}

// Resolve returns the single package raw refers to. A directory named after
// the identifier wins over a package that only declares the name, and
// earlier layers win over later ones.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Resolution, error) {
	id := ParseIdentifier(raw)

	ctx, span := telemetry.Tracer("skillman.skills").Start(ctx, "skills.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("skill.identifier", raw),
		attribute.Bool("skill.forced", id.Forced),
	)

	log := logger.G(ctx).WithField("identifier", raw)

	if id.Name == "" {
		return nil, errors.Wrap(ErrNotFound, "empty skill name")
	}

	candidates := r.candidates(id)

	for _, layer := range candidates {
		if pkg, ok := r.probe(ctx, layer, id.Name); ok {
			log.WithField("layer", layer.Layer.String()).Debug("resolved by directory name")
			span.SetAttributes(attribute.String("skill.layer", layer.Layer.String()))
			span.SetStatus(codes.Ok, "")
			return &Resolution{Identifier: id, Package: pkg, Method: MethodDirect}, nil
		}
	}

	for _, layer := range candidates {
		result := r.scanner.ScanLayer(layer)
		if result.Err != nil {
			log.WithError(result.Err).Debug("layer root unavailable")
			continue
		}
		for _, pkg := range result.Packages {
			if pkg.Descriptor.Name != nil && *pkg.Descriptor.Name == id.Name {
				log.WithField("layer", layer.Layer.String()).WithField("root", pkg.Root).Debug("resolved by declared name")
				span.SetAttributes(attribute.String("skill.layer", layer.Layer.String()))
				span.SetStatus(codes.Ok, "")
				return &Resolution{Identifier: id, Package: pkg, Method: MethodNameMatch}, nil
			}
		}
	}

	span.SetStatus(codes.Error, "not found")
	return nil, errors.Wrapf(ErrNotFound, "resolve %s", raw)
}

// candidates returns the layers a lookup for id may inspect, in order.
func (r *Resolver) candidates(id Identifier) []LayerRoot {
	var layers []LayerRoot
	for _, layer := range r.layers {
		if id.Forced {
			if layer.Layer == id.Layer {
				layers = append(layers, layer)
			}
			continue
		}
		if !layer.PrefixOnly {
			layers = append(layers, layer)
		}
	}
	return layers
}

// probe checks for <layer>/<name>/SKILL.md. A missing path is silent; any
// other failure is logged and treated as a miss.
func (r *Resolver) probe(ctx context.Context, layer LayerRoot, name string) (*Package, bool) {
	if !filepath.IsLocal(name) {
		return nil, false
	}

	root := filepath.Join(layer.Dir, name)
	path := filepath.Join(root, descriptor.FileName)

	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.G(ctx).WithError(err).WithField("path", path).Warn("cannot inspect descriptor, trying next layer")
		}
		return nil, false
	}
	if info.IsDir() {
		return nil, false
	}

	desc, err := descriptor.ParseFile(path)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("path", path).Warn("descriptor exists but is unreadable, trying next layer")
		return nil, false
	}

	return &Package{Root: root, Layer: layer.Layer, Descriptor: desc}, true
}
