// Package config loads skillman's configuration from viper: defaults, an
// optional config.yaml and SKILLMAN_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jingkaihe/skillman/pkg/install"
	"github.com/jingkaihe/skillman/pkg/skills"
	"github.com/jingkaihe/skillman/pkg/telemetry"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by skillman
const EnvPrefix = "SKILLMAN"

// Config is the resolved configuration
type Config struct {
	LogLevel     string            `mapstructure:"log_level"`
	LogFormat    string            `mapstructure:"log_format"`
	Layers       LayersConfig      `mapstructure:"layers"`
	Scan         ScanConfig        `mapstructure:"scan"`
	Install      InstallConfig     `mapstructure:"install"`
	Source       string            `mapstructure:"source"`
	SourceLayers bool              `mapstructure:"source_layers"`
	Destinations map[string]string `mapstructure:"-"`
	Tracing      TracingConfig     `mapstructure:"tracing"`
}

// LayersConfig holds the root directory of each layer
type LayersConfig struct {
	Project     string   `mapstructure:"project"`
	Personal    string   `mapstructure:"personal"`
	Superpowers string   `mapstructure:"superpowers"`
	PrefixOnly  []string `mapstructure:"prefix_only"`
}

// ScanConfig tunes package discovery
type ScanConfig struct {
	Depth  int      `mapstructure:"depth"`
	Ignore []string `mapstructure:"ignore"`
}

// InstallConfig tunes how packages are materialized
type InstallConfig struct {
	Mode    string   `mapstructure:"mode"`
	Exclude []string `mapstructure:"exclude"`
}

// TracingConfig configures OpenTelemetry
type TracingConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Sampler  string  `mapstructure:"sampler"`
	Ratio    float64 `mapstructure:"ratio"`
	Exporter string  `mapstructure:"exporter"`
}

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")

	v.SetDefault("layers.project", "./.claude/skills")
	v.SetDefault("layers.personal", "~/.claude/skills")
	v.SetDefault("layers.superpowers", "~/.config/superpowers/skills")
	v.SetDefault("layers.prefix_only", []string{})

	v.SetDefault("scan.depth", skills.DefaultDepth)
	v.SetDefault("scan.ignore", skills.DefaultIgnore)

	v.SetDefault("install.mode", string(install.ModeCopy))
	v.SetDefault("install.exclude", []string{"**/.DS_Store"})

	v.SetDefault("source", "./skills")
	v.SetDefault("source_layers", false)

	v.SetDefault("destinations.global", "~/.config/opencode/skill")
	v.SetDefault("destinations.project_tool", "./.claude/skills")
	v.SetDefault("destinations.project_other", "./.opencode/skill")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("tracing.exporter", telemetry.ExporterOTLP)
}

// Init wires env lookup and the config file into v. An explicit configFile
// must exist; otherwise config.yaml is searched in ~/.skillman and the
// working directory and may be absent.
func Init(v *viper.Viper, configFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		return errors.Wrapf(v.ReadInConfig(), "failed to read config file %s", configFile)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.skillman")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// Load unmarshals v into a Config
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}

	destinations, err := decodeDestinations(v)
	if err != nil {
		return nil, err
	}
	cfg.Destinations = destinations

	if cfg.Scan.Depth < 0 {
		return nil, errors.Errorf("scan.depth must not be negative, got %d", cfg.Scan.Depth)
	}
	return &cfg, nil
}

// decodeDestinations reads the destinations map, accepting any spelling of
// the destination keys that ParseDestinationID understands. Keys are
// normalised to their canonical names.
func decodeDestinations(v *viper.Viper) (map[string]string, error) {
	raw := map[string]string{}
	for _, id := range install.AllDestinations() {
		raw[id.String()] = v.GetString("destinations." + id.String())
	}

	var overrides map[string]string
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &overrides,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create destinations decoder")
	}
	if err := decoder.Decode(v.Get("destinations")); err != nil {
		return nil, errors.Wrap(err, "failed to decode destinations")
	}

	for key, dir := range overrides {
		id, err := install.ParseDestinationID(key)
		if err != nil {
			return nil, errors.Wrap(err, "invalid destinations entry")
		}
		// canonical keys were already read above with env precedence
		if dir != "" && key != id.String() {
			raw[id.String()] = dir
		}
	}
	return raw, nil
}

// LayerRoots returns the configured layers in precedence order with their
// directories expanded. Layers with an empty directory are left out.
func (c *Config) LayerRoots() ([]skills.LayerRoot, error) {
	prefixOnly := map[skills.Layer]bool{}
	for _, name := range c.Layers.PrefixOnly {
		layer, err := skills.ParseLayer(name)
		if err != nil {
			return nil, errors.Wrap(err, "invalid layers.prefix_only entry")
		}
		prefixOnly[layer] = true
	}

	dirs := map[skills.Layer]string{
		skills.LayerProject:     c.Layers.Project,
		skills.LayerPersonal:    c.Layers.Personal,
		skills.LayerSuperpowers: c.Layers.Superpowers,
	}

	var roots []skills.LayerRoot
	for _, layer := range skills.AllLayers() {
		if dirs[layer] == "" {
			continue
		}
		dir, err := ExpandPath(dirs[layer])
		if err != nil {
			return nil, err
		}
		roots = append(roots, skills.LayerRoot{Layer: layer, Dir: dir, PrefixOnly: prefixOnly[layer]})
	}
	return roots, nil
}

// SourceRoots returns the roots the installer offers packages from: the
// source tree, followed by every layer when source_layers is set.
func (c *Config) SourceRoots() ([]skills.LayerRoot, error) {
	var roots []skills.LayerRoot
	if c.Source != "" {
		dir, err := ExpandPath(c.Source)
		if err != nil {
			return nil, err
		}
		roots = append(roots, skills.LayerRoot{Layer: skills.LayerSource, Dir: dir})
	}
	if c.SourceLayers || len(roots) == 0 {
		layers, err := c.LayerRoots()
		if err != nil {
			return nil, err
		}
		roots = append(roots, layers...)
	}
	return roots, nil
}

// Destination returns the expanded destination for id
func (c *Config) Destination(id install.DestinationID) (install.Destination, error) {
	dir := c.Destinations[id.String()]
	if dir == "" {
		return install.Destination{}, errors.Errorf("destination %s has no directory configured", id)
	}
	expanded, err := ExpandPath(dir)
	if err != nil {
		return install.Destination{}, err
	}
	return install.Destination{ID: id, Dir: expanded}, nil
}

// AllDestinations returns every configured destination in picker order
func (c *Config) AllDestinations() ([]install.Destination, error) {
	var out []install.Destination
	for _, id := range install.AllDestinations() {
		dest, err := c.Destination(id)
		if err != nil {
			return nil, err
		}
		out = append(out, dest)
	}
	return out, nil
}

// Scanner builds a package scanner from the scan settings
func (c *Config) Scanner() (*skills.Scanner, error) {
	opts := []skills.ScannerOption{skills.WithDepth(c.Scan.Depth)}
	if c.Scan.Ignore != nil {
		opts = append(opts, skills.WithIgnore(c.Scan.Ignore...))
	}
	return skills.NewScanner(opts...)
}

// Materializer builds the materializer selected by install.mode
func (c *Config) Materializer() (install.Materializer, error) {
	mode, err := install.ParseMode(c.Install.Mode)
	if err != nil {
		return nil, err
	}
	return install.NewMaterializer(mode, c.Install.Exclude)
}

// Telemetry returns the tracing settings for the given build version
func (c *Config) Telemetry(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Tracing.Enabled,
		ServiceName:    "skillman",
		ServiceVersion: version,
		SamplerType:    c.Tracing.Sampler,
		SamplerRatio:   c.Tracing.Ratio,
		Exporter:       c.Tracing.Exporter,
	}
}

// ExpandPath expands a leading ~ and makes the path absolute
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "failed to get home directory")
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve path %s", path)
	}
	return abs, nil
}
