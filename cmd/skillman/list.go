package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jingkaihe/skillman/pkg/config"
	"github.com/jingkaihe/skillman/pkg/descriptor"
	"github.com/jingkaihe/skillman/pkg/presenter"
	"github.com/jingkaihe/skillman/pkg/skills"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type ListConfig struct {
	Layer  string
	Format presenter.Format
}

func NewListConfig() *ListConfig {
	return &ListConfig{
		Layer:  "",
		Format: presenter.FormatTable,
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List skill packages in every layer",
	Long: `List every skill package found in the configured layers, in precedence order.
Packages shadowed by an earlier layer are listed too.`,
	Run: func(cmd *cobra.Command, _ []string) {
		config := getListConfigFromFlags(cmd)
		exitOnError(runList(cmd.Context(), cfg, config, os.Stdout), "Failed to list skills")
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <identifier>",
	Short: "Show which package an identifier resolves to",
	Long: `Resolve a skill identifier such as "brainstorming" or "superpowers:brainstorming"
and print the layer, resolution method and package root.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format := outputFormat(cmd)
		exitOnError(runResolve(cmd.Context(), cfg, args[0], format, os.Stdout), "Failed to resolve skill")
	},
}

var showCmd = &cobra.Command{
	Use:   "show <identifier>",
	Short: "Print a skill's descriptor, outline and body",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(runShow(cmd.Context(), cfg, args[0], os.Stdout), "Failed to show skill")
	},
}

func init() {
	defaults := NewListConfig()
	listCmd.Flags().String("layer", defaults.Layer, "Only list one layer (project, personal or superpowers)")
	addOutputFlag(listCmd)
	addOutputFlag(resolveCmd)
}

func getListConfigFromFlags(cmd *cobra.Command) *ListConfig {
	config := NewListConfig()
	if layer, err := cmd.Flags().GetString("layer"); err == nil {
		config.Layer = layer
	}
	config.Format = outputFormat(cmd)
	return config
}

type packageView struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Layer       string `json:"layer" yaml:"layer"`
	Root        string `json:"root" yaml:"root"`
}

func viewOf(pkg *skills.Package) packageView {
	return packageView{
		Name:        pkg.Name(),
		Description: pkg.Description(),
		Layer:       pkg.Layer.String(),
		Root:        pkg.Root,
	}
}

func runList(ctx context.Context, c *config.Config, opts *ListConfig, out io.Writer) error {
	layers, err := c.LayerRoots()
	if err != nil {
		return err
	}
	if opts.Layer != "" {
		layer, err := skills.ParseLayer(opts.Layer)
		if err != nil {
			return err
		}
		var filtered []skills.LayerRoot
		for _, root := range layers {
			if root.Layer == layer {
				filtered = append(filtered, root)
			}
		}
		layers = filtered
	}

	scanner, err := c.Scanner()
	if err != nil {
		return err
	}
	packages := scanner.DiscoverAll(ctx, layers)

	views := make([]packageView, 0, len(packages))
	for _, pkg := range packages {
		views = append(views, viewOf(pkg))
	}

	if opts.Format != presenter.FormatTable {
		return presenter.Encode(out, opts.Format, views)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{v.Name, v.Layer, v.Root, v.Description})
	}
	table(out, []string{"name", "layer", "root", "description"}, rows)
	return nil
}

type resolutionView struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Method     string `json:"method" yaml:"method"`
	packageView `yaml:",inline"`
}

func runResolve(ctx context.Context, c *config.Config, identifier string, format presenter.Format, out io.Writer) error {
	resolver, err := newResolver(c)
	if err != nil {
		return err
	}
	res, err := resolver.Resolve(ctx, identifier)
	if err != nil {
		return err
	}

	view := resolutionView{
		Identifier:  identifier,
		Method:      string(res.Method),
		packageView: viewOf(res.Package),
	}
	if format != presenter.FormatTable {
		return presenter.Encode(out, format, view)
	}

	table(out, []string{"identifier", "layer", "method", "root"}, [][]string{
		{view.Identifier, view.Layer, view.Method, view.Root},
	})
	return nil
}

func runShow(ctx context.Context, c *config.Config, identifier string, out io.Writer) error {
	resolver, err := newResolver(c)
	if err != nil {
		return err
	}
	res, err := resolver.Resolve(ctx, identifier)
	if err != nil {
		return err
	}

	contents, err := os.ReadFile(res.Package.DescriptorPath())
	if err != nil {
		return errors.Wrap(err, "failed to read SKILL.md")
	}

	p := newPresenter(out)
	p.Section(res.Package.Name())
	if desc := res.Package.Description(); desc != "" {
		fmt.Fprintln(out, desc)
	}
	fmt.Fprintf(out, "\nlayer: %s\nroot:  %s\n", res.Package.Layer, res.Package.Root)

	if outline := descriptor.Outline(string(contents)); len(outline) > 0 {
		fmt.Fprintln(out)
		p.Section("Outline")
		for _, h := range outline {
			fmt.Fprintf(out, "%s- %s\n", strings.Repeat("  ", max(h.Level-1, 0)), h.Title)
		}
	}

	fmt.Fprintln(out)
	p.Separator()
	fmt.Fprint(out, descriptor.Body(string(contents)))
	return nil
}

func table(out io.Writer, headers []string, rows [][]string) {
	newPresenter(out).Table(headers, rows)
}
