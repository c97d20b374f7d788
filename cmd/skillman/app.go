package main

import (
	"context"
	"io"
	"os"

	"github.com/jingkaihe/skillman/pkg/config"
	"github.com/jingkaihe/skillman/pkg/install"
	"github.com/jingkaihe/skillman/pkg/logger"
	"github.com/jingkaihe/skillman/pkg/presenter"
	"github.com/jingkaihe/skillman/pkg/skills"
	"github.com/jingkaihe/skillman/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// exitOnError reports err through the presenter and exits non-zero
func exitOnError(err error, context string) {
	if err == nil {
		return
	}
	presenter.Error(err, context)
	os.Exit(1)
}

// newPresenter writes to out and follows the global --quiet setting
func newPresenter(out io.Writer) *presenter.TerminalPresenter {
	p := presenter.NewWithOptions(out, os.Stderr, presenter.ColorAuto)
	p.SetQuiet(presenter.IsQuiet())
	return p
}

// openStore opens the state store. The store is optional: a failure is
// logged and nil is returned.
func openStore(ctx context.Context) *state.Store {
	store, err := state.OpenDefault(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("state store unavailable, continuing without history")
		return nil
	}
	return store
}

func closeStore(ctx context.Context, store *state.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.G(ctx).WithError(err).Debug("failed to close state store")
	}
}

func newResolver(c *config.Config) (*skills.Resolver, error) {
	layers, err := c.LayerRoots()
	if err != nil {
		return nil, err
	}
	scanner, err := c.Scanner()
	if err != nil {
		return nil, err
	}
	return skills.NewResolver(layers, skills.WithScanner(scanner))
}

// newEngine discovers the installer's source packages and builds an engine
// over them. store may be nil.
func newEngine(ctx context.Context, c *config.Config, store *state.Store) (*install.Engine, error) {
	roots, err := c.SourceRoots()
	if err != nil {
		return nil, err
	}
	scanner, err := c.Scanner()
	if err != nil {
		return nil, err
	}
	materializer, err := c.Materializer()
	if err != nil {
		return nil, err
	}

	packages := scanner.DiscoverAll(ctx, roots)
	logger.G(ctx).WithField("packages", len(packages)).Debug("discovered source packages")

	opts := []install.Option{install.WithMaterializer(materializer), install.WithScanner(scanner)}
	if store != nil {
		opts = append(opts, install.WithRecorder(store))
	}
	return install.NewEngine(packages, opts...)
}

// destinationFromFlags resolves the --dest flag against the configuration
func destinationFromFlags(cmd *cobra.Command, c *config.Config) (install.Destination, error) {
	raw, _ := cmd.Flags().GetString("dest")
	if raw == "" {
		return install.Destination{}, errors.New("--dest is required (global, project_tool or project_other)")
	}
	id, err := install.ParseDestinationID(raw)
	if err != nil {
		return install.Destination{}, err
	}
	return c.Destination(id)
}

func outputFormat(cmd *cobra.Command) presenter.Format {
	raw, _ := cmd.Flags().GetString("output")
	format, err := presenter.ParseFormat(raw)
	exitOnError(err, "Invalid --output value")
	return format
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", string(presenter.FormatTable), "Output format (table, json or yaml)")
}
