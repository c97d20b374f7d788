package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jingkaihe/skillman/pkg/config"
	"github.com/jingkaihe/skillman/pkg/install"
	"github.com/jingkaihe/skillman/pkg/presenter"
	"github.com/jingkaihe/skillman/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// selectionMode is how the keys given to install, remove or sync change the selection
type selectionMode string

const (
	selectAdd     selectionMode = "install"
	selectDrop    selectionMode = "remove"
	selectExactly selectionMode = "sync"
)

type ApplyConfig struct {
	DryRun bool
	Format presenter.Format
	// Yes skips the confirmation asked before sync removes every installed skill
	Yes   bool
	Input io.Reader
}

func NewApplyConfig() *ApplyConfig {
	return &ApplyConfig{
		DryRun: false,
		Format: presenter.FormatTable,
		Yes:    false,
		Input:  os.Stdin,
	}
}

var installedCmd = &cobra.Command{
	Use:   "installed",
	Short: "List the skills installed at a destination",
	Run: func(cmd *cobra.Command, _ []string) {
		dest, err := destinationFromFlags(cmd, cfg)
		exitOnError(err, "Invalid destination")
		exitOnError(runInstalled(cmd.Context(), cfg, dest, outputFormat(cmd), os.Stdout), "Failed to list installed skills")
	},
}

var installCmd = &cobra.Command{
	Use:   "install <key>...",
	Short: "Install skills into a destination",
	Long: `Install skills into a destination. Keys are skill names, or <layer>:<name>
when several layers hold a skill with the same name (see "skillman installed").

Examples:
  skillman install --dest global brainstorming pdf
  skillman install --dest project_tool personal:brainstorming --dry-run`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runApplyCommand(cmd, selectAdd, args)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <key>...",
	Short: "Remove skills from a destination",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runApplyCommand(cmd, selectDrop, args)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <key>...",
	Short: "Make a destination hold exactly the given skills",
	Long: `Make a destination hold exactly the given skills: missing ones are installed
and every other installed skill is removed. Without keys everything is removed.`,
	Run: func(cmd *cobra.Command, args []string) {
		runApplyCommand(cmd, selectExactly, args)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Re-install every installed skill from its source",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		dest, err := destinationFromFlags(cmd, cfg)
		exitOnError(err, "Invalid destination")

		store := openStore(ctx)
		err = runUpdate(ctx, cfg, store, dest, outputFormat(cmd), os.Stdout)
		closeStore(ctx, store)
		exitOnError(err, "Update failed")
	},
}

func init() {
	defaults := NewApplyConfig()
	for _, cmd := range []*cobra.Command{installedCmd, installCmd, removeCmd, syncCmd, updateCmd} {
		cmd.Flags().String("dest", "", "Destination (global, project_tool or project_other)")
		addOutputFlag(cmd)
	}
	for _, cmd := range []*cobra.Command{installCmd, removeCmd, syncCmd} {
		cmd.Flags().Bool("dry-run", defaults.DryRun, "Print the plan without changing anything")
	}
	syncCmd.Flags().BoolP("yes", "y", defaults.Yes, "Do not ask before removing every installed skill")
}

func getApplyConfigFromFlags(cmd *cobra.Command) *ApplyConfig {
	config := NewApplyConfig()
	if dryRun, err := cmd.Flags().GetBool("dry-run"); err == nil {
		config.DryRun = dryRun
	}
	if yes, err := cmd.Flags().GetBool("yes"); err == nil {
		config.Yes = yes
	}
	config.Format = outputFormat(cmd)
	return config
}

func runApplyCommand(cmd *cobra.Command, mode selectionMode, keys []string) {
	ctx := cmd.Context()
	opts := getApplyConfigFromFlags(cmd)
	dest, err := destinationFromFlags(cmd, cfg)
	exitOnError(err, "Invalid destination")

	store := openStore(ctx)
	err = runApply(ctx, cfg, store, dest, mode, keys, opts, os.Stdout)
	closeStore(ctx, store)
	exitOnError(err, fmt.Sprintf("skillman %s failed", mode))
}

type installedView struct {
	Key    string `json:"key" yaml:"key"`
	Name   string `json:"name" yaml:"name"`
	Path   string `json:"path" yaml:"path"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Layer  string `json:"layer,omitempty" yaml:"layer,omitempty"`
}

func runInstalled(ctx context.Context, c *config.Config, dest install.Destination, format presenter.Format, out io.Writer) error {
	engine, err := newEngine(ctx, c, nil)
	if err != nil {
		return err
	}
	if err := engine.ChooseDestination(ctx, dest); err != nil {
		return err
	}

	var views []installedView
	for _, entry := range engine.Entries() {
		path, ok := engine.InstalledPath(entry.Key)
		if !ok {
			continue
		}
		view := installedView{Key: entry.Key, Name: entry.Name(), Path: path}
		if !entry.Orphan {
			view.Source = entry.Package.Root
			view.Layer = entry.Package.Layer.String()
		}
		views = append(views, view)
	}

	if format != presenter.FormatTable {
		return presenter.Encode(out, format, views)
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		source := v.Source
		if source == "" {
			source = "(unknown)"
		}
		rows = append(rows, []string{v.Key, v.Path, source})
	}
	table(out, []string{"key", "path", "source"}, rows)
	return nil
}

// runApply chooses dest, edits the selection per mode and applies it. store may be nil.
func runApply(ctx context.Context, c *config.Config, store *state.Store, dest install.Destination, mode selectionMode, keys []string, opts *ApplyConfig, out io.Writer) error {
	engine, err := newEngine(ctx, c, store)
	if err != nil {
		return err
	}
	if err := engine.ChooseDestination(ctx, dest); err != nil {
		return err
	}

	switch mode {
	case selectAdd, selectDrop:
		for _, key := range keys {
			if err := engine.Select(key, mode == selectAdd); err != nil {
				return err
			}
		}
	case selectExactly:
		if err := engine.SetPending(keys); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown selection mode %q", mode)
	}

	p := newPresenter(out)
	plan := engine.Plan()
	if opts.DryRun {
		if opts.Format != presenter.FormatTable {
			return presenter.Encode(out, opts.Format, plan)
		}
		if plan.Empty() {
			p.Info("Nothing to do")
			return nil
		}
		rows := make([][]string, 0, len(plan.ToInstall)+len(plan.ToRemove))
		for _, key := range plan.ToRemove {
			rows = append(rows, []string{string(install.ActionRemove), key})
		}
		for _, key := range plan.ToInstall {
			rows = append(rows, []string{string(install.ActionInstall), key})
		}
		table(out, []string{"action", "key"}, rows)
		return nil
	}

	if mode == selectExactly && len(keys) == 0 && len(plan.ToRemove) > 0 && !opts.Yes {
		if opts.Input != nil {
			p.SetInput(opts.Input)
		}
		question := fmt.Sprintf("Remove all %d installed skills from %s?", len(plan.ToRemove), dest.ID.Label())
		if answer := strings.ToLower(p.Prompt(question, "y", "N")); answer != "y" && answer != "yes" {
			p.Info("Aborted, nothing changed")
			return nil
		}
	}

	report, err := engine.Apply(ctx)
	if err != nil {
		return err
	}
	return writeReport(p, out, opts.Format, report)
}

func runUpdate(ctx context.Context, c *config.Config, store *state.Store, dest install.Destination, format presenter.Format, out io.Writer) error {
	engine, err := newEngine(ctx, c, store)
	if err != nil {
		return err
	}
	if err := engine.ChooseDestination(ctx, dest); err != nil {
		return err
	}
	report, err := engine.Reinstall(ctx)
	if err != nil {
		return err
	}
	return writeReport(newPresenter(out), out, format, report)
}

// writeReport prints the outcomes of a run and returns the aggregated failures
func writeReport(p presenter.Presenter, out io.Writer, format presenter.Format, report *install.Report) error {
	if format != presenter.FormatTable {
		if err := presenter.Encode(out, format, report); err != nil {
			return err
		}
		return report.Err()
	}

	if len(report.Outcomes) == 0 {
		p.Info("Nothing to do")
		return nil
	}
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		status := "ok"
		if o.Error != "" {
			status = "failed: " + o.Error
		}
		rows = append(rows, []string{string(o.Action), o.Key, o.Path, status})
	}
	p.Table([]string{"action", "key", "path", "status"}, rows)

	if failed := report.Failed(); len(failed) > 0 {
		p.Warning(fmt.Sprintf("%d of %d operations failed", len(failed), len(report.Outcomes)))
	} else {
		p.Success(summarize(report))
	}
	return report.Err()
}

// summarize counts successful outcomes per action, e.g. "2 installed, 1 removed"
func summarize(report *install.Report) string {
	var parts []string
	for _, a := range []struct {
		action install.Action
		verb   string
	}{
		{install.ActionInstall, "installed"},
		{install.ActionRemove, "removed"},
		{install.ActionUpdate, "updated"},
	} {
		if n := len(report.Succeeded(a.action)); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, a.verb))
		}
	}
	return strings.Join(parts, ", ")
}
