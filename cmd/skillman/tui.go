package main

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jingkaihe/skillman/pkg/db"
	"github.com/jingkaihe/skillman/pkg/logger"
	"github.com/jingkaihe/skillman/pkg/tui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive installer",
	Long: `Open the interactive installer. Pick a destination, toggle skills with space
and press enter to apply. Logs go to a file under ~/.skillman/logs while the
installer is open; press l to view them.`,
	Run: func(cmd *cobra.Command, _ []string) {
		exitOnError(runTUI(cmd), "Interactive installer failed")
	},
}

func runTUI(cmd *cobra.Command) error {
	ctx := cmd.Context()

	base, err := db.BaseDir()
	if err != nil {
		return err
	}
	logPath, err := logger.SetLogFile(filepath.Join(base, "logs"))
	if err != nil {
		return err
	}
	defer logger.CloseLogFile()

	store := openStore(ctx)
	defer closeStore(ctx, store)

	engine, err := newEngine(ctx, cfg, store)
	if err != nil {
		return err
	}
	destinations, err := cfg.AllDestinations()
	if err != nil {
		return err
	}

	opts := []tui.Option{tui.WithLogPath(logPath)}
	if store != nil {
		opts = append(opts, tui.WithStore(store))
	}
	model := tui.NewModel(ctx, engine, destinations, opts...)

	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return errors.Wrap(err, "interactive installer exited with an error")
	}
	return nil
}
