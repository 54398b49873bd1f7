package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

// Monitor launches the interactive download monitor. Downloads run in this process while it is open.
func (r *Runner) Monitor(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, f, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return err
	}
	defer f.Close()

	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	c, err := r.open(ctx, true)
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, c)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
