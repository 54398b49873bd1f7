package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/normalizer"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and coordinator are opened lazily by [Runner.open] so that commands like
// setup never take the data directory lock.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer

	fetcher   services.Fetcher
	describer services.Describer
	covers    services.CoverFetcher

	db          *sql.DB
	store       *repositories.Store
	coordinator *tasks.Coordinator
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Fetcher, Describer and Covers default to a [services.RemoteService] built from the config.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Fetcher    services.Fetcher
	Describer  services.Describer
	Covers     services.CoverFetcher
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		fetcher:    opts.Fetcher,
		describer:  opts.Describer,
		covers:     opts.Covers,
	}
}

// SetLogger replaces the logger used by commands and by anything opened afterwards.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, queueCommand, downloadCommand, offlineCommand, monitorCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// app builds the root command. Flags declared here are visible to every subcommand.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "crate",
		Usage:   "Offline cache and play queue for a remote music server",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Before:   r.before,
		After:    r.after,
		Commands: r.register(),
	}
}

// before loads the configuration unless one was injected, and applies the log level.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(cmd.String("log-level")))

	if r.config != nil && !cmd.IsSet("config") {
		return ctx, nil
	}

	r.configPath = cmd.String("config")
	config, err := shared.LoadConfigOrDefault(r.configPath)
	if err != nil {
		return ctx, err
	}
	if err := config.Validate(); err != nil {
		return ctx, err
	}
	r.config = config
	return ctx, nil
}

func (r *Runner) after(context.Context, *cli.Command) error {
	return r.close()
}

// open connects the database, builds the store and the coordinator, and opens it.
// When start is set the coordinator also begins scheduling work.
func (r *Runner) open(ctx context.Context, start bool) (*tasks.Coordinator, error) {
	if r.coordinator != nil {
		return r.coordinator, nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db

	norm := normalizer.New(normalizer.WithLogger(r.logger))
	r.store = repositories.NewStore(db, norm, r.logger)

	if r.fetcher == nil {
		remote := services.NewRemoteServiceFromConfig(r.config.Remote)
		r.fetcher = remote
		if r.describer == nil {
			r.describer = remote
		}
		if r.covers == nil {
			r.covers = remote
		}
	}

	opts := []tasks.Option{tasks.WithNormalizer(norm), tasks.WithLogger(r.logger)}
	if r.describer != nil {
		opts = append(opts, tasks.WithDescriber(r.describer))
	}
	if r.covers != nil {
		opts = append(opts, tasks.WithCoverFetcher(r.covers))
	}

	coordinator := tasks.NewCoordinator(r.store, r.fetcher, tasks.ConfigFrom(r.config), opts...)
	if start {
		err = coordinator.Start(ctx)
	} else {
		err = coordinator.Open(ctx)
	}
	if err != nil {
		r.close()
		return nil, err
	}

	r.coordinator = coordinator
	return coordinator, nil
}

// close releases everything open built, in reverse order. Safe to call more than once.
func (r *Runner) close() error {
	var errs []error
	if r.coordinator != nil {
		errs = append(errs, r.coordinator.Close())
		r.coordinator = nil
	}
	if r.store != nil {
		r.store.Close()
		r.store = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
