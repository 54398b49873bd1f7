// submodule cmd contains command definitions
package main

import (
	"strings"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/urfave/cli/v3"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

func qualityNames() string {
	names := make([]string, 0, len(models.Qualities()))
	for _, q := range models.Qualities() {
		names = append(names, q.String())
	}
	return strings.Join(names, ", ")
}

// setupCommand handles setup operations for configuration and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// queueCommand handles play queue edits
func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "Inspect and edit the play queue",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the queue in order",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.QueueShow,
			},
			{
				Name:      "set",
				Usage:     "Replace the queue with the given item ids",
				ArgsUsage: "<id>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "start",
						Usage: "Index of the entry to mark as playing",
						Value: -1,
					},
				},
				Action: r.QueueSet,
			},
			{
				Name:      "add",
				Usage:     "Insert item ids into the queue",
				ArgsUsage: "<id>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "at",
						Usage: "Index to insert at (default: end of queue)",
						Value: -1,
					},
					&cli.BoolFlag{
						Name:  "reset",
						Usage: "Replace the queue with just these items",
					},
				},
				Action: r.QueueAdd,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove the entry at index, or entries in [from, to)",
				ArgsUsage: "<index> [to]",
				Action:    r.QueueRemove,
			},
			{
				Name:      "move",
				Aliases:   []string{"mv"},
				Usage:     "Move the entry at one index to another",
				ArgsUsage: "<from> <to>",
				Action:    r.QueueMove,
			},
			{
				Name:  "shuffle",
				Usage: "Shuffle the queue",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "keep",
						Usage: "Index of the entry to keep at the front",
						Value: -1,
					},
				},
				Action: r.QueueShuffle,
			},
			{
				Name:   "clear",
				Usage:  "Empty the queue",
				Action: r.QueueClear,
			},
		},
	}
}

// downloadCommand handles offline download jobs
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Manage offline downloads",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Download items for offline playback",
				ArgsUsage: "<id>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "quality",
						Aliases: []string{"q"},
						Usage:   "Quality profile (" + qualityNames() + ")",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Run the download now and show progress; without it the job waits for serve or monitor",
						Value: true,
					},
				},
				Action: r.DownloadGet,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a download and remove its files",
				ArgsUsage: "<id>...",
				Action:    r.DownloadCancel,
			},
			{
				Name:      "status",
				Usage:     "Show download jobs",
				ArgsUsage: "[id]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.DownloadStatus,
			},
			{
				Name:   "active",
				Usage:  "Show pending and running downloads",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.DownloadActive,
			},
			{
				Name:      "retry",
				Usage:     "Retry a failed or cancelled download",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Run the download now and show progress",
						Value: true,
					},
				},
				Action: r.DownloadRetry,
			},
		},
	}
}

// offlineCommand handles the offline catalog
func offlineCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "offline",
		Usage: "Manage downloaded tracks",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List downloaded tracks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "artist", Usage: "Only tracks by this artist"},
					&cli.StringFlag{Name: "album", Usage: "Only tracks on this album"},
					jsonFlag(),
				},
				Action: r.OfflineList,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Delete downloaded tracks and their files",
				ArgsUsage: "<id>...",
				Action:    r.OfflineRemove,
			},
			{
				Name:   "verify",
				Usage:  "Drop tracks whose files are missing or empty",
				Action: r.OfflineVerify,
			},
			{
				Name:  "clear",
				Usage: "Delete every downloaded track and job",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Skip the confirmation check",
					},
				},
				Action: r.OfflineClear,
			},
			{
				Name:  "export",
				Usage: "Export the catalog to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (" + strings.Join(formatter.Formats(), ", ") + ")",
						Value:   formatter.FormatCSV,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: offline_<timestamp>.<ext>)",
					},
				},
				Action: r.OfflineExport,
			},
		},
	}
}

// monitorCommand returns the top-level TUI command for watching downloads.
func monitorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "monitor",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the interactive download monitor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where logs go while the monitor owns the terminal",
				Value: "./tmp/crate-monitor.log",
			},
		},
		Action: r.Monitor,
	}
}

// serveCommand runs the download worker pool behind the local status API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run downloads and the local status API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port from config)",
			},
			&cli.BoolFlag{
				Name:  "allow-any-origin",
				Usage: "Accept websocket connections from any origin",
			},
		},
		Action: r.Serve,
	}
}
