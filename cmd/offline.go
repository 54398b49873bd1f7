package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// OfflineList prints the catalog, optionally filtered by artist and album.
func (r *Runner) OfflineList(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}

	tracks, err := c.OfflineTracks(ctx, cmd.String("artist"), cmd.String("album"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(tracks, true)
	}
	if len(tracks) == 0 {
		return r.writePlain("No offline tracks\n")
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}

	r.writePlain("%s\n", formatter.TracksTable(tracks))
	return r.writePlain("Library: %d tracks, %s on disk\n", stats.Tracks, humanize.Bytes(uint64(max(stats.TotalBytes, 0))))
}

// OfflineRemove deletes each positional id from the catalog and disk.
func (r *Runner) OfflineRemove(ctx context.Context, cmd *cli.Command) error {
	ids, err := requireArgs(cmd, "item id")
	if err != nil {
		return err
	}

	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.RemoveOfflineTrack(ctx, id); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		r.writePlain("✓ Removed %s\n", id)
	}
	return nil
}

// OfflineVerify runs the integrity sweep and lists what it dropped.
func (r *Runner) OfflineVerify(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}

	removed, err := c.VerifyIntegrity(ctx)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return r.writePlain("✓ All offline tracks are intact\n")
	}

	r.writePlainHeader(fmt.Sprintf("Removed %d track(s) with missing files", len(removed)))
	for _, id := range removed {
		r.writePlain("  • %s\n", id)
	}
	return nil
}

// OfflineClear wipes every track, job and file. Requires --yes.
func (r *Runner) OfflineClear(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: pass --yes to delete every offline track", shared.ErrMissingArgument)
	}

	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}
	if err := c.ClearAll(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Offline library cleared\n")
}

// OfflineExport writes the catalog in the requested format.
func (r *Runner) OfflineExport(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}

	tracks, err := c.OfflineTracks(ctx, "", "")
	if err != nil {
		return err
	}

	path, err := formatter.WriteExport(tracks, cmd.String("format"), cmd.String("output"))
	if err != nil {
		return err
	}
	r.logger.Info("catalog exported", "path", path, "tracks", len(tracks))
	return r.writePlain("✓ Exported %d track(s) to %s\n", len(tracks), path)
}
