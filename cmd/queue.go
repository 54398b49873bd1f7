package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// QueueShow prints the committed queue.
func (r *Runner) QueueShow(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}

	entries, err := c.Queue(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(entries, true)
	}
	if len(entries) == 0 {
		return r.writePlain("Queue is empty\n")
	}

	r.writePlain("%s\n", formatter.QueueTable(entries))
	if index, ok, err := r.store.Queue.LastPlayedIndex(ctx); err != nil {
		return err
	} else if ok && index < len(entries) {
		r.writePlain("Last played: #%d (%s)\n", index, entries[index].ID)
	}
	return nil
}

// QueueSet replaces the queue with the positional ids.
func (r *Runner) QueueSet(ctx context.Context, cmd *cli.Command) error {
	ids, err := requireArgs(cmd, "item id")
	if err != nil {
		return err
	}
	return r.editQueue(ctx, func(ctx context.Context) ([]models.QueueEntry, error) {
		return r.coordinator.ReplaceQueue(ctx, ids, cmd.Int("start"))
	})
}

// QueueAdd inserts the positional ids at --at, or appends them.
func (r *Runner) QueueAdd(ctx context.Context, cmd *cli.Command) error {
	ids, err := requireArgs(cmd, "item id")
	if err != nil {
		return err
	}
	return r.editQueue(ctx, func(ctx context.Context) ([]models.QueueEntry, error) {
		at := cmd.Int("at")
		if at < 0 {
			current, err := r.coordinator.Queue(ctx)
			if err != nil {
				return nil, err
			}
			at = len(current)
		}
		return r.coordinator.InsertAllAt(ctx, ids, cmd.Bool("reset"), at)
	})
}

// QueueRemove drops one entry, or the half-open range [from, to).
func (r *Runner) QueueRemove(ctx context.Context, cmd *cli.Command) error {
	indices, err := intArgs(cmd, 1, 2)
	if err != nil {
		return err
	}
	return r.editQueue(ctx, func(ctx context.Context) ([]models.QueueEntry, error) {
		if len(indices) == 2 {
			return r.coordinator.RemoveRange(ctx, indices[0], indices[1])
		}
		return r.coordinator.RemoveAt(ctx, indices[0])
	})
}

// QueueMove moves the entry at from to to.
func (r *Runner) QueueMove(ctx context.Context, cmd *cli.Command) error {
	indices, err := intArgs(cmd, 2, 2)
	if err != nil {
		return err
	}
	return r.editQueue(ctx, func(ctx context.Context) ([]models.QueueEntry, error) {
		return r.coordinator.Swap(ctx, indices[0], indices[1])
	})
}

// QueueShuffle shuffles the queue, optionally pinning --keep to the front.
func (r *Runner) QueueShuffle(ctx context.Context, cmd *cli.Command) error {
	return r.editQueue(ctx, func(ctx context.Context) ([]models.QueueEntry, error) {
		return r.coordinator.Shuffle(ctx, cmd.Int("keep"))
	})
}

// QueueClear empties the queue.
func (r *Runner) QueueClear(ctx context.Context, cmd *cli.Command) error {
	c, err := r.open(ctx, false)
	if err != nil {
		return err
	}
	if err := c.ClearQueue(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Queue cleared\n")
}

// editQueue opens the coordinator, applies fn and prints the resulting queue.
func (r *Runner) editQueue(ctx context.Context, fn func(ctx context.Context) ([]models.QueueEntry, error)) error {
	if _, err := r.open(ctx, false); err != nil {
		return err
	}

	entries, err := fn(ctx)
	if err != nil {
		return err
	}

	r.logger.Debug("queue updated", "entries", len(entries))
	if len(entries) == 0 {
		return r.writePlain("Queue is empty\n")
	}
	return r.writePlain("%s\n", formatter.QueueTable(entries))
}

// requireArgs returns the positional arguments, failing when there are none.
func requireArgs(cmd *cli.Command, what string) ([]string, error) {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: at least one %s", shared.ErrMissingArgument, what)
	}
	return args, nil
}

// intArgs parses between least and most integer positional arguments.
func intArgs(cmd *cli.Command, least, most int) ([]int, error) {
	args := cmd.Args().Slice()
	if len(args) < least || len(args) > most {
		return nil, fmt.Errorf("%w: expected %d to %d indices, got %d", shared.ErrInvalidArgument, least, most, len(args))
	}

	values := make([]int, len(args))
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: index %q is not a number", shared.ErrInvalidArgument, arg)
		}
		values[i] = n
	}
	return values, nil
}
