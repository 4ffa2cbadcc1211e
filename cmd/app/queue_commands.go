package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/callsync/cmd/app/commands"
	"github.com/allisson/callsync/internal/app"
	"github.com/allisson/callsync/internal/config"
)

func getQueueCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "sync-calls",
			Usage: "Enqueue a call synchronization task for a date range",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "start-date",
					Aliases:  []string{"s"},
					Required: true,
					Usage:    "Start date in YYYY-MM-DD format",
				},
				&cli.StringFlag{
					Name:    "end-date",
					Aliases: []string{"e"},
					Usage:   "End date in YYYY-MM-DD format (defaults to start date)",
				},
				&cli.StringFlag{
					Name:    "batch-id",
					Aliases: []string{"b"},
					Usage:   "Batch identifier attached to every task in the pipeline",
				},
				&cli.IntFlag{
					Name:    "priority",
					Aliases: []string{"p"},
					Usage:   "Task priority (lower runs first, default 5)",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				taskQueue, err := container.TaskQueue()
				if err != nil {
					return err
				}

				return commands.RunSyncCalls(
					ctx,
					taskQueue,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("start-date"),
					cmd.String("end-date"),
					cmd.String("batch-id"),
					int(cmd.Int("priority")),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "dlq-list",
			Usage: "List dead-lettered tasks",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "limit",
					Aliases: []string{"l"},
					Value:   50,
					Usage:   "Maximum number of tasks to list",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				taskQueue, err := container.TaskQueue()
				if err != nil {
					return err
				}

				return commands.RunDLQList(
					ctx,
					taskQueue,
					commands.DefaultIO().Writer,
					int(cmd.Int("limit")),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "dlq-requeue",
			Usage: "Return a dead-lettered task to the pending pool",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "id",
					Aliases:  []string{"i"},
					Required: true,
					Usage:    "Task ID (UUID)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				taskQueue, err := container.TaskQueue()
				if err != nil {
					return err
				}

				return commands.RunDLQRequeue(
					ctx,
					taskQueue,
					commands.DefaultIO().Writer,
					cmd.String("id"),
				)
			},
		},
	}
}
