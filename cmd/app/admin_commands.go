package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/callsync/cmd/app/commands"
	"github.com/allisson/callsync/internal/app"
	"github.com/allisson/callsync/internal/config"
)

func getAdminCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "cleanup",
			Usage: "Remove expired deduplication records, old logs, stale buckets and old monitoring rows",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "monitoring-days",
					Aliases: []string{"d"},
					Value:   30,
					Usage:   "Delete monitoring rows older than this many days",
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

				limiter, err := container.RateLimiter()
				if err != nil {
					return err
				}

				deduplicator, err := container.Deduplicator()
				if err != nil {
					return err
				}

				apiCallRepo, err := container.APICallRepository()
				if err != nil {
					return err
				}

				return commands.RunCleanup(
					ctx,
					limiter,
					deduplicator,
					apiCallRepo,
					container.Logger(),
					commands.DefaultIO().Writer,
					cfg.RateLimitBucketMaxAge,
					int(cmd.Int("monitoring-days")),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "api-stats",
			Usage: "Show outbound API call statistics per service",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "hours",
					Aliases: []string{"H"},
					Value:   24,
					Usage:   "Aggregation window in hours",
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

				apiCallRepo, err := container.APICallRepository()
				if err != nil {
					return err
				}

				return commands.RunAPIStats(
					ctx,
					apiCallRepo,
					commands.DefaultIO().Writer,
					int(cmd.Int("hours")),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "webhook-stats",
			Usage: "Show webhook processing statistics per type and status",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "hours",
					Aliases: []string{"H"},
					Value:   24,
					Usage:   "Aggregation window in hours",
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

				deduplicator, err := container.Deduplicator()
				if err != nil {
					return err
				}

				return commands.RunWebhookStats(
					ctx,
					deduplicator,
					commands.DefaultIO().Writer,
					int(cmd.Int("hours")),
					cmd.String("format"),
				)
			},
		},
	}
}
