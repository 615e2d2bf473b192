// cmd/s3tar/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/s3tar/internal/archive"
	"github.com/andresuchdata/s3tar/pkg/logger"
)

func transferFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-concurrency",
			Usage: "Maximum number of objects transferred at once",
		},
		&cli.StringFlag{
			Name:  "multipart-threshold",
			Usage: "Objects at or above this size are uploaded in parts (e.g. 8MiB)",
		},
		&cli.StringFlag{
			Name:  "multipart-chunk-size",
			Usage: "Part size for multipart uploads, at least 5MiB",
		},
		&cli.IntFlag{
			Name:  "chunk-queue",
			Usage: "Chunks buffered per object before its producer waits",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "S3 endpoint, overriding S3_ENDPOINT",
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "s3tar",
		Usage: "Stream tar archives to and from S3-compatible object storage",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every entry and part",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Only log errors",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a tar archive from objects",
				ArgsUsage: "<s3://bucket/[prefix/|key|glob]>...",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Write the archive to a local file",
					},
					&cli.StringFlag{
						Name:    "s3",
						Aliases: []string{"s"},
						Usage:   "Write the archive to an object (s3://bucket/key)",
					},
					&cli.BoolFlag{
						Name:    "stdout",
						Aliases: []string{"t"},
						Usage:   "Write the archive to standard output",
					},
					&cli.BoolFlag{
						Name:  "allow-unmatched",
						Usage: "Warn instead of failing when one of several patterns matches nothing",
					},
				}, transferFlags()...),
				Action: runCreate,
			},
			{
				Name:      "extract",
				Usage:     "Extract a tar archive into objects",
				ArgsUsage: "<s3://bucket/[prefix/]>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Read the archive from a local file",
					},
					&cli.StringFlag{
						Name:    "s3",
						Aliases: []string{"s"},
						Usage:   "Read the archive from an object (s3://bucket/key)",
					},
					&cli.BoolFlag{
						Name:    "stdin",
						Aliases: []string{"t"},
						Usage:   "Read the archive from standard input",
					},
				}, transferFlags()...),
				Action: runExtract,
			},
			{
				Name:  "runs",
				Usage: "Show recorded runs from the journal",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of recent runs to show",
					},
					&cli.Int64Flag{
						Name:  "id",
						Usage: "Show only the run with this id",
					},
				},
				Action: runRuns,
			},
		},
	}
}

func setupLogging(c *cli.Context) error {
	switch {
	case c.Bool("verbose"):
		logger.SetLevel("debug")
	case c.Bool("quiet"):
		logger.SetLevel("error")
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Log.Error().Err(err).Str("kind", archive.KindOf(err).String()).Msg("s3tar failed")
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch archive.KindOf(err) {
	case archive.KindValidation:
		return 2
	case archive.KindResolution:
		return 3
	case archive.KindLimit:
		return 4
	case archive.KindStore:
		return 5
	case archive.KindPipeline:
		return 6
	}
	return 1
}
