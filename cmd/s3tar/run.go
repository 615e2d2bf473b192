package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/s3tar/internal/archive"
	"github.com/andresuchdata/s3tar/internal/config"
	"github.com/andresuchdata/s3tar/internal/events"
	"github.com/andresuchdata/s3tar/internal/journal"
	"github.com/andresuchdata/s3tar/internal/storage"
	"github.com/andresuchdata/s3tar/pkg/logger"
)

func runCreate(c *cli.Context) error {
	if c.NArg() == 0 {
		return archive.ErrNoSelectors
	}
	patterns := make([]archive.SelectionPattern, 0, c.NArg())
	for _, raw := range c.Args().Slice() {
		p, err := archive.ParseSelectionURL(raw)
		if err != nil {
			return err
		}
		patterns = append(patterns, p)
	}
	out, err := archive.ChooseEndpoint("output", c.String("file"), c.String("s3"), c.Bool("stdout"))
	if err != nil {
		return err
	}

	source := strings.Join(c.Args().Slice(), " ")
	return withEngine(c, archive.OperationCreate, source, out.String(), func(ctx context.Context, engine *archive.Engine) error {
		return engine.Create(ctx, patterns, out)
	})
}

func runExtract(c *cli.Context) error {
	if c.NArg() != 1 {
		return &archive.ArgumentError{Command: "extract", Want: 1, Got: c.NArg()}
	}
	target, err := archive.ParseTargetURL(c.Args().First())
	if err != nil {
		return err
	}
	in, err := archive.ChooseEndpoint("input", c.String("file"), c.String("s3"), c.Bool("stdin"))
	if err != nil {
		return err
	}

	return withEngine(c, archive.OperationExtract, in.String(), target.String(), func(ctx context.Context, engine *archive.Engine) error {
		return engine.Extract(ctx, in, target)
	})
}

// withEngine builds the store, hooks and optional journal for one run.
func withEngine(c *cli.Context, operation, source, target string, fn func(context.Context, *archive.Engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		return &archive.OptionsError{Field: "LOG_FORMAT", Reason: err.Error()}
	}
	if !c.Bool("verbose") && !c.Bool("quiet") && cfg.LogLevel != "" {
		logger.SetLevel(cfg.LogLevel)
	}

	opts, err := transferOptions(c, cfg.Transfer)
	if err != nil {
		return err
	}
	opts.AllowUnmatchedPatterns = c.Bool("allow-unmatched")

	s3cfg := cfg.S3
	if endpoint := c.String("endpoint"); endpoint != "" {
		s3cfg.Endpoint = endpoint
	}
	store, err := storage.NewS3Store(s3cfg)
	if err != nil {
		return err
	}

	hooks := []archive.Hook{events.NewLogHook(logger.Log)}

	if cfg.Events.Enabled() {
		redisHook, err := events.NewRedisHook(cfg.Events)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("event publishing disabled")
		} else {
			defer redisHook.Close()
			hooks = append(hooks, redisHook)
		}
	}

	var recorder *journal.Recorder
	if cfg.Journal.Enabled {
		var db *sqlx.DB
		recorder, db, err = startJournal(c.Context, cfg.Journal, operation, source, target)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("run journal disabled")
		} else {
			defer db.Close()
			hooks = append(hooks, recorder)
		}
	}

	opts.Hook = events.Multi(hooks...)
	engine, err := archive.NewEngine(store, opts)
	if err != nil {
		return err
	}

	runErr := fn(c.Context, engine)
	if recorder != nil {
		if err := recorder.Finish(context.WithoutCancel(c.Context), runErr); err != nil {
			logger.Log.Warn().Err(err).Msg("failed to record run outcome")
		}
	}
	return runErr
}

func startJournal(ctx context.Context, cfg config.JournalConfig, operation, source, target string) (*journal.Recorder, *sqlx.DB, error) {
	db, err := journal.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	repo := journal.NewRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating journal schema: %w", err)
	}
	recorder := journal.NewRecorder(repo, operation, source, target)
	if err := recorder.Start(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("recording run start: %w", err)
	}
	return recorder, db, nil
}

// transferOptions applies command line overrides on top of the config.
func transferOptions(c *cli.Context, t config.TransferConfig) (archive.Options, error) {
	if c.IsSet("max-concurrency") {
		t.MaxConcurrency = c.Int("max-concurrency")
	}
	if c.IsSet("chunk-queue") {
		t.ChunkQueue = c.Int("chunk-queue")
	}
	if c.IsSet("multipart-threshold") {
		n, err := config.ParseSize(c.String("multipart-threshold"))
		if err != nil {
			return archive.Options{}, &archive.OptionsError{Field: "multipart-threshold", Reason: err.Error()}
		}
		t.MultipartThreshold = n
	}
	if c.IsSet("multipart-chunk-size") {
		n, err := config.ParseSize(c.String("multipart-chunk-size"))
		if err != nil {
			return archive.Options{}, &archive.OptionsError{Field: "multipart-chunk-size", Reason: err.Error()}
		}
		t.ChunkSize = n
	}
	opts := t.Options()
	return opts, opts.Validate()
}
