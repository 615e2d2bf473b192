package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/s3tar/internal/config"
	"github.com/andresuchdata/s3tar/internal/journal"
)

type runLister interface {
	GetRun(ctx context.Context, id int64) (*journal.Run, error)
	RecentRuns(ctx context.Context, limit int) ([]journal.Run, error)
}

func runRuns(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := listRuns(c.Context, journal.NewRepository(db), c.Int64("id"), c.Int("limit"))
	if err != nil {
		return err
	}
	return writeRuns(c.App.Writer, runs, time.Now())
}

// listRuns fetches one run when id is set, otherwise the latest limit runs.
func listRuns(ctx context.Context, repo runLister, id int64, limit int) ([]journal.Run, error) {
	if id > 0 {
		run, err := repo.GetRun(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading run %d: %w", id, err)
		}
		if run == nil {
			return nil, fmt.Errorf("no run with id %d", id)
		}
		return []journal.Run{*run}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	runs, err := repo.RecentRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func writeRuns(w io.Writer, runs []journal.Run, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tSTATUS\tENTRIES\tSIZE\tSTARTED\tSOURCE\tTARGET\tERROR")
	for _, r := range runs {
		errMsg := "-"
		if r.ErrorMessage.Valid {
			errMsg = r.ErrorMessage.String
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Operation, r.Status, r.Entries,
			humanize.IBytes(uint64(r.Bytes)),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Source, r.Target, errMsg)
	}
	return tw.Flush()
}
