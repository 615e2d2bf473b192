package journal

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/andresuchdata/s3tar/internal/archive"
)

// RunStore persists runs. Repository implements it.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
}

// Recorder journals one run. It is an archive.Hook that counts finished
// entries and their bytes between Start and Finish.
type Recorder struct {
	store RunStore
	now   func() time.Time

	mu  sync.Mutex
	run Run
}

func NewRecorder(store RunStore, operation, source, target string) *Recorder {
	return &Recorder{
		store: store,
		now:   time.Now,
		run: Run{
			Operation: operation,
			Source:    source,
			Target:    target,
			Status:    StatusRunning,
		},
	}
}

// Start inserts the running row.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.StartedAt = r.now().UTC()
	return r.store.CreateRun(ctx, &r.run)
}

func (r *Recorder) OnEvent(e archive.Event) {
	if e.Kind != archive.EventEntryFinished {
		return
	}
	r.mu.Lock()
	r.run.Entries++
	r.run.Bytes += e.Bytes
	r.mu.Unlock()
}

// Finish records the outcome. runErr nil means success.
func (r *Recorder) Finish(ctx context.Context, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.Status = StatusSucceeded
	if runErr != nil {
		r.run.Status = StatusFailed
		r.run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	r.run.CompletedAt = sql.NullTime{Time: r.now().UTC(), Valid: true}
	return r.store.FinishRun(ctx, &r.run)
}

// Run returns a snapshot of the journaled run.
func (r *Recorder) Run() Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}
