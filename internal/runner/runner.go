package runner

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/service"
	"github.com/guestlab/nbo/internal/store"
)

type Config struct {
	PollInterval time.Duration
	Logger       *log.Logger
}

// RunWorker continuously polls for queued runs and executes them until ctx is cancelled.
func RunWorker(ctx context.Context, svc *service.Service, st store.Store, cfg Config) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[worker] ", log.LstdFlags)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := ProcessNextRun(ctx, svc, st)
		if err != nil {
			logger.Printf("process run: %v", err)
		}
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

// ProcessNextRun claims and executes a single queued run, returning whether
// work was done. Execution errors mark the run failed; the claim itself is
// never retried for the same run.
func ProcessNextRun(ctx context.Context, svc *service.Service, st store.Store) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	run, err := st.ClaimNextRun(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := svc.ExecuteRun(ctx, run); err != nil {
		_ = markRun(ctx, st, run, models.RunStatusFailed)
		return true, err
	}
	return true, nil
}

func markRun(ctx context.Context, st store.Store, run models.Run, status string) error {
	_, err := st.UpdateRunStatus(ctx, run.ID, status)
	return err
}
