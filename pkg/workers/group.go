package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
)

type Worker interface {
	Name() string
	Start(ctx context.Context) error
}

// Group runs workers until the context is canceled. The first worker to
// fail cancels the others; all failures are returned together.
type Group []Worker

func (g Group) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)

	for _, w := range g {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()

			if err := w.Start(ctx); err != nil {
				slog.Error("Worker failed", "name", w.Name(), logger.Err(err))

				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", w.Name(), err))
				mu.Unlock()

				cancel()
			}
		}(w)
	}

	wg.Wait()
	return result.ErrorOrNil()
}
