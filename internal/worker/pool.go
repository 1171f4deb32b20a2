package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gyeh/chartcoder/internal/pkg/logger"
	"github.com/gyeh/chartcoder/internal/progress"
	"github.com/gyeh/chartcoder/internal/workflow"
)

const module = "BatchPool"

// Pool codes many documents concurrently, one workspace per document.
type Pool struct {
	Workers  int
	Backend  workflow.Backend
	Options  ChartOptions
	Logger   logger.ILogger
	Progress progress.Manager

	// Notifier, if set, receives notices from every chart's workspace.
	Notifier workflow.Notifier
}

// Run processes all documents and returns one result per document, in
// input order.
func (p *Pool) Run(ctx context.Context, docs []Document) []ChartResult {
	results := make([]ChartResult, len(docs))

	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	log := p.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	prog := p.Progress
	if prog == nil {
		prog = &progress.NoopManager{}
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var complete, failed int32
	var selected int64

	for i, doc := range docs {
		wg.Add(1)
		go func(idx int, d Document) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = ChartResult{Document: d, Err: ctx.Err()}
				atomic.AddInt32(&failed, 1)
				return
			}
			defer func() { <-sem }()

			tracker := prog.NewTracker(idx, len(docs), d.Name)
			result := RunChart(ctx, p.Backend, d, p.Options, workflow.Options{
				Logger:   log,
				Notifier: p.Notifier,
			}, tracker)
			results[idx] = *result
			tracker.Done()

			details := map[string]interface{}{
				"document":    d.Source,
				"session_id":  result.Snapshot.SessionID(),
				"selected":    len(result.Snapshot.SelectedCodes),
				"duration_ms": result.Duration.Milliseconds(),
			}
			if result.Err != nil {
				atomic.AddInt32(&failed, 1)
				details["error"] = result.Err.Error()
				log.Error(module, "chart failed", details)
			} else {
				atomic.AddInt32(&complete, 1)
				log.Info(module, "chart coded", details)
			}
			n := atomic.AddInt64(&selected, int64(len(result.Snapshot.SelectedCodes)))
			prog.SetOverallStats(int(atomic.LoadInt32(&complete)), int(atomic.LoadInt32(&failed)), n)
		}(i, doc)
	}

	wg.Wait()
	return results
}
