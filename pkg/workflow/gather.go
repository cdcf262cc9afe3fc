package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// gather runs the requested tools concurrently and waits for all of them.
// One slot per tool keeps the fan-in free of locks; a failing tool only
// empties its own slot.
func (r *run) gather(ctx context.Context) (Node, error) {
	e := r.engine
	requested := r.requested
	results := make([]domain.ToolResult, len(requested))

	g, gctx := errgroup.WithContext(ctx)
	for i, tool := range requested {
		g.Go(func() error {
			results[i] = e.fetch(gctx, tool, r.query)
			return nil
		})
	}
	_ = g.Wait()

	r.state.GatherRounds++
	r.pending = results

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return NodeExtract, errors.Join(errs...)
}

// fetch calls one tool under the engine's call timeout. Tools enforce their
// own timeout too; the outer bound covers tools that do not.
func (e *Engine) fetch(ctx context.Context, tool domain.EvidenceTool, query string) (result domain.ToolResult) {
	id := tool.ID()
	ctx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = domain.ToolResult{
				Tool:  id,
				Items: []domain.EvidenceItem{},
				Err:   fmt.Errorf("%w: %s panicked: %v", domain.ErrToolFailure, id, rec),
			}
		}
		result.Duration = time.Since(start)
		e.metrics.RecordToolExecution(ctx, string(id), result.Duration, result.Err == nil)
	}()

	_ = e.telemetry.InstrumentToolExecution(ctx, string(id), func(ctx context.Context) error {
		result = tool.Fetch(ctx, query, e.config.ResultLimit)
		return result.Err
	})

	result.Tool = id
	if result.Err != nil {
		result.Items = []domain.EvidenceItem{}
		if !errors.Is(result.Err, domain.ErrToolFailure) {
			result.Err = fmt.Errorf("%w: %s: %v", domain.ErrToolFailure, id, result.Err)
		}
	}
	if result.Items == nil {
		result.Items = []domain.EvidenceItem{}
	}
	return result
}
