package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
)

// DefaultResultLimit is used when a caller passes a non-positive limit
const DefaultResultLimit = 3

type fetchFunc func(ctx context.Context) ([]domain.EvidenceItem, error)

// guard runs fn under its own timeout and turns every failure, including a
// panic, into an empty ToolResult carrying an ErrToolFailure-wrapped error.
func guard(ctx context.Context, id domain.ToolID, timeout time.Duration, logger *observability.StructuredLogger, fn fetchFunc) (result domain.ToolResult) {
	start := time.Now()
	result = domain.ToolResult{Tool: id, Items: []domain.EvidenceItem{}}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result.Items = []domain.EvidenceItem{}
			result.Err = fmt.Errorf("%w: %s panicked: %v", domain.ErrToolFailure, id, r)
		}
		result.Duration = time.Since(start)
		if result.Err != nil && logger != nil {
			logger.Warn(ctx, "Evidence tool failed", map[string]interface{}{
				"tool":        string(id),
				"error":       result.Err.Error(),
				"duration_ms": result.Duration.Milliseconds(),
			})
		}
	}()

	items, err := fn(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrToolFailure) {
			err = fmt.Errorf("%w: %s: %v", domain.ErrToolFailure, id, err)
		}
		result.Err = err
		return result
	}
	if items != nil {
		result.Items = items
	}
	return result
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultResultLimit
	}
	return limit
}
