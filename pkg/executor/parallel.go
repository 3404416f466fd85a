package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/TFMV/fedra/pkg/models"
)

// BatchResult pairs the per-plan results of a fan-out with an overall
// success flag.
type BatchResult struct {
	Results []*models.TabularResult
	Success bool
}

// ExecuteMany fans a batch of plans out concurrently, one goroutine
// per plan. Results land at the index of their plan regardless of
// completion order, a failed plan never cancels its siblings, and a
// panicking plan becomes a failed result for its slot only.
func (e *Engine) ExecuteMany(ctx context.Context, plans []*models.QueryPlan) *BatchResult {
	results := make([]*models.TabularResult, len(plans))

	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(slot int, plan *models.QueryPlan) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Int("slot", slot).Interface("panic", r).Msg("plan execution panicked")
					results[slot] = models.Failed(fmt.Sprintf("internal error: %v", r))
				}
			}()
			results[slot] = e.Execute(ctx, plan)
		}(i, plan)
	}
	wg.Wait()

	success := true
	for _, r := range results {
		if r == nil || !r.Success {
			success = false
			break
		}
	}
	return &BatchResult{Results: results, Success: success}
}
