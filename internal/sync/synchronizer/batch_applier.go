package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/sync/types"
	"netsync/internal/sync/utils"
)

// BatchApplyConfig configures the batch applier
type BatchApplyConfig struct {
	BatchSize int
	Retry     utils.RetryConfig
}

// DefaultBatchApplyConfig returns the default configuration
func DefaultBatchApplyConfig() BatchApplyConfig {
	return BatchApplyConfig{
		BatchSize: 50,
		Retry:     utils.DefaultRetryConfig(),
	}
}

type batchApplier struct {
	inventory ports.RemoteInventory
	config    BatchApplyConfig
	tracker   *utils.CallTracker
	logger    logr.Logger
}

// NewBatchApplier creates a new batch applier
func NewBatchApplier(inventory ports.RemoteInventory, config BatchApplyConfig, tracker *utils.CallTracker, logger logr.Logger) BatchApplier {
	if tracker == nil {
		tracker = utils.NewCallTracker()
	}
	return &batchApplier{
		inventory: inventory,
		config:    config,
		tracker:   tracker,
		logger:    logger.WithName("batch-applier"),
	}
}

// Apply implements BatchApplier
func (a *batchApplier) Apply(ctx context.Context, kind models.EntityKind, action models.Action, items []ports.Payload, secondary SecondaryPass) *types.ApplyResult {
	result := types.NewApplyResult(kind, action)
	if len(items) == 0 {
		return result
	}

	for _, batch := range a.createBatches(items, a.config.BatchSize) {
		a.mergeBatchResult(result, a.applyBatch(ctx, kind, action, batch))
	}

	if secondary != nil && len(result.Applied) > 0 {
		for _, itemErr := range secondary(ctx, result.Applied) {
			result.AddSecondaryFailed(itemErr.Key, itemErr.Err)
		}
	}

	a.logger.V(1).Info("Applied bucket",
		"kind", kind,
		"action", action,
		"requested", result.TotalRequested,
		"applied", len(result.Applied),
		"failed", result.Failed,
		"bulkCalls", result.BulkCalls,
		"itemCalls", result.ItemCalls)
	return result
}

// ApplyPhases implements BatchApplier
func (a *batchApplier) ApplyPhases(ctx context.Context, kind models.EntityKind, action models.Action, phases []Phase, secondary SecondaryPass) *types.ApplyResult {
	result := types.NewApplyResult(kind, action)
	for _, phase := range phases {
		items := phase.Items
		if phase.Prepare != nil {
			items = phase.Prepare(items, result)
		}
		a.logger.V(1).Info("Applying phase", "kind", kind, "phase", phase.Name, "items", len(items))
		result.Merge(a.Apply(ctx, kind, action, items, nil))
	}

	if secondary != nil && len(result.Applied) > 0 {
		for _, itemErr := range secondary(ctx, result.Applied) {
			result.AddSecondaryFailed(itemErr.Key, itemErr.Err)
		}
	}
	return result
}

// applyBatch issues one bulk call. When the call wrote nothing every item
// is retried on its own; when it committed part of the batch only the items
// it rejected are retried.
func (a *batchApplier) applyBatch(ctx context.Context, kind models.EntityKind, action models.Action, batch []ports.Payload) *types.ApplyResult {
	result := types.NewApplyResult(kind, action)
	result.TotalRequested = len(batch)

	var results []ports.Result
	err := a.call(ctx, kind, bulkOp(action), func(ctx context.Context) error {
		var callErr error
		results, callErr = a.bulk(ctx, kind, action, batch)
		return callErr
	})
	result.BulkCalls++

	rejected := map[string]bool{}
	if err != nil {
		var partial *ports.PartialBatchError
		switch {
		case errors.As(err, &partial) && partial.Committed:
			a.logger.Info("Bulk call rejected items, retrying them on their own",
				"kind", kind, "action", action, "rejected", len(partial.Failed), "batch", len(batch))
			for _, r := range partial.Failed {
				rejected[r.Key] = true
			}
		case partial != nil:
			a.logger.Info("Bulk call rejected items, falling back to per-item calls",
				"kind", kind, "action", action, "rejected", len(partial.Failed), "batch", len(batch))
			a.applyEach(ctx, kind, action, batch, result)
			return result
		default:
			a.logger.Info("Bulk call failed, falling back to per-item calls",
				"kind", kind, "action", action, "batch", len(batch), "error", err.Error())
			a.applyEach(ctx, kind, action, batch, result)
			return result
		}
	}

	byKey := make(map[string]ports.Result, len(results))
	for _, r := range results {
		if r.Key != "" {
			byKey[r.Key] = r
		}
	}

	var retry []ports.Payload
	for _, item := range batch {
		r, ok := byKey[item.Key]
		switch {
		case !ok, rejected[item.Key]:
			retry = append(retry, item)
		case r.Err != nil:
			retry = append(retry, item)
		default:
			result.AddApplied(withID(r, item))
		}
	}
	if len(retry) > 0 {
		a.applyEach(ctx, kind, action, retry, result)
	}
	return result
}

// applyEach writes items one by one, capturing errors independently
func (a *batchApplier) applyEach(ctx context.Context, kind models.EntityKind, action models.Action, items []ports.Payload, result *types.ApplyResult) {
	for _, item := range items {
		var res ports.Result
		err := a.call(ctx, kind, itemOp(action), func(ctx context.Context) error {
			var callErr error
			res, callErr = a.single(ctx, kind, action, item)
			if callErr == nil && res.Err != nil {
				callErr = res.Err
			}
			return callErr
		})
		result.ItemCalls++

		if err != nil {
			a.logger.V(1).Info("Item write failed", "kind", kind, "action", action, "key", item.Key, "error", err.Error())
			result.AddFailed(item.Key, err)
			continue
		}
		if res.Key == "" {
			res.Key = item.Key
		}
		result.AddApplied(withID(res, item))
	}
}

func (a *batchApplier) call(ctx context.Context, kind models.EntityKind, op string, fn func(ctx context.Context) error) error {
	return utils.ExecuteWithRetry(ctx, a.config.Retry, func() error {
		started := time.Now()
		err := fn(ctx)
		a.tracker.Track(kind, op, time.Since(started), err)
		return err
	})
}

func (a *batchApplier) bulk(ctx context.Context, kind models.EntityKind, action models.Action, items []ports.Payload) ([]ports.Result, error) {
	switch action {
	case models.ActionCreate:
		return a.inventory.BulkCreate(ctx, kind, items)
	case models.ActionUpdate:
		return a.inventory.BulkUpdate(ctx, kind, items)
	case models.ActionDelete:
		return a.inventory.BulkDelete(ctx, kind, items)
	default:
		return nil, fmt.Errorf("unsupported action %q", action)
	}
}

func (a *batchApplier) single(ctx context.Context, kind models.EntityKind, action models.Action, item ports.Payload) (ports.Result, error) {
	switch action {
	case models.ActionCreate:
		return a.inventory.Create(ctx, kind, item)
	case models.ActionUpdate:
		return a.inventory.Update(ctx, kind, item)
	case models.ActionDelete:
		return a.inventory.Delete(ctx, kind, item)
	default:
		return ports.Result{}, fmt.Errorf("unsupported action %q", action)
	}
}

// createBatches splits items into batches of batchSize
func (a *batchApplier) createBatches(items []ports.Payload, batchSize int) [][]ports.Payload {
	if batchSize <= 0 {
		batchSize = 50
	}

	var batches [][]ports.Payload
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// mergeBatchResult merges batch result into main result
func (a *batchApplier) mergeBatchResult(mainResult, batchResult *types.ApplyResult) {
	mainResult.Merge(batchResult)
}

// withID keeps the payload's id when the remote result carries none, as
// updates and deletes do
func withID(r ports.Result, item ports.Payload) ports.Result {
	if r.ID == 0 {
		r.ID = item.ID
	}
	return r
}

func bulkOp(action models.Action) string {
	switch action {
	case models.ActionCreate:
		return utils.OpBulkCreate
	case models.ActionUpdate:
		return utils.OpBulkUpdate
	default:
		return utils.OpBulkDelete
	}
}

func itemOp(action models.Action) string {
	switch action {
	case models.ActionCreate:
		return utils.OpCreate
	case models.ActionUpdate:
		return utils.OpUpdate
	default:
		return utils.OpDelete
	}
}
