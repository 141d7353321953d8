package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/entrained/engram-service/internal/model"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

// ActionResult reports what a cleanup action did per memory.
type ActionResult struct {
	Action    model.CleanupActionType `json:"action"`
	Succeeded []string                `json:"succeeded"`
	Failed    []string                `json:"failed,omitempty"`
}

// ExecuteCleanupAction applies a requested cleanup operation. The requesting
// entity must have witnessed every targeted memory; memories it cannot see
// are reported as failed, the same as missing ones. Deletes and
// consolidations are irreversible.
func ExecuteCleanupAction(ctx context.Context, store registrystore.MemoryStore, requestingEntity string, action model.CleanupAction) (*ActionResult, error) {
	if requestingEntity == "" {
		return nil, &registrystore.ValidationError{Field: "requestingEntity", Message: "required"}
	}
	if len(action.MemoryIDs) == 0 {
		return nil, &registrystore.ValidationError{Field: "memoryIds", Message: "at least one memory id is required"}
	}

	result := &ActionResult{Action: action.Type}

	// Witness check up front: an entity may only clean up what it can see.
	var visible []string
	for _, id := range action.MemoryIDs {
		if _, err := store.Get(ctx, id, requestingEntity); err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		visible = append(visible, id)
	}

	switch action.Type {
	case model.CleanupDelete:
		for _, id := range visible {
			if err := store.Delete(ctx, id); err != nil {
				log.Error("Cleanup action: delete failed", "memory", id, "err", err)
				result.Failed = append(result.Failed, id)
				continue
			}
			result.Succeeded = append(result.Succeeded, id)
		}

	case model.CleanupArchive:
		for _, id := range visible {
			if err := store.Archive(ctx, id); err != nil {
				log.Error("Cleanup action: archive failed", "memory", id, "err", err)
				result.Failed = append(result.Failed, id)
				continue
			}
			result.Succeeded = append(result.Succeeded, id)
		}

	case model.CleanupUpdateRetention:
		if action.NewRetention == "" {
			return nil, &registrystore.ValidationError{Field: "newRetention", Message: "required for update_retention"}
		}
		for _, id := range visible {
			if err := store.UpdateRetention(ctx, id, action.NewRetention); err != nil {
				log.Error("Cleanup action: retention update failed", "memory", id, "err", err)
				result.Failed = append(result.Failed, id)
				continue
			}
			result.Succeeded = append(result.Succeeded, id)
		}

	case model.CleanupConsolidate, model.CleanupMerge:
		if action.NewContent == "" {
			return nil, &registrystore.ValidationError{Field: "newContent", Message: "required for consolidation"}
		}
		if len(visible) < 2 {
			return nil, &registrystore.ValidationError{Field: "memoryIds", Message: "consolidation needs at least two visible memories"}
		}
		target, absorbed := visible[0], visible[1:]
		if err := store.Consolidate(ctx, target, action.NewContent, absorbed); err != nil {
			log.Error("Cleanup action: consolidation failed", "target", target, "err", err)
			result.Failed = append(result.Failed, visible...)
			return result, nil
		}
		result.Succeeded = visible

	default:
		return nil, &registrystore.ValidationError{
			Field:   "actionType",
			Message: fmt.Sprintf("unknown action type %q", action.Type),
		}
	}

	return result, nil
}
