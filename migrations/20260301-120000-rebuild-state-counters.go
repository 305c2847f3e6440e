package migrations

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"

	"github.com/AvaProtocol/ap-userop/model"
	"github.com/AvaProtocol/ap-userop/storage"
	"github.com/AvaProtocol/ap-userop/storage/schema"
)

// RebuildStateCounters recounts the per-state counters from the stored records.
// Journals written before the counters existed, or restored partially, report zero otherwise.
func RebuildStateCounters(db storage.Storage) (int, error) {
	items, err := db.GetByPrefix(schema.OperationPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list operations: %w", err)
	}

	counts := map[model.OperationState]uint64{}
	for _, item := range items {
		var op model.Operation
		if err := op.FromStorageData(item.Value); err != nil {
			// unreadable records are left alone
			continue
		}
		if op.State.Final() {
			counts[op.State]++
		}
	}

	finals := lo.Filter(model.OperationStates, func(s model.OperationState, _ int) bool { return s.Final() })
	updates := make(map[string][]byte, len(finals))
	for _, state := range finals {
		updates[string(schema.StateCounterKey(string(state)))] = []byte(strconv.FormatUint(counts[state], 10))
	}
	if err := db.BatchWrite(updates); err != nil {
		return 0, fmt.Errorf("failed to write state counters: %w", err)
	}
	return len(items), nil
}
