// Package journal keeps a local record of every user operation lifecycle so a
// later command can list them or resume waiting for a receipt.
package journal

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ap-userop/model"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
	"github.com/AvaProtocol/ap-userop/storage"
	"github.com/AvaProtocol/ap-userop/storage/schema"
)

var ErrOperationNotFound = errors.New("operation not found in journal")

type Journal struct {
	db     storage.Storage
	clock  clockwork.Clock
	logger sdklogging.Logger

	// serializes read-modify-write of a record
	mu sync.Mutex
}

func New(db storage.Storage, clock clockwork.Clock, log sdklogging.Logger) *Journal {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Journal{
		db:     db,
		clock:  clock,
		logger: logger.EnsureLogger(log),
	}
}

// Create stores a new record. The id and timestamps are filled in when empty.
func (j *Journal) Create(op *model.Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clock.Now()
	if op.ID == "" {
		op.ID = model.NewOperation(now).ID
	}
	if op.State == "" {
		op.State = model.OperationEstimated
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = now.UnixMilli()
	}
	op.UpdatedAt = now.UnixMilli()

	return j.write(op, "")
}

// Update applies fn to the stored record and persists the result.
func (j *Journal) Update(id string, fn func(op *model.Operation)) (*model.Operation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	op, err := j.get(id)
	if err != nil {
		return nil, err
	}
	previousState := op.State
	previousHash := op.UserOpHash

	fn(op)
	op.ID = id
	op.UpdatedAt = j.clock.Now().UnixMilli()

	if err := j.write(op, previousHash); err != nil {
		return nil, err
	}
	if previousState != op.State && op.State.Final() {
		if _, err := j.db.IncCounter(schema.StateCounterKey(string(op.State))); err != nil {
			j.logger.Warn("cannot update journal counter", "state", op.State, "error", err)
		}
	}
	return op, nil
}

func (j *Journal) write(op *model.Operation, previousHash string) error {
	body, err := op.ToJSON()
	if err != nil {
		return fmt.Errorf("cannot encode operation %s: %w", op.ID, err)
	}

	updates := map[string][]byte{
		string(schema.OperationKey(op.ID)): body,
	}
	if op.Sender != "" {
		updates[string(schema.OperationBySenderKey(op.Sender, op.ID))] = []byte{}
	}
	if op.UserOpHash != "" {
		updates[string(schema.OperationByHashKey(op.UserOpHash))] = []byte(op.ID)
	}
	if err := j.db.BatchWrite(updates); err != nil {
		return fmt.Errorf("cannot persist operation %s: %w", op.ID, err)
	}

	if previousHash != "" && previousHash != op.UserOpHash {
		if err := j.db.Delete(schema.OperationByHashKey(previousHash)); err != nil {
			j.logger.Warn("cannot drop stale hash index", "userOpHash", previousHash, "error", err)
		}
	}
	return nil
}

func (j *Journal) Get(id string) (*model.Operation, error) {
	return j.get(id)
}

func (j *Journal) get(id string) (*model.Operation, error) {
	body, err := j.db.GetKey(schema.OperationKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	op := &model.Operation{}
	if err := op.FromStorageData(body); err != nil {
		return nil, fmt.Errorf("corrupted journal record %s: %w", id, err)
	}
	return op, nil
}

// FindByHash returns the record of a submitted user operation.
func (j *Journal) FindByHash(userOpHash string) (*model.Operation, error) {
	id, err := j.db.GetKey(schema.OperationByHashKey(userOpHash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, userOpHash)
	}
	if err != nil {
		return nil, err
	}
	return j.get(string(id))
}

// ListBySender returns the operations of one smart account, newest first.
// A positive limit caps the result.
func (j *Journal) ListBySender(sender string, limit int) ([]*model.Operation, error) {
	keys, err := j.db.GetKeyHasPrefix(schema.OperationBySenderPrefix(sender))
	if err != nil {
		return nil, err
	}

	ids := lo.Reverse(lo.Map(keys, func(k []byte, _ int) string {
		return schema.IDFromIndexKey(k)
	}))
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	ops := make([]*model.Operation, 0, len(ids))
	for _, id := range ids {
		op, err := j.get(id)
		if err != nil {
			j.logger.Warn("skipping unreadable journal record", "id", id, "error", err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// CountBySender returns how many operations of one smart account are recorded.
func (j *Journal) CountBySender(sender string) (int64, error) {
	return j.db.CountKeysByPrefix(schema.OperationBySenderPrefix(sender))
}

// List returns every operation in the journal, newest first.
func (j *Journal) List(limit int) ([]*model.Operation, error) {
	items, err := j.db.GetByPrefix(schema.OperationPrefix())
	if err != nil {
		return nil, err
	}

	ops := lo.FilterMap(items, func(item *storage.KeyValueItem, _ int) (*model.Operation, bool) {
		op := &model.Operation{}
		if err := op.FromStorageData(item.Value); err != nil {
			j.logger.Warn("skipping unreadable journal record", "key", string(item.Key), "error", err)
			return nil, false
		}
		return op, true
	})
	sort.SliceStable(ops, func(a, b int) bool { return ops[a].ID > ops[b].ID })

	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

// Pending returns the submitted or timed out operations that may still be included.
func (j *Journal) Pending() ([]*model.Operation, error) {
	ops, err := j.List(0)
	if err != nil {
		return nil, err
	}
	return lo.Filter(ops, func(op *model.Operation, _ int) bool {
		return op.State == model.OperationSubmitted || op.State == model.OperationTimedOut
	}), nil
}

// Stats counts the lifecycles that reached each final state.
func (j *Journal) Stats() (map[model.OperationState]uint64, error) {
	stats := make(map[model.OperationState]uint64)
	for _, state := range model.OperationStates {
		if !state.Final() {
			continue
		}
		n, err := j.db.GetCounter(schema.StateCounterKey(string(state)), 0)
		if err != nil {
			return nil, err
		}
		stats[state] = n
	}
	return stats, nil
}
