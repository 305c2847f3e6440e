package model

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type OperationState string

const (
	// built and priced, not yet handed to a bundler
	OperationEstimated OperationState = "estimated"
	OperationSubmitted OperationState = "submitted"
	OperationConfirmed OperationState = "confirmed"
	OperationReverted  OperationState = "reverted"
	OperationTimedOut  OperationState = "timed_out"
	OperationCancelled OperationState = "cancelled"
	// the lifecycle stopped on an error before or during submission
	OperationFailed OperationState = "failed"
)

var OperationStates = []OperationState{
	OperationEstimated,
	OperationSubmitted,
	OperationConfirmed,
	OperationReverted,
	OperationTimedOut,
	OperationCancelled,
	OperationFailed,
}

// Final reports whether the journal entry will not change anymore. A timed out
// operation is not final: a later receipt lookup may still find it.
func (s OperationState) Final() bool {
	switch s {
	case OperationConfirmed, OperationReverted, OperationCancelled, OperationFailed:
		return true
	}
	return false
}

// Operation is the journal record of one user operation lifecycle.
type Operation struct {
	// sortable id, newer operations sort after older ones
	ID string `json:"id"`

	// addresses in EIP-55 hex
	Owner      string `json:"owner"`
	Sender     string `json:"sender"`
	EntryPoint string `json:"entry_point"`
	ChainID    int64  `json:"chain_id"`

	Nonce     string `json:"nonce"`
	Calls     int    `json:"calls"`
	Sponsored bool   `json:"sponsored"`
	Deploys   bool   `json:"deploys,omitempty"`

	UserOpHash string         `json:"user_op_hash,omitempty"`
	TxHash     string         `json:"tx_hash,omitempty"`
	State      OperationState `json:"state"`
	// bundler or paymaster error message, or the revert reason
	Reason string `json:"reason,omitempty"`

	ActualGasCost string `json:"actual_gas_cost,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Generate a sorted id
func GenerateOperationID() string {
	return ulid.Make().String()
}

func NewOperation(now time.Time) *Operation {
	return &Operation{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		State:     OperationEstimated,
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
}

// CreatedTime recovers the creation time embedded in the id.
func (o *Operation) CreatedTime() (time.Time, error) {
	id, err := ulid.Parse(o.ID)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}

// Return a compact json ready to persist to storage
func (o *Operation) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

func (o *Operation) FromStorageData(body []byte) error {
	return json.Unmarshal(body, o)
}
