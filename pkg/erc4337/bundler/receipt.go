package bundler

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxReceipt is the bundle transaction receipt embedded in a user operation receipt.
type TxReceipt struct {
	TransactionHash   common.Hash    `json:"transactionHash"`
	BlockHash         common.Hash    `json:"blockHash"`
	BlockNumber       *hexutil.Big   `json:"blockNumber"`
	From              common.Address `json:"from"`
	To                common.Address `json:"to"`
	GasUsed           *hexutil.Big   `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
	Status            *hexutil.Big   `json:"status"`
}

// UserOperationReceipt is the result of eth_getUserOperationReceipt.
type UserOperationReceipt struct {
	UserOpHash    common.Hash     `json:"userOpHash"`
	EntryPoint    common.Address  `json:"entryPoint"`
	Sender        common.Address  `json:"sender"`
	Nonce         *hexutil.Big    `json:"nonce"`
	Paymaster     common.Address  `json:"paymaster"`
	ActualGasCost *hexutil.Big    `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big    `json:"actualGasUsed"`
	Success       bool            `json:"success"`
	Reason        string          `json:"reason"`
	Logs          json.RawMessage `json:"logs"`
	Receipt       TxReceipt       `json:"receipt"`

	// Raw is the receipt exactly as the bundler returned it.
	Raw json.RawMessage `json:"-"`
}

// ParseReceipt decodes a receipt payload, returning nil for a JSON null.
func ParseReceipt(raw json.RawMessage) (*UserOperationReceipt, error) {
	if isNull(raw) {
		return nil, nil
	}

	var receipt UserOperationReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode user operation receipt: %w", err)
	}
	receipt.Raw = append(json.RawMessage(nil), raw...)
	return &receipt, nil
}

func (r *UserOperationReceipt) TransactionHash() common.Hash {
	return r.Receipt.TransactionHash
}
