package model

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SmartWallet describes the smart account of one owner at one index.
type SmartWallet struct {
	Owner     common.Address `json:"owner"`
	Address   common.Address `json:"address"`
	Factory   common.Address `json:"factory"`
	Index     *big.Int       `json:"index"`
	ChainID   int64          `json:"chain_id"`
	Deployed  bool           `json:"deployed"`
	Balance   *big.Int       `json:"balance,omitempty"`
	// held by the entry point to pay for self-funded operations
	Deposit   *big.Int       `json:"deposit,omitempty"`
	Sponsored bool           `json:"sponsored"`
}

func (w *SmartWallet) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

func (w *SmartWallet) FromStorageData(body []byte) error {
	return json.Unmarshal(body, w)
}
