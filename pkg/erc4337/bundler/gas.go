package bundler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type GasEstimation struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
	// Only returned by v0.7 bundlers for sponsored operations
	PaymasterVerificationGasLimit *big.Int
}

type gasEstimationResult struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
}

func (r gasEstimationResult) toEstimation() *GasEstimation {
	return &GasEstimation{
		PreVerificationGas:            bigOrZero(r.PreVerificationGas),
		VerificationGasLimit:          bigOrZero(r.VerificationGasLimit),
		CallGasLimit:                  bigOrZero(r.CallGasLimit),
		PaymasterVerificationGasLimit: r.PaymasterVerificationGasLimit.ToInt(),
	}
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}
