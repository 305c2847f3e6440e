package smartaccount

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// Starting gas limits for an operation before the paymaster or the bundler
	// prices it. Both replace them with their own estimates.
	DefaultCallGasLimit         = big.NewInt(200_000)
	DefaultVerificationGasLimit = big.NewInt(1_000_000)
	DefaultPreVerificationGas   = big.NewInt(50_000)

	// Proxy deployment plus validator installation during validation.
	DeploymentVerificationGasLimit = big.NewInt(3_000_000)

	// DummySignature has the shape of a real ECDSA signature so validation during
	// simulation takes the same code path and costs the same gas. It never verifies.
	DummySignature = common.FromHex("0x" +
		"fffffffffffffffffffffffffffffff0" + strings.Repeat("0", 32) +
		"7" + strings.Repeat("a", 63) +
		"1c")
)

func verificationGasFor(initCode []byte) *big.Int {
	if len(initCode) > 0 {
		return new(big.Int).Set(DeploymentVerificationGasLimit)
	}
	return new(big.Int).Set(DefaultVerificationGasLimit)
}
