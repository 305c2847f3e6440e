package eip1559

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// FeeReader is the part of ethclient.Client the fee oracle reads from.
type FeeReader interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Policy shapes the suggested fees. Zero values fall back to DefaultPolicy.
type Policy struct {
	// TipBufferPercent is added on top of the node's suggested tip.
	TipBufferPercent int64
	MinTip           *big.Int
	MinMaxFee        *big.Int
	// BaseFeeMultiplier leaves headroom for base fee increases between blocks.
	BaseFeeMultiplier int64
}

func DefaultPolicy() Policy {
	return Policy{
		TipBufferPercent:  13,
		MinTip:            big.NewInt(2_000_000_000),  // 2 gwei
		MinMaxFee:         big.NewInt(20_000_000_000), // 20 gwei
		BaseFeeMultiplier: 2,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TipBufferPercent <= 0 {
		p.TipBufferPercent = d.TipBufferPercent
	}
	if p.MinTip == nil {
		p.MinTip = d.MinTip
	}
	if p.MinMaxFee == nil {
		p.MinMaxFee = d.MinMaxFee
	}
	if p.BaseFeeMultiplier <= 0 {
		p.BaseFeeMultiplier = d.BaseFeeMultiplier
	}
	return p
}

// Fees is what goes into the user operation's fee fields.
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Suggest reads the current tip and base fee and shapes them with policy.
func Suggest(ctx context.Context, client FeeReader, policy Policy) (*Fees, error) {
	policy = policy.withDefaults()

	// Get suggested gas tip cap (maxPriorityFeePerGas)
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}

	// Estimate base fee for the next block
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	buffer := new(big.Int).Div(tipCap, big.NewInt(100))
	buffer.Mul(buffer, big.NewInt(policy.TipBufferPercent))
	maxPriorityFeePerGas := new(big.Int).Add(tipCap, buffer)

	// Minimum tip keeps the operation attractive to bundlers
	if maxPriorityFeePerGas.Cmp(policy.MinTip) < 0 {
		maxPriorityFeePerGas = new(big.Int).Set(policy.MinTip)
	}

	var maxFeePerGas *big.Int
	if header.BaseFee != nil {
		// maxFeePerGas = multiplier * baseFee + maxPriorityFeePerGas
		maxFeePerGas = new(big.Int).Add(
			new(big.Int).Mul(header.BaseFee, big.NewInt(policy.BaseFeeMultiplier)),
			maxPriorityFeePerGas,
		)
		if maxFeePerGas.Cmp(policy.MinMaxFee) < 0 {
			maxFeePerGas = new(big.Int).Set(policy.MinMaxFee)
		}
	} else {
		// Legacy (pre-EIP-1559) chain - use maxPriorityFeePerGas as maxFeePerGas
		maxFeePerGas = new(big.Int).Set(maxPriorityFeePerGas)
	}

	return &Fees{MaxFeePerGas: maxFeePerGas, MaxPriorityFeePerGas: maxPriorityFeePerGas}, nil
}
