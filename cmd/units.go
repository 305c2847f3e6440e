package cmd

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/ap-userop/pkg/erc4337/batch"
)

const etherDecimals = 18

// parseEther converts a decimal ether amount such as "0.001" to wei.
func parseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", amount)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, etherDecimals)
	}
	return wei.BigInt(), nil
}

func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// parseCall reads "target,amount[,0xdata]".
func parseCall(raw string) (batch.PendingCall, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return batch.PendingCall{}, fmt.Errorf("call %q must look like target,amount[,0xdata]", raw)
	}
	return newCall(parts[0], parts[1], strings.Join(parts[2:], ""))
}

func newCall(target, amount, data string) (batch.PendingCall, error) {
	target = strings.TrimSpace(target)
	if !common.IsHexAddress(target) {
		return batch.PendingCall{}, fmt.Errorf("invalid target address %q", target)
	}
	value, err := parseEther(amount)
	if err != nil {
		return batch.PendingCall{}, err
	}

	var payload []byte
	if data = strings.TrimSpace(data); data != "" {
		payload, err = hexutil.Decode(data)
		if err != nil {
			return batch.PendingCall{}, fmt.Errorf("invalid call data %q: %w", data, err)
		}
	}
	return batch.PendingCall{Target: common.HexToAddress(target), Value: value, Data: payload}, nil
}
