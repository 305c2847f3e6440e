package eip1559

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	tip     *big.Int
	baseFee *big.Int
	err     error
}

func (s *stubReader) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tip, nil
}

func (s *stubReader) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: s.baseFee}, nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestSuggestAppliesBufferAndBaseFee(t *testing.T) {
	fees, err := Suggest(context.Background(), &stubReader{tip: gwei(10), baseFee: gwei(30)}, DefaultPolicy())
	require.NoError(t, err)
	maxFee, tip := fees.MaxFeePerGas, fees.MaxPriorityFeePerGas

	// 10 gwei + 13%
	assert.Equal(t, big.NewInt(11_300_000_000).String(), tip.String())
	// 2 * 30 gwei + tip
	assert.Equal(t, new(big.Int).Add(gwei(60), tip).String(), maxFee.String())
}

func TestSuggestMinimums(t *testing.T) {
	// zero policy falls back to the defaults
	fees, err := Suggest(context.Background(), &stubReader{tip: big.NewInt(1), baseFee: big.NewInt(7)}, Policy{})
	require.NoError(t, err)
	assert.Equal(t, gwei(2).String(), fees.MaxPriorityFeePerGas.String())
	assert.Equal(t, gwei(20).String(), fees.MaxFeePerGas.String())
}

func TestSuggestLegacyChain(t *testing.T) {
	fees, err := Suggest(context.Background(), &stubReader{tip: gwei(5)}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, fees.MaxPriorityFeePerGas.String(), fees.MaxFeePerGas.String())
}

func TestSuggestCustomPolicy(t *testing.T) {
	fees, err := Suggest(context.Background(), &stubReader{tip: big.NewInt(3), baseFee: big.NewInt(2)}, Policy{
		MinTip:    big.NewInt(1),
		MinMaxFee: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), fees.MaxPriorityFeePerGas.Int64())
	assert.Equal(t, int64(7), fees.MaxFeePerGas.Int64())
}

func TestSuggestError(t *testing.T) {
	_, err := Suggest(context.Background(), &stubReader{err: errors.New("rpc down")}, DefaultPolicy())
	assert.ErrorContains(t, err, "rpc down")
}
