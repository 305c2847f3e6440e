package cmd

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "", want: "0"},
		{in: "0", want: "0"},
		{in: "1", want: "1000000000000000000"},
		{in: "0.0001", want: "100000000000000"},
		{in: " 2.5 ", want: "2500000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", err: true},
		{in: "-1", err: true},
		{in: "abc", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseEther(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0", formatEther(nil))
	assert.Equal(t, "0.0015", formatEther(big.NewInt(1_500_000_000_000_000)))
	v, _ := new(big.Int).SetString("12000000000000000000", 10)
	assert.Equal(t, "12", formatEther(v))
}

func TestParseCall(t *testing.T) {
	c, err := parseCall("0x000000000000000000000000000000000000dEaD,0.5,0xa9059cbb")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x000000000000000000000000000000000000dEaD"), c.Target)
	assert.Equal(t, "500000000000000000", c.Value.String())
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, c.Data)

	c, err = parseCall("0x000000000000000000000000000000000000dEaD,0")
	require.NoError(t, err)
	assert.Empty(t, c.Data)
	assert.Zero(t, c.Value.Sign())

	for _, bad := range []string{
		"0x000000000000000000000000000000000000dEaD",
		"notanaddress,1",
		"0x000000000000000000000000000000000000dEaD,1,zz",
		"0x000000000000000000000000000000000000dEaD,1,0x00,extra",
	} {
		_, err := parseCall(bad)
		assert.Error(t, err, bad)
	}
}
