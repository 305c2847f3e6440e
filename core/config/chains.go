package config

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type NativeCurrency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
}

// Chain is the identity record of the network the smart account lives on.
type Chain struct {
	ID                *big.Int
	Name              string
	NativeCurrency    NativeCurrency
	RPCURLs           []string
	BlockExplorerURLs []string
	// ParentChainID is set for rollups settling on another chain.
	ParentChainID *big.Int
	// Deployment fills smart_account fields left empty in the config.
	Deployment *Deployment
}

// Deployment is the smart account factory setup known to be live on a chain.
type Deployment struct {
	Factory   common.Address
	Bootstrap common.Address
	Validator common.Address
}

// ExplorerTxURL links a transaction on the first block explorer, or returns "".
func (c Chain) ExplorerTxURL(txHash string) string {
	if len(c.BlockExplorerURLs) == 0 {
		return ""
	}
	return strings.TrimRight(c.BlockExplorerURLs[0], "/") + "/tx/" + txHash
}

var ether = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}

var ChainPresets = map[string]Chain{
	"carrchain-testnet": {
		ID:                big.NewInt(76672),
		Name:              "Carrchain Testnet",
		NativeCurrency:    NativeCurrency{Name: "Carr", Symbol: "CARR", Decimals: 18},
		RPCURLs:           []string{"https://rpc-testnet.carrchain.io/"},
		BlockExplorerURLs: []string{"https://testnet.carrscan.io/"},
		ParentChainID:     big.NewInt(421614),
		Deployment: &Deployment{
			Factory:   common.HexToAddress("0xB3AD9B9B06c6016f81404ee8FcCD0526F018Cf0C"),
			Bootstrap: common.HexToAddress("0x153e26707DF3787183945B88121E4Eb188FDCAAA"),
			Validator: common.HexToAddress("0x810FA4C915015b703db0878CF2B9344bEB254a40"),
		},
	},
	"sepolia": {
		ID:                big.NewInt(11155111),
		Name:              "Sepolia",
		NativeCurrency:    ether,
		RPCURLs:           []string{"https://rpc.sepolia.org"},
		BlockExplorerURLs: []string{"https://sepolia.etherscan.io"},
	},
	"base-sepolia": {
		ID:                big.NewInt(84532),
		Name:              "Base Sepolia",
		NativeCurrency:    ether,
		RPCURLs:           []string{"https://sepolia.base.org"},
		BlockExplorerURLs: []string{"https://sepolia.basescan.org"},
		ParentChainID:     big.NewInt(11155111),
	},
}

// GetChainPreset looks a preset up by name, case-insensitively.
func GetChainPreset(name string) (Chain, bool) {
	c, ok := ChainPresets[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// ListPresets returns the preset names sorted alphabetically.
func ListPresets() []string {
	names := make([]string, 0, len(ChainPresets))
	for name := range ChainPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownPreset(name string) error {
	return fmt.Errorf("unknown chain preset %q (available: %s)", name, strings.Join(ListPresets(), ", "))
}
