package aa

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Only the handful of methods the client calls are declared here. Full bindings
// for these contracts are not needed.
const (
	factoryABIJSON = `[
		{"type":"function","name":"createAccount","stateMutability":"payable","inputs":[{"name":"salt","type":"bytes32"},{"name":"initCode","type":"bytes"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"salt","type":"bytes32"},{"name":"initcode","type":"bytes"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"implementation","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	bootstrapABIJSON = `[
		{"type":"function","name":"initMSA","stateMutability":"nonpayable","inputs":[
			{"name":"_validators","type":"tuple[]","components":[{"name":"module","type":"address"},{"name":"data","type":"bytes"}]},
			{"name":"_executors","type":"tuple[]","components":[{"name":"module","type":"address"},{"name":"data","type":"bytes"}]},
			{"name":"_hook","type":"tuple","components":[{"name":"module","type":"address"},{"name":"data","type":"bytes"}]},
			{"name":"_fallbacks","type":"tuple[]","components":[{"name":"module","type":"address"},{"name":"data","type":"bytes"}]}
		],"outputs":[]}
	]`

	entryPointABIJSON = `[
		{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]},
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)

var (
	factoryABI    = mustParseABI("factory", factoryABIJSON)
	bootstrapABI  = mustParseABI("bootstrap", bootstrapABIJSON)
	entryPointABI = mustParseABI("entrypoint", entryPointABIJSON)

	addressT, _ = abi.NewType("address", "", nil)
	bytesT, _   = abi.NewType("bytes", "", nil)

	accountInitArgs = abi.Arguments{
		{Name: "owner", Type: addressT},
		{Name: "bootstrap", Type: addressT},
		{Name: "initMSAData", Type: bytesT},
	}

	// ERC-1967 implementation slot, keccak256("eip1967.proxy.implementation") - 1
	erc1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("invalid %s ABI: %w", name, err))
	}
	return parsed
}
