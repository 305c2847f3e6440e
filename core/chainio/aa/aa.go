package aa

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
)

// BootstrapConfig is one module entry passed to Bootstrap.initMSA.
type BootstrapConfig struct {
	Module common.Address
	Data   []byte
}

// AccountParams identifies a modular smart account before it is deployed.
type AccountParams struct {
	Owner     common.Address
	Factory   common.Address
	Bootstrap common.Address
	Validator common.Address
	Index     *big.Int
}

func (p AccountParams) Validate() error {
	switch {
	case p.Owner == (common.Address{}):
		return aaerr.Newf(aaerr.InvalidAddressDerivationInput, "owner address is required")
	case p.Factory == (common.Address{}):
		return aaerr.Newf(aaerr.InvalidAddressDerivationInput, "factory address is required")
	case p.Bootstrap == (common.Address{}):
		return aaerr.Newf(aaerr.InvalidAddressDerivationInput, "bootstrap address is required")
	case p.Validator == (common.Address{}):
		return aaerr.Newf(aaerr.InvalidAddressDerivationInput, "validator address is required")
	case p.Index == nil:
		return aaerr.Newf(aaerr.InvalidAddressDerivationInput, "account index is required")
	case p.Index.Sign() < 0:
		return aaerr.Newf(aaerr.InvalidAddressDerivationInput, "account index %s is negative", p.Index)
	case p.Index.BitLen() > 256:
		return aaerr.Newf(aaerr.InvalidAddressDerivationInput, "account index %s overflows bytes32", p.Index)
	}
	return nil
}

// Salt is the account index as a 32 byte word.
func (p AccountParams) Salt() [32]byte {
	var salt [32]byte
	p.Index.FillBytes(salt[:])
	return salt
}

// AccountInit returns abi.encode(owner, bootstrap, initMSA(...)), the bytes the factory
// forwards to the freshly deployed account.
func (p AccountParams) AccountInit() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	empty := BootstrapConfig{Data: []byte{}}
	initMSA, err := bootstrapABI.Pack("initMSA",
		[]BootstrapConfig{{Module: p.Validator, Data: p.Owner.Bytes()}},
		[]BootstrapConfig{empty},
		empty,
		[]BootstrapConfig{empty},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack initMSA: %w", err)
	}

	init, err := accountInitArgs.Pack(p.Owner, p.Bootstrap, initMSA)
	if err != nil {
		return nil, fmt.Errorf("failed to pack account init: %w", err)
	}
	return init, nil
}

// InitCode returns factory ++ createAccount(salt, accountInit), the value a user operation
// carries when the account has not been deployed yet.
func (p AccountParams) InitCode() ([]byte, error) {
	init, err := p.AccountInit()
	if err != nil {
		return nil, err
	}

	calldata, err := factoryABI.Pack("createAccount", p.Salt(), init)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}

	var data []byte
	data = append(data, p.Factory.Bytes()...)
	data = append(data, calldata...)
	return data, nil
}

// ProxyInitCode is the creation code of the minimal ERC-1967 proxy the factory deploys
// in front of implementation.
func ProxyInitCode(implementation common.Address) []byte {
	var code []byte
	code = append(code, common.FromHex("0x603d3d8160223d3973")...)
	code = append(code, implementation.Bytes()...)
	code = append(code, common.FromHex("0x60095155f3363d3d373d3d363d7f")...)
	code = append(code, erc1967ImplementationSlot.Bytes()...)
	code = append(code, common.FromHex("0x545af43d6000803e6038573d6000fd5b3d6000f3")...)
	return code
}

// ComputeAddress derives the counterfactual account address locally. It needs the factory's
// account implementation; the result equals what factory.getAddress returns on-chain.
func ComputeAddress(p AccountParams, implementation common.Address) (common.Address, error) {
	if implementation == (common.Address{}) {
		return common.Address{}, aaerr.Newf(aaerr.InvalidAddressDerivationInput, "account implementation address is required")
	}
	init, err := p.AccountInit()
	if err != nil {
		return common.Address{}, err
	}

	salt := p.Salt()
	actualSalt := crypto.Keccak256Hash(init, salt[:])
	return crypto.CreateAddress2(p.Factory, actualSalt, crypto.Keccak256(ProxyInitCode(implementation))), nil
}
