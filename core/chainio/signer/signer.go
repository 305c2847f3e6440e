package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
)

const (
	eip191Prefix = "\x19Ethereum Signed Message:\n"
)

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, aaerr.Newf(aaerr.SigningFailed, "private key is empty")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, aaerr.New(aaerr.SigningFailed, "invalid private key", err)
	}
	return key, nil
}

// AddressOf returns the account controlled by key.
func AddressOf(key *ecdsa.PrivateKey) common.Address {
	if key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

// Generate EIP191 signature
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	prefixedData := append(prefix, data...)
	hash := crypto.Keccak256Hash(prefixedData)
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, err
	}
	// https://stackoverflow.com/questions/69762108/implementing-ethereum-personal-sign-eip-191-from-go-ethereum-gives-different-s
	sig[64] += 27

	return sig, nil
}

// RecoverMessageSigner returns the address that produced an EIP191 signature over data.
func RecoverMessageSigner(data, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := common.CopyBytes(signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	prefixed := append([]byte(eip191Prefix+fmt.Sprint(len(data))), data...)
	pub, err := crypto.SigToPub(crypto.Keccak256(prefixed), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// UserOpSigner signs user operations for one account owner on one chain.
type UserOpSigner struct {
	key        *ecdsa.PrivateKey
	entryPoint common.Address
	chainID    *big.Int
	version    userop.EntryPointVersion
}

func NewUserOpSigner(key *ecdsa.PrivateKey, entryPoint common.Address, chainID *big.Int, version userop.EntryPointVersion) *UserOpSigner {
	return &UserOpSigner{
		key:        key,
		entryPoint: entryPoint,
		chainID:    chainID,
		version:    version,
	}
}

// Owner is the address whose key signs operations.
func (s *UserOpSigner) Owner() common.Address {
	return AddressOf(s.key)
}

// Hash returns the user operation hash this signer would sign.
func (s *UserOpSigner) Hash(op *userop.UserOperation) (common.Hash, error) {
	h, err := userop.Hash(op, s.entryPoint, s.chainID, s.version)
	if err != nil {
		return common.Hash{}, aaerr.New(aaerr.InvalidOperation, "cannot hash user operation", err)
	}
	return h, nil
}

// Sign returns a copy of op carrying the owner's EIP191 signature over the operation hash.
// The input is left untouched.
func (s *UserOpSigner) Sign(op *userop.UserOperation) (*userop.UserOperation, common.Hash, error) {
	if s.key == nil {
		return nil, common.Hash{}, aaerr.Newf(aaerr.SigningFailed, "no signing key configured")
	}
	if op == nil {
		return nil, common.Hash{}, aaerr.Newf(aaerr.InvalidOperation, "nil user operation")
	}

	hash, err := s.Hash(op)
	if err != nil {
		return nil, common.Hash{}, err
	}

	sig, err := SignMessage(s.key, hash.Bytes())
	if err != nil {
		return nil, common.Hash{}, aaerr.New(aaerr.SigningFailed, "failed to sign user operation hash", err)
	}

	signed := op.Clone()
	signed.Signature = sig
	return signed, hash, nil
}
