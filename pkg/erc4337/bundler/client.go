// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless
package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
)

// safePreview returns a truncated preview of s with ellipsis when longer than n
func safePreview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Config describes one bundler endpoint.
type Config struct {
	URL     string
	Version userop.EntryPointVersion
	// Timeout bounds each HTTP round trip. Zero means 30s.
	Timeout time.Duration
}

// Client talks to an ERC-4337 bundler over JSON-RPC.
type Client struct {
	client  *rpc.Client
	url     string
	version userop.EntryPointVersion
	logger  sdklogging.Logger
}

// NewClient dials the bundler over HTTP.
func NewClient(cfg Config, log sdklogging.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, aaerr.Newf(aaerr.ConfigurationError, "bundler url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c, err := rpc.DialOptions(context.Background(), cfg.URL, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, aaerr.New(aaerr.ConfigurationError, "cannot create bundler client", err)
	}
	return NewClientWithRPC(c, cfg.URL, cfg.Version, log), nil
}

// NewClientWithRPC wraps an existing rpc client.
func NewClientWithRPC(c *rpc.Client, url string, version userop.EntryPointVersion, log sdklogging.Logger) *Client {
	if !version.Valid() {
		version = userop.EntryPointV07
	}
	return &Client{
		client:  c,
		url:     url,
		version: version,
		logger:  logger.EnsureLogger(log),
	}
}

// Close closes the underlying RPC client connection.
func (bc *Client) Close() {
	bc.client.Close()
}

func (bc *Client) Version() userop.EntryPointVersion {
	return bc.version
}

// SendUserOperation submits a signed operation and returns the hash the bundler assigned.
// It is not retried: a second submission of the same nonce would be rejected or replace the first.
func (bc *Client) SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (common.Hash, error) {
	wire, err := userop.EncodeRPC(op, bc.version)
	if err != nil {
		return common.Hash{}, aaerr.New(aaerr.InvalidOperation, "cannot encode user operation", err)
	}

	bc.logger.Debug("eth_sendUserOperation",
		"url", bc.url,
		"entryPoint", entryPoint.Hex(),
		"sender", op.Sender.Hex(),
		"nonce", op.Nonce,
		"callData", safePreview(hexutil.Encode(op.CallData), 50),
		"signature", safePreview(hexutil.Encode(op.Signature), 50),
	)

	var hash common.Hash
	if err := bc.client.CallContext(ctx, &hash, "eth_sendUserOperation", wire, entryPoint); err != nil {
		return common.Hash{}, classify(err, aaerr.SubmissionRejected, "bundler rejected user operation")
	}
	return hash, nil
}

// EstimateUserOperationGas estimates the gas required for a UserOperation.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
// The signature field is ignored by the bundler but must have the right length.
// override is an optional state override set, same format as eth_call.
func (bc *Client) EstimateUserOperationGas(
	ctx context.Context,
	op *userop.UserOperation,
	entryPoint common.Address,
	override map[string]any,
) (*GasEstimation, error) {
	wire, err := userop.EncodeRPC(op, bc.version)
	if err != nil {
		return nil, aaerr.New(aaerr.InvalidOperation, "cannot encode user operation", err)
	}

	params := []interface{}{wire, entryPoint}
	if override != nil {
		params = append(params, override)
	}

	var result gasEstimationResult
	if err := bc.client.CallContext(ctx, &result, "eth_estimateUserOperationGas", params...); err != nil {
		return nil, classify(err, aaerr.EstimationFailed, "eth_estimateUserOperationGas failed")
	}

	estimation := result.toEstimation()
	bc.logger.Debug("eth_estimateUserOperationGas",
		"sender", op.Sender.Hex(),
		"preVerificationGas", estimation.PreVerificationGas,
		"verificationGasLimit", estimation.VerificationGasLimit,
		"callGasLimit", estimation.CallGasLimit,
	)
	return estimation, nil
}

// GetUserOperationReceipt returns nil, nil while the operation is not yet included.
func (bc *Client) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	var raw json.RawMessage
	if err := bc.client.CallContext(ctx, &raw, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, classify(err, aaerr.SubmissionRejected, "eth_getUserOperationReceipt failed")
	}
	return ParseReceipt(raw)
}

// UserOperationByHash is the bundler's view of a submitted operation.
type UserOperationByHash struct {
	UserOperation   *userop.UserOperation
	EntryPoint      common.Address
	TransactionHash common.Hash
	BlockHash       common.Hash
	BlockNumber     *big.Int
}

// GetUserOperationByHash fetches a UserOperation by its hash. It returns nil, nil when unknown.
func (bc *Client) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOperationByHash, error) {
	var raw json.RawMessage
	if err := bc.client.CallContext(ctx, &raw, "eth_getUserOperationByHash", hash); err != nil {
		return nil, classify(err, aaerr.SubmissionRejected, "eth_getUserOperationByHash failed")
	}
	if isNull(raw) {
		return nil, nil
	}

	var envelope struct {
		UserOperation   json.RawMessage `json:"userOperation"`
		EntryPoint      common.Address  `json:"entryPoint"`
		TransactionHash common.Hash     `json:"transactionHash"`
		BlockHash       common.Hash     `json:"blockHash"`
		BlockNumber     *hexutil.Big    `json:"blockNumber"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode user operation lookup: %w", err)
	}
	op, err := userop.DecodeRPC(envelope.UserOperation, bc.version)
	if err != nil {
		return nil, err
	}
	return &UserOperationByHash{
		UserOperation:   op,
		EntryPoint:      envelope.EntryPoint,
		TransactionHash: envelope.TransactionHash,
		BlockHash:       envelope.BlockHash,
		BlockNumber:     envelope.BlockNumber.ToInt(),
	}, nil
}

// SupportedEntryPoints lists the entry points the bundler accepts.
func (bc *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	if err := bc.client.CallContext(ctx, &out, "eth_supportedEntryPoints"); err != nil {
		return nil, classify(err, aaerr.SubmissionRejected, "eth_supportedEntryPoints failed")
	}
	return out, nil
}

// ChainID returns the chain the bundler submits to.
func (bc *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := bc.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, classify(err, aaerr.SubmissionRejected, "eth_chainId failed")
	}
	return id.ToInt(), nil
}

// classify maps transport failures to BundlerUnreachable and JSON-RPC errors
// returned by the bundler to the given code.
func classify(err error, rejected aaerr.Code, msg string) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return aaerr.New(aaerr.BundlerUnreachable, msg, err, map[string]interface{}{
			"status": httpErr.StatusCode,
		})
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		details := map[string]interface{}{"code": rpcErr.ErrorCode()}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
			details["data"] = dataErr.ErrorData()
		}
		return aaerr.New(rejected, fmt.Sprintf("%s: %s", msg, rpcErr.Error()), nil, details)
	}

	return aaerr.New(aaerr.BundlerUnreachable, msg, err)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
