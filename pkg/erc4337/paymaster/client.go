// Package paymaster requests gas sponsorship for user operations from an
// Arka style paymaster service.
package paymaster

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
)

const sponsorMethod = "pm_sponsorUserOperation"

// Config mirrors the paymaster section of the client configuration.
type Config struct {
	URL    string
	APIKey string
	// ChainID the paymaster endpoint is provisioned for. Nil skips the local check.
	ChainID *big.Int
	UseVP   bool
	// Context is forwarded verbatim as the third request param.
	Context json.RawMessage
	Timeout time.Duration
}

// SponsorContext builds the common {"mode": mode} context.
func SponsorContext(mode string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"mode": mode})
	return raw
}

// Sponsorship is what the paymaster agreed to. Fee fields are nil when the
// paymaster leaves fees to the caller.
type Sponsorship struct {
	PaymasterAndData     []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Apply copies the sponsorship onto op.
func (s *Sponsorship) Apply(op *userop.UserOperation) {
	op.PaymasterAndData = common.CopyBytes(s.PaymasterAndData)
	if s.CallGasLimit != nil {
		op.CallGasLimit = new(big.Int).Set(s.CallGasLimit)
	}
	if s.VerificationGasLimit != nil {
		op.VerificationGasLimit = new(big.Int).Set(s.VerificationGasLimit)
	}
	if s.PreVerificationGas != nil {
		op.PreVerificationGas = new(big.Int).Set(s.PreVerificationGas)
	}
	if s.MaxFeePerGas != nil {
		op.MaxFeePerGas = new(big.Int).Set(s.MaxFeePerGas)
	}
	if s.MaxPriorityFeePerGas != nil {
		op.MaxPriorityFeePerGas = new(big.Int).Set(s.MaxPriorityFeePerGas)
	}
}

type jsonRPCRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	Id      int           `json:"id"`
}

type jsonRPCResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Id      int         `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// sponsorResult covers both the v0.6 and the v0.7 result shapes.
type sponsorResult struct {
	PaymasterAndData              string `mapstructure:"paymasterAndData"`
	Paymaster                     string `mapstructure:"paymaster"`
	PaymasterData                 string `mapstructure:"paymasterData"`
	PaymasterVerificationGasLimit string `mapstructure:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       string `mapstructure:"paymasterPostOpGasLimit"`
	CallGasLimit                  string `mapstructure:"callGasLimit"`
	VerificationGasLimit          string `mapstructure:"verificationGasLimit"`
	PreVerificationGas            string `mapstructure:"preVerificationGas"`
	MaxFeePerGas                  string `mapstructure:"maxFeePerGas"`
	MaxPriorityFeePerGas          string `mapstructure:"maxPriorityFeePerGas"`
}

// Client calls a paymaster over HTTP JSON-RPC.
type Client struct {
	httpClient *resty.Client
	config     Config
	version    userop.EntryPointVersion
	logger     sdklogging.Logger
}

func NewClient(cfg Config, version userop.EntryPointVersion, log sdklogging.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, aaerr.Newf(aaerr.ConfigurationError, "paymaster url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		httpClient: client,
		config:     cfg,
		version:    version,
		logger:     logger.EnsureLogger(log),
	}, nil
}

// Sponsor asks the paymaster to cover op on the given chain. op must carry
// everything except the final signature. Nothing is retried.
func (c *Client) Sponsor(ctx context.Context, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (*Sponsorship, error) {
	if c.config.ChainID != nil && chainID != nil && c.config.ChainID.Cmp(chainID) != 0 {
		return nil, aaerr.New(aaerr.ChainMismatch, "paymaster is configured for another chain", nil, map[string]interface{}{
			"paymasterChainId": c.config.ChainID.String(),
			"chainId":          chainID.String(),
		})
	}

	wire, err := userop.EncodeRPC(op, c.version)
	if err != nil {
		return nil, aaerr.New(aaerr.InvalidOperation, "cannot encode user operation", err)
	}

	params := []interface{}{wire, entryPoint.Hex()}
	if len(c.config.Context) > 0 {
		params = append(params, c.config.Context)
	}

	query := map[string]string{
		"useVp": strconv.FormatBool(c.config.UseVP),
	}
	if c.config.APIKey != "" {
		query["apiKey"] = c.config.APIKey
	}
	if chainID != nil {
		query["chainId"] = chainID.String()
	}

	c.logger.Debug("requesting paymaster sponsorship", "url", c.config.URL, "sender", op.Sender.Hex(), "chainId", query["chainId"])

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetBody(jsonRPCRequest{Jsonrpc: "2.0", Method: sponsorMethod, Params: params, Id: 1}).
		Post(c.config.URL)
	if err != nil {
		return nil, aaerr.New(aaerr.PaymasterUnreachable, "paymaster request failed", err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, aaerr.New(aaerr.PaymasterUnreachable, fmt.Sprintf("paymaster returned HTTP %d", resp.StatusCode()), nil, map[string]interface{}{
			"status": resp.StatusCode(),
			"body":   truncate(resp.String(), 200),
		})
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
		return nil, aaerr.New(aaerr.PaymasterUnreachable, "paymaster returned a malformed response", err)
	}
	if rpcResp.Error != nil {
		code := aaerr.PaymasterRejected
		if mentionsUnsupportedChain(rpcResp.Error.Message) {
			code = aaerr.ChainMismatch
		}
		return nil, aaerr.New(code, rpcResp.Error.Message, nil, map[string]interface{}{
			"code": rpcResp.Error.Code,
		})
	}
	if rpcResp.Result == nil {
		return nil, aaerr.Newf(aaerr.PaymasterRejected, "paymaster returned no sponsorship")
	}

	sponsorship, err := c.decodeResult(rpcResp.Result)
	if err != nil {
		return nil, aaerr.New(aaerr.PaymasterRejected, "cannot decode paymaster sponsorship", err)
	}

	c.logger.Info("paymaster sponsorship granted", "sender", op.Sender.Hex(), "paymasterAndData", hexutil.Encode(sponsorship.PaymasterAndData))
	return sponsorship, nil
}

func (c *Client) decodeResult(result interface{}) (*Sponsorship, error) {
	var raw sponsorResult
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(result); err != nil {
		return nil, err
	}

	s := &Sponsorship{}
	fields := []struct {
		name string
		in   string
		out  **big.Int
	}{
		{"callGasLimit", raw.CallGasLimit, &s.CallGasLimit},
		{"verificationGasLimit", raw.VerificationGasLimit, &s.VerificationGasLimit},
		{"preVerificationGas", raw.PreVerificationGas, &s.PreVerificationGas},
		{"maxFeePerGas", raw.MaxFeePerGas, &s.MaxFeePerGas},
		{"maxPriorityFeePerGas", raw.MaxPriorityFeePerGas, &s.MaxPriorityFeePerGas},
	}
	for _, f := range fields {
		v, err := parseQuantity(f.in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = v
	}

	switch {
	case raw.PaymasterAndData != "":
		s.PaymasterAndData, err = hexutil.Decode(raw.PaymasterAndData)
		if err != nil {
			return nil, fmt.Errorf("paymasterAndData: %w", err)
		}
	case raw.Paymaster != "":
		if !common.IsHexAddress(raw.Paymaster) {
			return nil, fmt.Errorf("paymaster: invalid address %q", raw.Paymaster)
		}
		verification, err := parseQuantity(raw.PaymasterVerificationGasLimit)
		if err != nil {
			return nil, fmt.Errorf("paymasterVerificationGasLimit: %w", err)
		}
		postOp, err := parseQuantity(raw.PaymasterPostOpGasLimit)
		if err != nil {
			return nil, fmt.Errorf("paymasterPostOpGasLimit: %w", err)
		}
		var data []byte
		if raw.PaymasterData != "" {
			if data, err = hexutil.Decode(raw.PaymasterData); err != nil {
				return nil, fmt.Errorf("paymasterData: %w", err)
			}
		}
		s.PaymasterAndData, err = userop.PackPaymasterAndData(userop.PaymasterFields{
			Paymaster:                     common.HexToAddress(raw.Paymaster),
			PaymasterVerificationGasLimit: verification,
			PaymasterPostOpGasLimit:       postOp,
			PaymasterData:                 data,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("result carries neither paymasterAndData nor paymaster")
	}

	return s, nil
}

// parseQuantity accepts 0x-prefixed hex or decimal. Empty yields nil.
func parseQuantity(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex quantity %q", s)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}

func mentionsUnsupportedChain(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "chain") && (strings.Contains(m, "support") || strings.Contains(m, "invalid"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
