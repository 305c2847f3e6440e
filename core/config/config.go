package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/AvaProtocol/ap-userop/core/chainio/aa"
	"github.com/AvaProtocol/ap-userop/core/chainio/signer"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/paymaster"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/poller"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
)

// Environment variables that take precedence over the config file.
const (
	EnvWalletPrivateKey = "WALLET_PRIVATE_KEY"
	EnvAPIKey           = "API_KEY"
	EnvBundlerURL       = "BUNDLER_URL"
	EnvPaymasterURL     = "PAYMASTER_URL"
	EnvRPCURL           = "RPC_URL"
	EnvChainPreset      = "CHAIN_PRESET"
)

// Config contains everything one smart account session needs. It is built once
// and handed to each component's constructor.
type Config struct {
	Logger      sdklogging.Logger
	Environment sdklogging.LogLevel

	Chain      Chain
	RpcURL     string
	BundlerURL string

	EntryPointVersion userop.EntryPointVersion
	EntryPointAddress common.Address

	// json:"-" keeps the key out of pp / json dumps of the config
	OwnerKey *ecdsa.PrivateKey `json:"-"`
	Owner    common.Address

	SmartAccount SmartAccountConfig
	Paymaster    paymaster.Config
	Poll         poller.Config

	DbPath      string
	MetricsAddr string
}

type SmartAccountConfig struct {
	Factory        common.Address
	Bootstrap      common.Address
	Validator      common.Address
	Implementation common.Address
	Index          *big.Int
}

// These are read from the config file
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment" validate:"omitempty,oneof=production development"`

	ChainPreset string `yaml:"chain_preset"`
	ChainID     int64  `yaml:"chain_id" validate:"gte=0"`
	RpcUrl      string `yaml:"rpc_url" validate:"omitempty,url"`
	BundlerUrl  string `yaml:"bundler_url" validate:"required,url"`

	WalletPrivateKey string `yaml:"wallet_private_key" validate:"required"`

	EntryPoint   EntryPointRaw   `yaml:"entrypoint"`
	SmartAccount SmartAccountRaw `yaml:"smart_account"`
	Paymaster    PaymasterRaw    `yaml:"paymaster"`
	Poll         PollRaw         `yaml:"poll"`

	DbPath      string `yaml:"db_path"`
	MetricsAddr string `yaml:"metrics_address" validate:"omitempty,hostname_port"`
}

type EntryPointRaw struct {
	Version string `yaml:"version" validate:"omitempty,oneof=v0.6 v0.7"`
	Address string `yaml:"address" validate:"omitempty,eth_addr"`
}

type SmartAccountRaw struct {
	Factory        string `yaml:"factory" validate:"omitempty,eth_addr"`
	Bootstrap      string `yaml:"bootstrap" validate:"omitempty,eth_addr"`
	Validator      string `yaml:"validator" validate:"omitempty,eth_addr"`
	Implementation string `yaml:"implementation" validate:"omitempty,eth_addr"`
	Index          uint64 `yaml:"index"`
}

type PaymasterRaw struct {
	Url     string        `yaml:"url" validate:"omitempty,url"`
	ApiKey  string        `yaml:"api_key"`
	ChainID int64         `yaml:"chain_id" validate:"gte=0"`
	UseVp   bool          `yaml:"use_vp"`
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type PollRaw struct {
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// LoadEnv reads a .env file into the process environment. An empty path loads
// ./.env when it exists. Variables already set are not overwritten.
func LoadEnv(envPath string) error {
	if envPath != "" {
		return godotenv.Load(envPath)
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
}

// NewConfig reads the yaml file at configFilePath, overlays the environment and
// validates the result. It never touches the network.
func NewConfig(configFilePath string) (*Config, error) {
	var configRaw ConfigRaw
	if configFilePath != "" {
		raw, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, aaerr.New(aaerr.ConfigurationError, "cannot read config file", err, map[string]interface{}{"path": configFilePath})
		}
		if err := yaml.Unmarshal(raw, &configRaw); err != nil {
			return nil, aaerr.New(aaerr.ConfigurationError, "cannot parse config file", err, map[string]interface{}{"path": configFilePath})
		}
	}

	configRaw.ApplyEnv(os.Getenv)
	return FromRaw(configRaw)
}

// ApplyEnv overlays the non-empty environment variables onto the raw config.
func (r *ConfigRaw) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&r.WalletPrivateKey, EnvWalletPrivateKey)
	set(&r.Paymaster.ApiKey, EnvAPIKey)
	set(&r.BundlerUrl, EnvBundlerURL)
	set(&r.Paymaster.Url, EnvPaymasterURL)
	set(&r.RpcUrl, EnvRPCURL)
	set(&r.ChainPreset, EnvChainPreset)
}

// FromRaw validates a raw config and converts it to a Config.
func FromRaw(configRaw ConfigRaw) (*Config, error) {
	if err := validate(configRaw); err != nil {
		return nil, err
	}

	chain, err := resolveChain(configRaw)
	if err != nil {
		return nil, aaerr.New(aaerr.ConfigurationError, err.Error(), nil)
	}

	account, err := resolveSmartAccount(configRaw.SmartAccount, chain)
	if err != nil {
		return nil, err
	}

	rpcURL := configRaw.RpcUrl
	if rpcURL == "" && len(chain.RPCURLs) > 0 {
		rpcURL = chain.RPCURLs[0]
	}
	if rpcURL == "" {
		return nil, aaerr.Newf(aaerr.ConfigurationError, "rpc_url is required when the chain has no default rpc")
	}

	ownerKey, err := signer.ParsePrivateKey(configRaw.WalletPrivateKey)
	if err != nil {
		return nil, aaerr.New(aaerr.ConfigurationError, "wallet private key is invalid", err)
	}

	environment := configRaw.Environment
	if environment == "" {
		environment = sdklogging.Production
	}
	logger, err := sdklogging.NewZapLogger(environment)
	if err != nil {
		return nil, aaerr.New(aaerr.ConfigurationError, "cannot create logger", err)
	}

	version := userop.EntryPointVersion(configRaw.EntryPoint.Version)
	if version == "" {
		version = userop.EntryPointV07
	}
	entryPoint := version.DefaultAddress()
	if configRaw.EntryPoint.Address != "" {
		entryPoint = common.HexToAddress(configRaw.EntryPoint.Address)
	}

	config := &Config{
		Logger:            logger,
		Environment:       environment,
		Chain:             chain,
		RpcURL:            rpcURL,
		BundlerURL:        configRaw.BundlerUrl,
		EntryPointVersion: version,
		EntryPointAddress: entryPoint,
		OwnerKey:          ownerKey,
		Owner:             signer.AddressOf(ownerKey),
		SmartAccount:      account,
		Poll: poller.Config{
			Timeout:  configRaw.Poll.Timeout,
			Interval: configRaw.Poll.Interval,
		},
		DbPath:      configRaw.DbPath,
		MetricsAddr: configRaw.MetricsAddr,
	}

	if configRaw.Paymaster.Url != "" {
		mode := configRaw.Paymaster.Mode
		if mode == "" {
			mode = "sponsor"
		}
		paymasterChain := chain.ID
		if configRaw.Paymaster.ChainID != 0 {
			paymasterChain = big.NewInt(configRaw.Paymaster.ChainID)
		}
		config.Paymaster = paymaster.Config{
			URL:     configRaw.Paymaster.Url,
			APIKey:  configRaw.Paymaster.ApiKey,
			ChainID: paymasterChain,
			UseVP:   configRaw.Paymaster.UseVp,
			Context: paymaster.SponsorContext(mode),
			Timeout: configRaw.Paymaster.Timeout,
		}
	}

	return config, nil
}

// Sponsored reports whether a paymaster is configured.
func (c *Config) Sponsored() bool {
	return c.Paymaster.URL != ""
}

// AccountParams is the smart account identity derived from the owner key and
// the configured factory setup.
func (c *Config) AccountParams() aa.AccountParams {
	return aa.AccountParams{
		Owner:     c.Owner,
		Factory:   c.SmartAccount.Factory,
		Bootstrap: c.SmartAccount.Bootstrap,
		Validator: c.SmartAccount.Validator,
		Index:     new(big.Int).Set(c.SmartAccount.Index),
	}
}

func resolveChain(configRaw ConfigRaw) (Chain, error) {
	var chain Chain
	if configRaw.ChainPreset != "" {
		preset, ok := GetChainPreset(configRaw.ChainPreset)
		if !ok {
			return Chain{}, unknownPreset(configRaw.ChainPreset)
		}
		chain = preset
	}
	if configRaw.ChainID != 0 {
		if chain.ID != nil && chain.ID.Int64() != configRaw.ChainID {
			return Chain{}, fmt.Errorf("chain_id %d contradicts preset %s (%s)", configRaw.ChainID, configRaw.ChainPreset, chain.ID)
		}
		chain.ID = big.NewInt(configRaw.ChainID)
	}
	if chain.ID == nil {
		return Chain{}, errors.New("either chain_preset or chain_id is required")
	}
	if chain.Name == "" {
		chain.Name = fmt.Sprintf("chain-%s", chain.ID)
	}
	return chain, nil
}

// resolveSmartAccount takes each factory setup address from the config, or from
// the chain's known deployment when the config leaves it empty.
func resolveSmartAccount(raw SmartAccountRaw, chain Chain) (SmartAccountConfig, error) {
	var known Deployment
	if chain.Deployment != nil {
		known = *chain.Deployment
	}
	pick := func(field, value string, fallback common.Address) (common.Address, error) {
		if value != "" {
			return common.HexToAddress(value), nil
		}
		if fallback == (common.Address{}) {
			return common.Address{}, aaerr.Newf(aaerr.ConfigurationError, "smart_account.%s is required on %s", field, chain.Name)
		}
		return fallback, nil
	}

	account := SmartAccountConfig{
		Implementation: common.HexToAddress(raw.Implementation),
		Index:          new(big.Int).SetUint64(raw.Index),
	}
	var err error
	if account.Factory, err = pick("factory", raw.Factory, known.Factory); err != nil {
		return SmartAccountConfig{}, err
	}
	if account.Bootstrap, err = pick("bootstrap", raw.Bootstrap, known.Bootstrap); err != nil {
		return SmartAccountConfig{}, err
	}
	if account.Validator, err = pick("validator", raw.Validator, known.Validator); err != nil {
		return SmartAccountConfig{}, err
	}
	return account, nil
}

var validate = func() func(ConfigRaw) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return func(configRaw ConfigRaw) error {
		err := v.Struct(configRaw)
		if err == nil {
			return nil
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return aaerr.New(aaerr.ConfigurationError, "invalid config", err)
		}
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return aaerr.New(aaerr.ConfigurationError, "invalid config: "+strings.Join(fields, ", "), err, map[string]interface{}{
			"fields": fields,
		})
	}
}()
