// Package config loads safesign settings from the config file, SAFESIGN_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yolodolo42/safesign/internal/chain"
	"github.com/yolodolo42/safesign/internal/discovery"
	"github.com/yolodolo42/safesign/internal/logging"
	"github.com/yolodolo42/safesign/internal/signing"
)

const (
	EnvPrefix       = "SAFESIGN"
	ConfigName      = "config"
	ConfigType      = "yaml"
	dataDirName     = ".safesign"
	defaultLogLevel = "warn"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type LogConfig struct {
	Level  string
	Format string
}

type DiscoveryConfig struct {
	// BaseURL overrides the chain's Safe Transaction Service URL
	BaseURL string
	Timeout time.Duration
}

type SigningConfig struct {
	Mode        signing.Mode
	SafePayload signing.PayloadMode
	Content     string
}

// Config is the resolved, validated configuration
type Config struct {
	Chain     string
	RPCURL    string
	DataDir   string
	Log       LogConfig
	Discovery DiscoveryConfig
	Signing   SigningConfig
}

// DefaultDataDir returns $HOME/.safesign, or .safesign if there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dataDirName
	}
	return filepath.Join(home, dataDirName)
}

// SetDefaults registers every key's default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("chain", chain.DefaultChain)
	v.SetDefault("rpc_url", "")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", logging.FormatConsole)
	v.SetDefault("discovery.base_url", "")
	v.SetDefault("discovery.timeout", discovery.DefaultTimeout)
	v.SetDefault("signing.mode", string(signing.ModeAny))
	v.SetDefault("signing.safe_payload", string(signing.PayloadTyped))
	v.SetDefault("signing.content", signing.DefaultContent)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ./.env)
// without overriding variables that are already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads cfgFile (or config.yaml from the data dir and working directory)
// into v, applies SAFESIGN_* overrides and returns the validated result.
// A missing default config file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	} else {
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath(".")
		v.SetConfigName(ConfigName)
		v.SetConfigType(ConfigType)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Chain:   strings.TrimSpace(v.GetString("chain")),
		RPCURL:  strings.TrimSpace(v.GetString("rpc_url")),
		DataDir: v.GetString("data_dir"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Discovery: DiscoveryConfig{
			BaseURL: strings.TrimSpace(v.GetString("discovery.base_url")),
			Timeout: v.GetDuration("discovery.timeout"),
		},
		Signing: SigningConfig{
			Content: v.GetString("signing.content"),
		},
	}

	var err error
	if cfg.Signing.Mode, err = signing.ParseMode(v.GetString("signing.mode")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Signing.SafePayload, err = signing.ParsePayloadMode(v.GetString("signing.safe_payload")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields that have no natural parser of their own
func (c *Config) Validate() error {
	if c.Chain == "" {
		return fmt.Errorf("%w: chain is required", ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.Discovery.Timeout <= 0 {
		return fmt.Errorf("%w: discovery.timeout must be positive", ErrInvalidConfig)
	}
	switch c.Log.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: log.format must be %s or %s", ErrInvalidConfig, logging.FormatConsole, logging.FormatJSON)
	}
	if c.RPCURL != "" && !strings.HasPrefix(c.RPCURL, "http") && !strings.HasPrefix(c.RPCURL, "ws") {
		return fmt.Errorf("%w: rpc_url must be an http(s) or ws(s) URL", ErrInvalidConfig)
	}
	return nil
}

// Template returns the request template for this config
func (c *Config) Template() signing.Template {
	t := signing.DefaultTemplate()
	if c.Signing.Content != "" {
		t.Content = c.Signing.Content
	}
	return t
}

// ResolveChain looks up the configured chain and applies the rpc_url and
// discovery.base_url overrides. The returned config is a copy.
func (c *Config) ResolveChain(chains map[string]*chain.ChainConfig) (*chain.ChainConfig, string, error) {
	base, ok := chains[c.Chain]
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown chain %q (known: %s)", ErrInvalidConfig, c.Chain, strings.Join(chain.ChainNames(chains), ", "))
	}

	resolved := *base
	resolved.ChainID = new(big.Int).Set(base.ChainID)
	resolved.RPCURLs = append([]string(nil), base.RPCURLs...)
	if c.RPCURL != "" {
		resolved.RPCURLs = []string{c.RPCURL}
	}

	serviceURL := resolved.SafeServiceURL
	if c.Discovery.BaseURL != "" {
		serviceURL = c.Discovery.BaseURL
	}
	if serviceURL == "" {
		return nil, "", fmt.Errorf("%w: no Safe Transaction Service for chain %q, set discovery.base_url", ErrInvalidConfig, c.Chain)
	}
	return &resolved, serviceURL, nil
}
