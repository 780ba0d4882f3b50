// Package config loads relay settings from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swap-relay/internal/solana"
)

// EnvPrefix prefixes every environment variable, e.g. RELAY_RPC_URL.
const EnvPrefix = "RELAY"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	ListenAddr string
	LogLevel   string

	RPCURL     string
	WSURL      string
	JupiterURL string

	FeePayerKey           string // base58 secret key
	FeeRecipient          string
	FeeMints              []string
	FeeBps                uint16
	MinFeeUSD             string
	MinTradeUSD           string
	FeeMintDecimals       int32
	MaxAccounts           int
	PriorityFeeMultiplier int

	RefreshInterval       time.Duration
	SweepInterval         time.Duration
	IdleTimeout           time.Duration
	MaxConcurrentComputes int64

	RetryAttempts  int
	RetryDelay     time.Duration
	IdempotencyTTL time.Duration
	IssuedTTL      time.Duration

	SubmitEnabled  bool
	ConfirmTimeout time.Duration

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	RateLimitPerMinute float64
	RateLimitBurst     int
	AllowedOrigins     []string

	RedisURL      string
	PostgresDSN   string
	ClickhouseDSN string
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("log-level", "info")
	v.SetDefault("rpc-url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("jupiter-url", "https://quote-api.jup.ag/v6")

	v.SetDefault("fee-mints", []string{solana.USDCMainnetMint.String()})
	v.SetDefault("fee-bps", 100)
	v.SetDefault("min-fee-usd", "0.25")
	v.SetDefault("min-trade-usd", "1")
	v.SetDefault("fee-mint-decimals", 6)
	v.SetDefault("max-accounts", 50)

	v.SetDefault("refresh-interval", 5*time.Second)
	v.SetDefault("sweep-interval", time.Minute)
	v.SetDefault("idle-timeout", 5*time.Minute)
	v.SetDefault("max-concurrent-computes", 64)

	v.SetDefault("retry-attempts", 10)
	v.SetDefault("retry-delay", time.Second)
	v.SetDefault("idempotency-ttl", 2*time.Minute)
	v.SetDefault("issued-ttl", 5*time.Minute)

	v.SetDefault("submit-enabled", true)
	v.SetDefault("confirm-timeout", 30*time.Second)

	v.SetDefault("rate-limit-per-minute", 30)
	v.SetDefault("rate-limit-burst", 5)
	return v
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := newViper()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		ListenAddr: v.GetString("listen"),
		LogLevel:   v.GetString("log-level"),

		RPCURL:     v.GetString("rpc-url"),
		WSURL:      v.GetString("ws-url"),
		JupiterURL: v.GetString("jupiter-url"),

		FeePayerKey:           v.GetString("fee-payer-key"),
		FeeRecipient:          v.GetString("fee-recipient"),
		FeeMints:              getStringSlice(v, "fee-mints"),
		FeeBps:                uint16(v.GetUint("fee-bps")),
		MinFeeUSD:             v.GetString("min-fee-usd"),
		MinTradeUSD:           v.GetString("min-trade-usd"),
		FeeMintDecimals:       v.GetInt32("fee-mint-decimals"),
		MaxAccounts:           v.GetInt("max-accounts"),
		PriorityFeeMultiplier: v.GetInt("priority-fee-multiplier"),

		RefreshInterval:       v.GetDuration("refresh-interval"),
		SweepInterval:         v.GetDuration("sweep-interval"),
		IdleTimeout:           v.GetDuration("idle-timeout"),
		MaxConcurrentComputes: v.GetInt64("max-concurrent-computes"),

		RetryAttempts:  v.GetInt("retry-attempts"),
		RetryDelay:     v.GetDuration("retry-delay"),
		IdempotencyTTL: v.GetDuration("idempotency-ttl"),
		IssuedTTL:      v.GetDuration("issued-ttl"),

		SubmitEnabled:  v.GetBool("submit-enabled"),
		ConfirmTimeout: v.GetDuration("confirm-timeout"),

		JWTSecret:   v.GetString("jwt-secret"),
		JWTIssuer:   v.GetString("jwt-issuer"),
		JWTAudience: v.GetString("jwt-audience"),

		RateLimitPerMinute: v.GetFloat64("rate-limit-per-minute"),
		RateLimitBurst:     v.GetInt("rate-limit-burst"),
		AllowedOrigins:     getStringSlice(v, "allowed-origins"),

		RedisURL:      v.GetString("redis-url"),
		PostgresDSN:   v.GetString("postgres-dsn"),
		ClickhouseDSN: v.GetString("clickhouse-dsn"),
	}
	return cfg, nil
}

// Validate checks the settings needed to serve.
func (c Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, errors.New("rpc-url is required"))
	}
	if c.FeePayerKey == "" {
		errs = append(errs, errors.New("fee-payer-key is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt-secret is required"))
	}
	if len(c.FeeMints) > 0 && c.FeeRecipient == "" {
		errs = append(errs, errors.New("fee-recipient is required when fee-mints are set"))
	}
	if c.FeeBps > 10000 {
		errs = append(errs, fmt.Errorf("fee-bps %d exceeds 10000", c.FeeBps))
	}
	for name, d := range map[string]time.Duration{
		"refresh-interval": c.RefreshInterval,
		"sweep-interval":   c.SweepInterval,
		"idle-timeout":     c.IdleTimeout,
		"retry-delay":      c.RetryDelay,
		"idempotency-ttl":  c.IdempotencyTTL,
		"issued-ttl":       c.IssuedTTL,
		"confirm-timeout":  c.ConfirmTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, errors.New("retry-attempts must be positive"))
	}
	if c.MaxConcurrentComputes < 0 {
		errs = append(errs, errors.New("max-concurrent-computes must not be negative"))
	}
	return errors.Join(errs...)
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return cleanStrings(strings.Split(typed, ","))
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
