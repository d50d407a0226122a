package config

import (
	"time"

	"github.com/vietddude/conductor/internal/core/domain"
	redisclient "github.com/vietddude/conductor/internal/infra/redis"
	"github.com/vietddude/conductor/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Database    postgres.Config    `yaml:"database"`
	Redis       redisclient.Config `yaml:"redis"`
	Lifecycle   LifecycleConfig    `yaml:"lifecycle"`
	Retry       RetryConfig        `yaml:"retry"`
	Settlement  SettlementConfig   `yaml:"settlement"`
	Consistency ConsistencyConfig  `yaml:"consistency"`
	Chains      []ChainConfig      `yaml:"chains"`
	Attestation ServiceConfig      `yaml:"attestation"`
	Oracle      OracleConfig       `yaml:"oracle"`
	Pools       ServiceConfig      `yaml:"pools"`
	Probes      []ProbeConfig      `yaml:"probes"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// LifecycleConfig controls the queue scheduler and monitor.
type LifecycleConfig struct {
	PollInterval          time.Duration `yaml:"poll_interval"`
	Concurrency           int           `yaml:"concurrency"`
	RequiredConfirmations uint64        `yaml:"required_confirmations"`
	MaxRetries            *int          `yaml:"max_retries"`
	TransactionTimeout    time.Duration `yaml:"transaction_timeout"`
	CallTimeout           time.Duration `yaml:"call_timeout"`
	// LockTTL enables the Redis scheduler lock when Redis is configured.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// RetryConfig holds the executor defaults.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// SettlementConfig holds fee sponsorship settings. Amounts are decimal strings.
type SettlementConfig struct {
	GasAsset           string        `yaml:"gas_asset"`
	SettlementAsset    string        `yaml:"settlement_asset"`
	GasPrice           string        `yaml:"gas_price"`
	MarkupPercent      string        `yaml:"markup_percent"`
	SettlementDecimals int32         `yaml:"settlement_decimals"`
	QuoteTTL           time.Duration `yaml:"quote_ttl"`
	RateTimeout        time.Duration `yaml:"rate_timeout"`
	BroadcastTimeout   time.Duration `yaml:"broadcast_timeout"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
}

// ConsistencyConfig holds pool validation settings.
type ConsistencyConfig struct {
	PoolCacheTTL time.Duration `yaml:"pool_cache_ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// SwapNetwork is the chain the AMM settles on; its node backs the swap probe.
	SwapNetwork domain.ChainID `yaml:"swap_network"`
}

// ChainConfig holds settings for one chain node.
type ChainConfig struct {
	ID      domain.ChainID    `yaml:"id"`
	Type    domain.ChainType  `yaml:"type"` // evm, stacks
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	// FallbackURLs are tried in turn when the primary node fails.
	FallbackURLs []string `yaml:"fallback_urls"`

	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int     `yaml:"burst"`

	// EVM: token contract emitting Transfer and MessageSent logs.
	TokenContract string `yaml:"token_contract"`
	MintLookback  uint64 `yaml:"mint_lookback"`

	// Stacks: contract printing mint events.
	MintContract   string `yaml:"mint_contract"`
	EventsPageSize int    `yaml:"events_page_size"`
}

// ServiceConfig holds settings for an HTTP collaborator.
type ServiceConfig struct {
	URL       string            `yaml:"url"`
	Timeout   time.Duration     `yaml:"timeout"`
	Headers   map[string]string `yaml:"headers"`
	RateLimit float64           `yaml:"rate_limit"`
	Burst     int               `yaml:"burst"`
}

// OracleConfig maps asset symbols to price ids.
type OracleConfig struct {
	ServiceConfig `yaml:",inline"`
	IDs           map[string]string `yaml:"ids"`
}

// ProbeConfig declares an extra health probe.
type ProbeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // http, grpc
	URL     string `yaml:"url"`
	Service string `yaml:"service"` // grpc health service name
}
