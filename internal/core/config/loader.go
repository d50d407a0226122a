package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/conductor/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	lc := &cfg.Lifecycle
	if lc.PollInterval == 0 {
		lc.PollInterval = 15 * time.Second
	}
	if lc.Concurrency == 0 {
		lc.Concurrency = 8
	}
	if lc.RequiredConfirmations == 0 {
		lc.RequiredConfirmations = 1
	}
	if lc.MaxRetries == nil {
		n := 3
		lc.MaxRetries = &n
	}
	if lc.TransactionTimeout == 0 {
		lc.TransactionTimeout = time.Hour
	}
	if lc.CallTimeout == 0 {
		lc.CallTimeout = 15 * time.Second
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}

	st := &cfg.Settlement
	if st.GasAsset == "" {
		st.GasAsset = "STX"
	}
	if st.SettlementAsset == "" {
		st.SettlementAsset = "USDCx"
	}
	if st.GasPrice == "" {
		st.GasPrice = "0.000001"
	}
	if st.MarkupPercent == "" {
		st.MarkupPercent = "10"
	}
	if st.SettlementDecimals == 0 {
		st.SettlementDecimals = 6
	}
	if st.QuoteTTL == 0 {
		st.QuoteTTL = 5 * time.Minute
	}
	if st.RateTimeout == 0 {
		st.RateTimeout = 10 * time.Second
	}
	if st.BroadcastTimeout == 0 {
		st.BroadcastTimeout = 30 * time.Second
	}
	if st.ProbeTimeout == 0 {
		st.ProbeTimeout = 5 * time.Second
	}

	if cfg.Consistency.PoolCacheTTL == 0 {
		cfg.Consistency.PoolCacheTTL = time.Minute
	}
	if cfg.Consistency.FetchTimeout == 0 {
		cfg.Consistency.FetchTimeout = 10 * time.Second
	}
	if cfg.Consistency.SwapNetwork == "" {
		cfg.Consistency.SwapNetwork = domain.ChainIDStacks
	}

	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.Type == "" {
			c.Type = domain.ChainTypeOf[c.ID]
		}
		if c.Timeout == 0 {
			c.Timeout = 10 * time.Second
		}
	}
	for _, svc := range []*ServiceConfig{&cfg.Attestation, &cfg.Oracle.ServiceConfig, &cfg.Pools} {
		if svc.Timeout == 0 {
			svc.Timeout = 10 * time.Second
		}
	}
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	if _, _, err := c.Settlement.Amounts(); err != nil {
		return err
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("invalid retry config: max_delay %s below base_delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	seen := make(map[domain.ChainID]bool)
	for _, ch := range c.Chains {
		switch {
		case ch.ID == "":
			return fmt.Errorf("invalid chain config: id is required")
		case seen[ch.ID]:
			return fmt.Errorf("invalid chain config: duplicate chain %s", ch.ID)
		case ch.URL == "":
			return fmt.Errorf("invalid chain config: %s has no url", ch.ID)
		case slices.Contains(ch.FallbackURLs, ""):
			return fmt.Errorf("invalid chain config: %s has an empty fallback url", ch.ID)
		case ch.Type != domain.ChainTypeEVM && ch.Type != domain.ChainTypeStacks:
			return fmt.Errorf("invalid chain config: %s has unsupported type %q", ch.ID, ch.Type)
		}
		seen[ch.ID] = true
	}
	for _, p := range c.Probes {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("invalid probe config: name and url are required")
		}
		if p.Type != "http" && p.Type != "grpc" {
			return fmt.Errorf("invalid probe config: %s has unsupported type %q", p.Name, p.Type)
		}
	}
	return nil
}

// Amounts parses the gas price and markup.
func (s SettlementConfig) Amounts() (gasPrice, markup decimal.Decimal, err error) {
	gasPrice, err = decimal.NewFromString(s.GasPrice)
	if err != nil || !gasPrice.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid settlement config: gas_price %q must be a positive decimal", s.GasPrice)
	}
	markup, err = decimal.NewFromString(s.MarkupPercent)
	if err != nil || markup.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid settlement config: markup_percent %q must be a non-negative decimal", s.MarkupPercent)
	}
	return gasPrice, markup, nil
}
