// Package settlement quotes sponsor fees, forwards pre-signed transactions
// for broadcast and hands them to the lifecycle monitor.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/shopspring/decimal"

	"github.com/vietddude/conductor/internal/core/apperror"
	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/core/retry"
	"github.com/vietddude/conductor/internal/metrics"
)

// RateSource converts between assets.
type RateSource interface {
	GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Broadcaster submits a signed transaction to a chain.
type Broadcaster interface {
	Broadcast(ctx context.Context, chain domain.ChainID, raw []byte) (string, error)
}

// Recorder stores sponsored transactions for lifecycle tracking.
type Recorder interface {
	ValidateDraft(tx *domain.Transaction) error
	Record(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
	FindBySourceRef(ctx context.Context, sourceRef string) (*domain.Transaction, bool, error)
}

// HealthProbe is one named collaborator liveness check.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Config controls fee quoting and sponsorship.
type Config struct {
	GasAsset        string
	SettlementAsset string
	// GasPrice is the price of one gas unit in the gas asset.
	GasPrice decimal.Decimal
	// MarkupPercent is added on top of the converted fee, e.g. 10 for 10%.
	MarkupPercent      decimal.Decimal
	SettlementDecimals int32
	QuoteTTL           time.Duration
	RateTimeout        time.Duration
	BroadcastTimeout   time.Duration
	ProbeTimeout       time.Duration
	Retry              retry.Options
}

func (c Config) withDefaults() Config {
	if c.GasAsset == "" {
		c.GasAsset = "STX"
	}
	if c.SettlementAsset == "" {
		c.SettlementAsset = "USDCx"
	}
	if !c.GasPrice.IsPositive() {
		c.GasPrice = decimal.New(1, -6)
	}
	if c.MarkupPercent.IsNegative() {
		c.MarkupPercent = decimal.Zero
	}
	if c.SettlementDecimals <= 0 {
		c.SettlementDecimals = 6
	}
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 5 * time.Minute
	}
	if c.RateTimeout <= 0 {
		c.RateTimeout = 10 * time.Second
	}
	if c.BroadcastTimeout <= 0 {
		c.BroadcastTimeout = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	return c
}

// SignedTransaction is a transaction signed by the participant but not yet
// broadcast.
type SignedTransaction struct {
	Raw                    []byte         `json:"raw"`
	GasUnits               uint64         `json:"gas_units"`
	Kind                   domain.Kind    `json:"kind"`
	Payload                domain.Payload `json:"-"`
	DestinationParticipant string         `json:"destination_participant,omitempty"`
}

// SponsorResult identifies the recorded transaction.
type SponsorResult struct {
	TransactionID string        `json:"transaction_id"`
	Status        domain.Status `json:"status"`
}

// HealthReport aggregates collaborator probes.
type HealthReport struct {
	Healthy   bool            `json:"healthy"`
	Services  map[string]bool `json:"services"`
	Issues    []string        `json:"issues"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Coordinator is the gasless settlement entry point.
type Coordinator struct {
	cfg         Config
	rates       RateSource
	broadcaster Broadcaster
	recorder    Recorder
	probes      []HealthProbe
	exec        *retry.Executor
	logger      *slog.Logger
	now         func() time.Time

	// quotes holds the latest estimate per gas amount.
	quotes    *ttlcache.Cache[uint64, domain.FeeEstimate]
	sponsorMu sync.Mutex
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	cfg Config,
	rates RateSource,
	broadcaster Broadcaster,
	recorder Recorder,
	probes []HealthProbe,
	exec *retry.Executor,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = retry.NewExecutor(logger)
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:         cfg,
		rates:       rates,
		broadcaster: broadcaster,
		recorder:    recorder,
		probes:      probes,
		exec:        exec,
		logger:      logger.With("component", "settlement"),
		now:         time.Now,
		// Entries outlive their validity so an expired quote is reported as
		// expired rather than missing.
		quotes: ttlcache.New[uint64, domain.FeeEstimate](
			ttlcache.WithTTL[uint64, domain.FeeEstimate](2*cfg.QuoteTTL),
			ttlcache.WithDisableTouchOnHit[uint64, domain.FeeEstimate](),
		),
	}
}

// EstimateFee quotes the sponsor fee for gasUnits in the settlement asset.
func (c *Coordinator) EstimateFee(ctx context.Context, gasUnits uint64) (*domain.FeeEstimate, error) {
	if gasUnits == 0 {
		return nil, apperror.Validation("gas units must be positive")
	}

	opts := c.cfg.Retry
	opts.Label = "settlement.rate"
	rate, _, err := retry.Do(ctx, c.exec, opts, func(ctx context.Context) (decimal.Decimal, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RateTimeout)
		defer cancel()
		return c.rates.GetRate(ctx, c.cfg.GasAsset, c.cfg.SettlementAsset)
	})
	if err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, apperror.New(apperror.KindNetwork, "The exchange rate service returned an unusable rate", map[string]any{
			"rate": rate.String(),
		})
	}

	units := decimal.NewFromBigInt(new(big.Int).SetUint64(gasUnits), 0)
	feeInGas := units.Mul(c.cfg.GasPrice)
	multiplier := decimal.NewFromInt(1).Add(c.cfg.MarkupPercent.Div(decimal.NewFromInt(100)))
	feeInSettlement := feeInGas.Mul(rate).Mul(multiplier).Round(c.cfg.SettlementDecimals)

	now := c.now().UTC()
	est := domain.FeeEstimate{
		GasUnits:             gasUnits,
		FeeInGasAsset:        feeInGas,
		FeeInSettlementAsset: feeInSettlement,
		RatesUsed: domain.RatesUsed{
			GasAsset:        c.cfg.GasAsset,
			SettlementAsset: c.cfg.SettlementAsset,
			Rate:            rate,
		},
		Markup:      c.cfg.MarkupPercent,
		EstimatedAt: now,
		ValidUntil:  now.Add(c.cfg.QuoteTTL),
	}
	c.quotes.DeleteExpired()
	c.quotes.Set(gasUnits, est, ttlcache.DefaultTTL)
	metrics.FeeEstimatesTotal.Inc()

	c.logger.Debug("Fee quoted",
		"gas_units", gasUnits,
		"fee", feeInSettlement.String(),
		"asset", c.cfg.SettlementAsset,
		"valid_until", est.ValidUntil,
	)
	return &est, nil
}

// Sponsor checks claimedFee against the latest quote for the declared gas,
// broadcasts the transaction and records it. The returned status is the
// recorded one; confirmation is tracked by the lifecycle monitor.
func (c *Coordinator) Sponsor(ctx context.Context, signed SignedTransaction, participant string, claimedFee decimal.Decimal) (SponsorResult, error) {
	if err := c.checkQuote(signed, participant, claimedFee); err != nil {
		metrics.SponsorRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return SponsorResult{}, err
	}

	fee := claimedFee
	draft := &domain.Transaction{
		Kind:    signed.Kind,
		Payload: signed.Payload,
		Participants: domain.Participants{
			Source:      participant,
			Destination: signed.DestinationParticipant,
		},
		IsSponsored: true,
		SponsorFee:  &fee,
	}
	if err := c.recorder.ValidateDraft(draft); err != nil {
		metrics.SponsorRejectedTotal.WithLabelValues("invalid_transaction").Inc()
		return SponsorResult{}, err
	}

	chain := signed.Payload.Chain()
	opts := c.cfg.Retry
	opts.Label = "settlement.broadcast"
	ref, _, err := retry.Do(ctx, c.exec, opts, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.BroadcastTimeout)
		defer cancel()
		return c.broadcaster.Broadcast(ctx, chain, signed.Raw)
	})
	if err != nil {
		return SponsorResult{}, err
	}

	c.sponsorMu.Lock()
	defer c.sponsorMu.Unlock()

	existing, found, err := c.recorder.FindBySourceRef(ctx, ref)
	if err != nil {
		return SponsorResult{}, apperror.Classify(err, map[string]any{"source_ref": ref})
	}
	if found {
		c.logger.Info("Sponsored transaction already recorded", "id", existing.ID, "source_ref", ref)
		return SponsorResult{TransactionID: existing.ID, Status: existing.Status}, nil
	}

	draft.SourceRef = ref
	tx, err := c.recorder.Record(ctx, draft)
	if err != nil {
		return SponsorResult{}, err
	}
	metrics.SponsoredTotal.Inc()
	c.logger.Info("Sponsored transaction accepted",
		"id", tx.ID,
		"kind", tx.Kind,
		"chain", chain,
		"source_ref", ref,
		"fee", fee.String(),
	)
	return SponsorResult{TransactionID: tx.ID, Status: tx.Status}, nil
}

func (c *Coordinator) checkQuote(signed SignedTransaction, participant string, claimedFee decimal.Decimal) error {
	switch {
	case len(signed.Raw) == 0:
		return apperror.Validation("signed transaction is required")
	case participant == "":
		return apperror.Validation("participant is required")
	case signed.Payload == nil:
		return apperror.Validation("payload is required")
	case !claimedFee.IsPositive():
		return apperror.Validation("claimed fee must be positive")
	case signed.GasUnits == 0:
		return apperror.Validation("gas units must be positive")
	}

	item := c.quotes.Get(signed.GasUnits)
	if item == nil {
		return apperror.New(apperror.KindValidation, "No fee quote exists for the declared gas", map[string]any{
			"gas_units": signed.GasUnits,
			"reason":    "no_quote",
		})
	}
	quote := item.Value()
	if quote.Expired(c.now()) {
		return apperror.New(apperror.KindValidation, "The fee quote has expired, request a new estimate", map[string]any{
			"gas_units":   signed.GasUnits,
			"valid_until": quote.ValidUntil,
			"reason":      "quote_expired",
		})
	}
	if claimedFee.GreaterThan(quote.FeeInSettlementAsset) {
		return apperror.New(apperror.KindValidation, "The claimed fee exceeds the quoted fee", map[string]any{
			"claimed": claimedFee.String(),
			"quoted":  quote.FeeInSettlementAsset.String(),
			"reason":  "fee_exceeds_quote",
		})
	}
	return nil
}

func rejectReason(err error) string {
	var ue *apperror.UnifiedError
	if errors.As(err, &ue) {
		if r, ok := ue.Details["reason"].(string); ok {
			return r
		}
	}
	return "invalid_request"
}

// SystemHealth probes every collaborator concurrently.
func (c *Coordinator) SystemHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:  true,
		Services: make(map[string]bool, len(c.probes)),
		Issues:   []string{},
	}

	type outcome struct {
		name string
		err  error
	}
	results := make([]outcome, len(c.probes))
	var wg sync.WaitGroup
	for i, p := range c.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			defer cancel()
			results[i] = outcome{name: p.Name(), err: p.Check(pctx)}
		}()
	}
	wg.Wait()

	for _, r := range results {
		ok := r.err == nil
		report.Services[r.name] = ok
		metrics.ServiceUp.WithLabelValues(r.name).Set(metrics.Bool(ok))
		if ok {
			continue
		}
		report.Healthy = false
		ue := apperror.Classify(r.err, map[string]any{"service": r.name})
		report.Issues = append(report.Issues, fmt.Sprintf("%s: %s", r.name, ue.Message))
		c.logger.Warn("Service probe failed", "service", r.name, "kind", ue.Kind, "code", ue.Code)
	}
	report.CheckedAt = c.now().UTC()
	return report
}
