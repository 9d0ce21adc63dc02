// Package rules serves the platform's business-rule parameters from configuration.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/enums"
)

// Commission is the platform fee applied on top of a tester's base cost.
type Commission struct {
	FixedFee        decimal.Decimal
	CoveragePercent decimal.Decimal
}

// UGCPricing describes what a content type costs the seller.
type UGCPricing struct {
	IsPaid     bool
	Price      decimal.Decimal
	Commission decimal.Decimal
}

// CancellationPolicy parameterizes the cancellation-impact quote.
type CancellationPolicy struct {
	FreeWindow               time.Duration
	NoTesterFeePercent       decimal.Decimal
	AcceptedTesterFeePercent decimal.Decimal
	CompensationPerTester    decimal.Decimal
}

// Provider is the read-only business rules lookup.
type Provider interface {
	Commission(baseCost decimal.Decimal) Commission
	GracePeriod() time.Duration
	CaptureDelay() time.Duration
	CancellationFeePercent() decimal.Decimal
	UGCPricing(t enums.UGCType) (UGCPricing, error)
	MaxUGCRejections() int
	MinimumBonus() decimal.Decimal
	CancellationPolicy() CancellationPolicy
}

type tier struct {
	threshold decimal.Decimal
	fee       decimal.Decimal
}

// Static is a Provider backed by values parsed once at startup.
type Static struct {
	fixedFee         decimal.Decimal
	tiers            []tier
	coverage         decimal.Decimal
	minimumBonus     decimal.Decimal
	gracePeriod      time.Duration
	captureDelay     time.Duration
	cancellationFee  decimal.Decimal
	maxUGCRejections int
	ugcPricing       map[enums.UGCType]UGCPricing
	policy           CancellationPolicy
}

// NewStatic parses the rules section of the configuration.
func NewStatic(cfg config.RulesConfig) (*Static, error) {
	fixedFee, err := parseAmount("commission fixed fee", cfg.CommissionFixedFee)
	if err != nil {
		return nil, err
	}
	coverage, err := parsePercent("coverage percent", cfg.CoveragePercent)
	if err != nil {
		return nil, err
	}
	minimumBonus, err := parseAmount("minimum bonus", cfg.MinimumBonus)
	if err != nil {
		return nil, err
	}
	cancellationFee, err := parsePercent("cancellation fee percent", cfg.CancellationFeePercent)
	if err != nil {
		return nil, err
	}
	acceptedFee, err := parsePercent("accepted tester fee percent", cfg.AcceptedTesterFeePercent)
	if err != nil {
		return nil, err
	}
	compensation, err := parseAmount("tester compensation", cfg.TesterCompensation)
	if err != nil {
		return nil, err
	}
	if cfg.GracePeriodMinutes < 0 || cfg.CaptureDelayMinutes < 0 || cfg.FreeCancellationHours < 0 {
		return nil, fmt.Errorf("rule durations must not be negative")
	}
	if cfg.MaxUGCRejections <= 0 {
		return nil, fmt.Errorf("max ugc rejections must be positive")
	}

	tiers := make([]tier, 0, len(cfg.CommissionTiers))
	for threshold, fee := range cfg.CommissionTiers {
		t, err := parseAmount("commission tier threshold", threshold)
		if err != nil {
			return nil, err
		}
		f, err := parseAmount("commission tier fee", fee)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier{threshold: t, fee: f})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].threshold.LessThan(tiers[j].threshold) })

	pricing := make(map[enums.UGCType]UGCPricing, len(cfg.UGCPrices))
	for rawType, rawPrice := range cfg.UGCPrices {
		ugcType, err := enums.ParseUGCType(strings.TrimSpace(rawType))
		if err != nil {
			return nil, err
		}
		price, err := parseAmount("ugc price", rawPrice)
		if err != nil {
			return nil, err
		}
		commission := decimal.Zero
		if rawCommission, ok := cfg.UGCCommissions[rawType]; ok {
			if commission, err = parseAmount("ugc commission", rawCommission); err != nil {
				return nil, err
			}
		}
		pricing[ugcType] = UGCPricing{
			IsPaid:     price.Sign() > 0,
			Price:      price,
			Commission: commission,
		}
	}

	return &Static{
		fixedFee:         fixedFee,
		tiers:            tiers,
		coverage:         coverage,
		minimumBonus:     minimumBonus,
		gracePeriod:      time.Duration(cfg.GracePeriodMinutes) * time.Minute,
		captureDelay:     time.Duration(cfg.CaptureDelayMinutes) * time.Minute,
		cancellationFee:  cancellationFee,
		maxUGCRejections: cfg.MaxUGCRejections,
		ugcPricing:       pricing,
		policy: CancellationPolicy{
			FreeWindow:               time.Duration(cfg.FreeCancellationHours) * time.Hour,
			NoTesterFeePercent:       cancellationFee,
			AcceptedTesterFeePercent: acceptedFee,
			CompensationPerTester:    compensation,
		},
	}, nil
}

// Commission returns the fee for the highest tier whose threshold the base cost reaches,
// falling back to the flat fixed fee.
func (s *Static) Commission(baseCost decimal.Decimal) Commission {
	fee := s.fixedFee
	for _, t := range s.tiers {
		if baseCost.GreaterThanOrEqual(t.threshold) {
			fee = t.fee
		}
	}
	return Commission{FixedFee: fee, CoveragePercent: s.coverage}
}

func (s *Static) GracePeriod() time.Duration { return s.gracePeriod }

func (s *Static) CaptureDelay() time.Duration { return s.captureDelay }

func (s *Static) CancellationFeePercent() decimal.Decimal { return s.cancellationFee }

func (s *Static) MaxUGCRejections() int { return s.maxUGCRejections }

func (s *Static) MinimumBonus() decimal.Decimal { return s.minimumBonus }

func (s *Static) CancellationPolicy() CancellationPolicy { return s.policy }

// UGCPricing returns the configured pricing. Types without a price entry are free.
func (s *Static) UGCPricing(t enums.UGCType) (UGCPricing, error) {
	if !t.IsValid() {
		return UGCPricing{}, fmt.Errorf("invalid ugc type %q", t)
	}
	pricing, ok := s.ugcPricing[t]
	if !ok {
		return UGCPricing{Price: decimal.Zero, Commission: decimal.Zero}, nil
	}
	return pricing, nil
}

func parseAmount(name, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", name)
	}
	return value, nil
}

func parsePercent(name, raw string) (decimal.Decimal, error) {
	value, err := parseAmount(name, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if value.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s must be a fraction between 0 and 1", name)
	}
	return value, nil
}
