// Package escrow computes campaign escrow amounts and the money splits used when funds leave escrow.
// Every function is pure; callers supply the business-rule parameters.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/internal/rules"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/money"
)

var one = decimal.NewFromInt(1)

// Offer is what a seller reimburses each tester.
type Offer struct {
	ProductCost  decimal.Decimal
	ShippingCost decimal.Decimal
	Bonus        decimal.Decimal
	Quantity     int
}

// Quote is the funding requirement for a campaign.
type Quote struct {
	BaseCost      decimal.Decimal
	Commission    rules.Commission
	PerTesterCost decimal.Decimal
	EscrowAmount  decimal.Decimal
}

// ValidateOffer rejects offers the calculator must never see.
func ValidateOffer(offer Offer, slots int, minimumBonus decimal.Decimal) error {
	switch {
	case slots <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "campaign must have at least one tester slot")
	case offer.Quantity <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "product quantity must be at least 1")
	case offer.ProductCost.IsNegative() || offer.ShippingCost.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "product and shipping costs must not be negative")
	case !money.IsPositive(offer.ProductCost):
		return pkgerrors.New(pkgerrors.CodeValidation, "expected product price is required")
	case offer.Bonus.LessThan(minimumBonus):
		return pkgerrors.New(pkgerrors.CodeValidation, "bonus is below the platform minimum").
			WithDetails(map[string]any{"minimum_bonus": minimumBonus.StringFixed(2)})
	}
	return nil
}

// BaseCost is (product + shipping + bonus) × quantity.
func BaseCost(offer Offer) decimal.Decimal {
	return offer.ProductCost.
		Add(offer.ShippingCost).
		Add(offer.Bonus).
		Mul(decimal.NewFromInt(int64(offer.Quantity)))
}

// PerTesterCost adds the fixed commission to the base cost and grosses it up by the processor coverage.
func PerTesterCost(baseCost decimal.Decimal, commission rules.Commission) decimal.Decimal {
	return money.Round2(baseCost.Add(commission.FixedFee).Mul(one.Add(commission.CoveragePercent)))
}

// EscrowAmount is the per-tester cost for every slot.
func EscrowAmount(perTesterCost decimal.Decimal, slots int) decimal.Decimal {
	return money.Round2(perTesterCost.Mul(decimal.NewFromInt(int64(slots))))
}

// QuoteCampaign prices a campaign. The offer must already be validated.
func QuoteCampaign(offer Offer, slots int, provider rules.Provider) Quote {
	base := BaseCost(offer)
	commission := provider.Commission(base)
	perTester := PerTesterCost(base, commission)
	return Quote{
		BaseCost:      base,
		Commission:    commission,
		PerTesterCost: perTester,
		EscrowAmount:  EscrowAmount(perTester, slots),
	}
}

// RemainingEscrow is what is still held once completed sessions are set aside. It may be negative.
func RemainingEscrow(escrowAmount, perTesterCost decimal.Decimal, completedSessions int) decimal.Decimal {
	return escrowAmount.Sub(perTesterCost.Mul(decimal.NewFromInt(int64(completedSessions))))
}

// SplitCancellationFee retains round2(remaining × feePercent) and refunds the rest.
func SplitCancellationFee(remaining, feePercent decimal.Decimal) (refund, fee decimal.Decimal) {
	fee = money.Round2(remaining.Mul(feePercent))
	return remaining.Sub(fee), fee
}

// Impact is the quote for cancelling a running campaign.
type Impact struct {
	RefundToSeller        decimal.Decimal
	CancellationFee       decimal.Decimal
	CompensationPerTester decimal.Decimal
	TotalCompensation     decimal.Decimal
}

// CancellationImpact quotes a seller-initiated cancellation from how long the campaign has run
// and how many testers already accepted.
func CancellationImpact(policy rules.CancellationPolicy, elapsed time.Duration, acceptedTesters int, totalEscrow decimal.Decimal) Impact {
	if acceptedTesters <= 0 {
		if elapsed < policy.FreeWindow {
			return Impact{
				RefundToSeller:        totalEscrow,
				CancellationFee:       decimal.Zero,
				CompensationPerTester: decimal.Zero,
				TotalCompensation:     decimal.Zero,
			}
		}
		refund, fee := SplitCancellationFee(totalEscrow, policy.NoTesterFeePercent)
		return Impact{
			RefundToSeller:        refund,
			CancellationFee:       fee,
			CompensationPerTester: decimal.Zero,
			TotalCompensation:     decimal.Zero,
		}
	}

	fee := money.Round2(totalEscrow.Mul(policy.AcceptedTesterFeePercent))
	perTester := policy.CompensationPerTester
	total := money.Round2(perTester.Mul(decimal.NewFromInt(int64(acceptedTesters))))
	refund := money.Max(decimal.Zero, totalEscrow.Sub(fee).Sub(total))
	return Impact{
		RefundToSeller:        refund,
		CancellationFee:       fee,
		CompensationPerTester: perTester,
		TotalCompensation:     total,
	}
}

// TesterReward reimburses what the tester actually paid plus the campaign bonus.
func TesterReward(productPrice, shippingCost, bonus decimal.Decimal) decimal.Decimal {
	return money.Round2(productPrice.Add(shippingCost).Add(bonus))
}

// PartialSplit divides a paid content hold when an admin awards part of the price.
type PartialSplit struct {
	TesterAmount   decimal.Decimal
	CommissionKept decimal.Decimal
	SellerRefund   decimal.Decimal
}

// SplitPartialPayment keeps commission in proportion to the paid fraction and refunds the rest to the seller.
func SplitPartialPayment(price, commission, partial decimal.Decimal) (PartialSplit, error) {
	if !money.IsPositive(partial) {
		return PartialSplit{}, pkgerrors.New(pkgerrors.CodeValidation, "partial amount must be positive")
	}
	if partial.GreaterThan(price) {
		return PartialSplit{}, pkgerrors.New(pkgerrors.CodeValidation, "partial amount cannot exceed the requested price")
	}
	kept := commission
	if !partial.Equal(price) {
		kept = money.Round2(commission.Mul(partial).Div(price))
	}
	return PartialSplit{
		TesterAmount:   partial,
		CommissionKept: kept,
		SellerRefund:   price.Add(commission).Sub(partial).Sub(kept),
	}, nil
}
