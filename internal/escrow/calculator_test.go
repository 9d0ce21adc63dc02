package escrow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialhub/trialhub-backend/internal/rules"
	"github.com/trialhub/trialhub-backend/pkg/config"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s got %s", want, got)
}

func testRules(t *testing.T) *rules.Static {
	t.Helper()
	provider, err := rules.NewStatic(config.RulesConfig{
		CommissionFixedFee:       "5",
		CoveragePercent:          "0.035",
		MinimumBonus:             "0",
		GracePeriodMinutes:       60,
		CaptureDelayMinutes:      60,
		CancellationFeePercent:   "0.10",
		FreeCancellationHours:    1,
		AcceptedTesterFeePercent: "0.20",
		TesterCompensation:       "5",
		MaxUGCRejections:         3,
	})
	require.NoError(t, err)
	return provider
}

func TestQuoteCampaign(t *testing.T) {
	offer := Offer{
		ProductCost:  d("149.99"),
		ShippingCost: d("4.99"),
		Bonus:        d("15"),
		Quantity:     1,
	}
	quote := QuoteCampaign(offer, 5, testRules(t))

	assertDec(t, "169.98", quote.BaseCost)
	assertDec(t, "5", quote.Commission.FixedFee)
	// (169.98 + 5) × 1.035 = 181.1043
	assertDec(t, "181.10", quote.PerTesterCost)
	assertDec(t, "905.50", quote.EscrowAmount)
}

func TestBaseCostMultipliesQuantity(t *testing.T) {
	offer := Offer{ProductCost: d("20"), ShippingCost: d("3.50"), Bonus: d("1.50"), Quantity: 3}
	assertDec(t, "75", BaseCost(offer))
}

func TestCancellationOutsideGraceSplit(t *testing.T) {
	remaining := RemainingEscrow(d("913.30"), d("182.66"), 1)
	assertDec(t, "730.64", remaining)

	refund, fee := SplitCancellationFee(remaining, d("0.10"))
	assertDec(t, "73.06", fee)
	assertDec(t, "657.58", refund)
	assertDec(t, "730.64", refund.Add(fee))
}

func TestRemainingEscrowCanGoNegative(t *testing.T) {
	remaining := RemainingEscrow(d("100"), d("60"), 2)
	assert.True(t, remaining.IsNegative())
}

func TestCancellationImpact(t *testing.T) {
	policy := testRules(t).CancellationPolicy()
	total := d("500")

	cases := []struct {
		name      string
		elapsed   time.Duration
		accepted  int
		refund    string
		fee       string
		perTester string
		totalComp string
	}{
		{name: "free window", elapsed: 30 * time.Minute, refund: "500", fee: "0", perTester: "0", totalComp: "0"},
		{name: "after free window", elapsed: 3 * time.Hour, refund: "450", fee: "50", perTester: "0", totalComp: "0"},
		{name: "accepted testers", elapsed: 10 * time.Minute, accepted: 2, refund: "390", fee: "100", perTester: "5", totalComp: "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			impact := CancellationImpact(policy, tc.elapsed, tc.accepted, total)
			assertDec(t, tc.refund, impact.RefundToSeller)
			assertDec(t, tc.fee, impact.CancellationFee)
			assertDec(t, tc.perTester, impact.CompensationPerTester)
			assertDec(t, tc.totalComp, impact.TotalCompensation)
		})
	}
}

func TestCancellationImpactNeverRefundsNegative(t *testing.T) {
	policy := rules.CancellationPolicy{
		AcceptedTesterFeePercent: d("0.5"),
		CompensationPerTester:    d("100"),
	}
	impact := CancellationImpact(policy, time.Hour, 3, d("200"))
	assert.True(t, impact.RefundToSeller.IsZero())
}

func TestTesterReward(t *testing.T) {
	assertDec(t, "164.98", TesterReward(d("139.99"), d("9.99"), d("15")))
}

func TestSplitPartialPayment(t *testing.T) {
	split, err := SplitPartialPayment(d("10"), d("2"), d("5"))
	require.NoError(t, err)
	assertDec(t, "5", split.TesterAmount)
	assertDec(t, "1", split.CommissionKept)
	assertDec(t, "6", split.SellerRefund)

	split, err = SplitPartialPayment(d("10"), d("2"), d("3.33"))
	require.NoError(t, err)
	assertDec(t, "0.67", split.CommissionKept)
	assertDec(t, "8", split.SellerRefund)

	full, err := SplitPartialPayment(d("10"), d("2"), d("10"))
	require.NoError(t, err)
	assertDec(t, "10", full.TesterAmount)
	assertDec(t, "2", full.CommissionKept)
	assert.True(t, full.SellerRefund.IsZero())
}

func TestSplitPartialPaymentValidation(t *testing.T) {
	for _, partial := range []string{"0", "-1", "10.01"} {
		_, err := SplitPartialPayment(d("10"), d("2"), d(partial))
		require.Error(t, err, "partial %s", partial)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	}
}

func TestValidateOffer(t *testing.T) {
	valid := Offer{ProductCost: d("20"), ShippingCost: d("2"), Bonus: d("10"), Quantity: 1}
	require.NoError(t, ValidateOffer(valid, 3, d("5")))

	cases := map[string]struct {
		offer Offer
		slots int
	}{
		"no slots":      {offer: valid, slots: 0},
		"zero quantity": {offer: Offer{ProductCost: d("20"), Bonus: d("10")}, slots: 1},
		"missing price": {offer: Offer{Bonus: d("10"), Quantity: 1}, slots: 1},
		"negative ship": {offer: Offer{ProductCost: d("20"), ShippingCost: d("-1"), Bonus: d("10"), Quantity: 1}, slots: 1},
		"bonus too low": {offer: Offer{ProductCost: d("20"), Bonus: d("1"), Quantity: 1}, slots: 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateOffer(tc.offer, tc.slots, d("5"))
			require.Error(t, err)
		})
	}
}
