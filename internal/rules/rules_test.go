package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/enums"
)

func baseConfig() config.RulesConfig {
	return config.RulesConfig{
		CommissionFixedFee:       "5",
		CoveragePercent:          "0.035",
		MinimumBonus:             "10",
		GracePeriodMinutes:       60,
		CaptureDelayMinutes:      30,
		CancellationFeePercent:   "0.10",
		FreeCancellationHours:    1,
		AcceptedTesterFeePercent: "0.20",
		TesterCompensation:       "5",
		MaxUGCRejections:         3,
		UGCPrices:                map[string]string{"PHOTO": "10.00", "TEXT_REVIEW": "0"},
		UGCCommissions:           map[string]string{"PHOTO": "2.00"},
	}
}

func TestNewStaticParsesConfig(t *testing.T) {
	provider, err := NewStatic(baseConfig())
	require.NoError(t, err)

	commission := provider.Commission(decimal.RequireFromString("169.98"))
	assert.True(t, commission.FixedFee.Equal(decimal.NewFromInt(5)))
	assert.True(t, commission.CoveragePercent.Equal(decimal.RequireFromString("0.035")))
	assert.Equal(t, time.Hour, provider.GracePeriod())
	assert.Equal(t, 30*time.Minute, provider.CaptureDelay())
	assert.Equal(t, 3, provider.MaxUGCRejections())
	assert.True(t, provider.MinimumBonus().Equal(decimal.NewFromInt(10)))
	assert.Equal(t, time.Hour, provider.CancellationPolicy().FreeWindow)

	photo, err := provider.UGCPricing(enums.UGCTypePhoto)
	require.NoError(t, err)
	assert.True(t, photo.IsPaid)
	assert.True(t, photo.Price.Equal(decimal.NewFromInt(10)))
	assert.True(t, photo.Commission.Equal(decimal.NewFromInt(2)))

	text, err := provider.UGCPricing(enums.UGCTypeTextReview)
	require.NoError(t, err)
	assert.False(t, text.IsPaid)

	video, err := provider.UGCPricing(enums.UGCTypeVideo)
	require.NoError(t, err)
	assert.False(t, video.IsPaid)

	_, err = provider.UGCPricing("HOLOGRAM")
	require.Error(t, err)
}

func TestCommissionTiers(t *testing.T) {
	cfg := baseConfig()
	cfg.CommissionTiers = map[string]string{"100": "7.50", "500": "12"}
	provider, err := NewStatic(cfg)
	require.NoError(t, err)

	cases := map[string]string{
		"50":     "5",
		"100":    "7.50",
		"499.99": "7.50",
		"800":    "12",
	}
	for base, want := range cases {
		got := provider.Commission(decimal.RequireFromString(base)).FixedFee
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "base %s: got %s want %s", base, got, want)
	}
}

func TestNewStaticRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.RulesConfig){
		"fee not a number":     func(c *config.RulesConfig) { c.CommissionFixedFee = "five" },
		"negative bonus":       func(c *config.RulesConfig) { c.MinimumBonus = "-1" },
		"percent above one":    func(c *config.RulesConfig) { c.CancellationFeePercent = "10" },
		"unknown ugc type":     func(c *config.RulesConfig) { c.UGCPrices = map[string]string{"HOLOGRAM": "1"} },
		"no rejection limit":   func(c *config.RulesConfig) { c.MaxUGCRejections = 0 },
		"negative grace":       func(c *config.RulesConfig) { c.GracePeriodMinutes = -5 },
		"bad tier":             func(c *config.RulesConfig) { c.CommissionTiers = map[string]string{"x": "1"} },
		"bad ugc commission":   func(c *config.RulesConfig) { c.UGCCommissions = map[string]string{"PHOTO": "??"} },
		"bad coverage percent": func(c *config.RulesConfig) { c.CoveragePercent = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mutate(&cfg)
			_, err := NewStatic(cfg)
			require.Error(t, err)
		})
	}
}
