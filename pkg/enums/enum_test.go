package enums

import (
	"os"
	"regexp"
	"slices"
	"strings"
	"testing"
)

func strs[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

var createTypeRe = regexp.MustCompile(`(?s)CREATE TYPE (\w+) AS ENUM \((.*?)\);`)

func sqlEnums(t *testing.T) map[string][]string {
	t.Helper()
	raw, err := os.ReadFile("../migrate/migrations/20260301090000_create_enums.sql")
	if err != nil {
		t.Fatalf("read enum migration: %v", err)
	}
	out := map[string][]string{}
	for _, m := range createTypeRe.FindAllStringSubmatch(string(raw), -1) {
		var values []string
		for _, part := range strings.Split(m[2], ",") {
			values = append(values, strings.Trim(strings.TrimSpace(part), "'"))
		}
		out[m[1]] = values
	}
	return out
}

func TestEnumsMatchMigrations(t *testing.T) {
	sql := sqlEnums(t)
	cases := map[string][]string{
		"campaign_status_enum":         strs(validCampaignStatuses),
		"session_status_enum":          strs(validSessionStatuses),
		"ugc_type_enum":                strs(validUGCTypes),
		"ugc_status_enum":              strs(validUGCStatuses),
		"dispute_resolution_enum":      strs(validDisputeResolutions),
		"transaction_status_enum":      strs(validTransactionStatuses),
		"transaction_type_enum":        strs(validTransactionTypes),
		"aggregate_type_enum":          strs(validAggregateTypes),
		"event_type_enum":              strs(validOutboxEventTypes),
		"outbox_dlq_error_reason_enum": strs(validOutboxDLQErrorReasons),
	}
	for typ, goValues := range cases {
		dbValues, ok := sql[typ]
		if !ok {
			t.Fatalf("%s missing from migration", typ)
		}
		if !slices.Equal(goValues, dbValues) {
			t.Fatalf("%s drifted: go=%v sql=%v", typ, goValues, dbValues)
		}
	}
}

func TestParseTrimsAndRejects(t *testing.T) {
	got, err := ParseCampaignStatus(" ACTIVE ")
	if err != nil || got != CampaignStatusActive {
		t.Fatalf("expected ACTIVE, got %q %v", got, err)
	}
	if _, err := ParseCampaignStatus("active"); err == nil {
		t.Fatal("enum parsing is case-sensitive")
	}
	if _, err := ParseUGCType("AUDIO"); err == nil || !strings.Contains(err.Error(), "invalid ugc type") {
		t.Fatalf("expected descriptive error, got %v", err)
	}
}

func TestWalletSign(t *testing.T) {
	credits := []TransactionType{TransactionTestReward, TransactionTesterCompensation, TransactionTesterCancellationRefund, TransactionUGCReward}
	for _, typ := range validTransactionTypes {
		want := 0
		switch {
		case slices.Contains(credits, typ):
			want = 1
		case typ == TransactionTransferReversal:
			want = -1
		}
		if got := typ.WalletSign(); got != want {
			t.Fatalf("%s: WalletSign = %d, want %d", typ, got, want)
		}
	}
}
