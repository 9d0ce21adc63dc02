package ugc

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/campaigns"
	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/internal/gateway/gatewaytest"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/internal/payouts"
	"github.com/trialhub/trialhub-backend/internal/rules"
	"github.com/trialhub/trialhub-backend/internal/sessions"
	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/db"
	"github.com/trialhub/trialhub-backend/pkg/db/dbtest"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	svc       *Service
	conn      *gorm.DB
	gw        *gatewaytest.Fake
	ledger    ledger.Service
	sellerID  uuid.UUID
	testerID  uuid.UUID
	sessionID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	provider, err := rules.NewStatic(config.RulesConfig{
		CommissionFixedFee:       "5",
		CoveragePercent:          "0.035",
		MinimumBonus:             "0",
		GracePeriodMinutes:       60,
		CaptureDelayMinutes:      30,
		CancellationFeePercent:   "0.10",
		AcceptedTesterFeePercent: "0.20",
		TesterCompensation:       "5",
		MaxUGCRejections:         3,
		UGCPrices:                map[string]string{"TEXT_REVIEW": "0", "PHOTO": "10.00", "VIDEO": "25.00"},
		UGCCommissions:           map[string]string{"PHOTO": "2.00", "VIDEO": "5.00"},
	})
	require.NoError(t, err)

	gw := gatewaytest.NewFake()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	payoutSvc, err := payouts.NewService(payouts.NewRepository(conn), gw)
	require.NoError(t, err)
	runner := db.Wrap(conn)
	emitter, err := activity.NewEmitter(activity.Params{
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
		TransactionRunner: runner,
	})
	require.NoError(t, err)

	svc, err := NewService(Params{
		Repo:              NewRepository(conn),
		Sessions:          sessions.NewRepository(conn),
		Campaigns:         campaigns.NewRepository(conn),
		Ledger:            ledgerSvc,
		Gateway:           gw,
		Payouts:           payoutSvc,
		Rules:             provider,
		Activity:          emitter,
		TransactionRunner: runner,
	})
	require.NoError(t, err)

	f := &fixture{
		svc:      svc,
		conn:     conn,
		gw:       gw,
		ledger:   ledgerSvc,
		sellerID: uuid.New(),
		testerID: uuid.New(),
	}
	campaign := &models.Campaign{
		ID:         uuid.New(),
		SellerID:   f.sellerID,
		Title:      "Espresso grinder",
		Status:     enums.CampaignStatusActive,
		TotalSlots: 1,
		Offer:      models.CampaignOffer{ExpectedPrice: dec("149.99"), Quantity: 1},
	}
	require.NoError(t, conn.Create(campaign).Error)
	session := &models.TestSession{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		TesterID:   f.testerID,
		Status:     enums.SessionStatusCompleted,
	}
	require.NoError(t, conn.Create(session).Error)
	f.sessionID = session.ID

	require.NoError(t, conn.Create(&models.PayoutAccount{
		ID:         uuid.New(),
		UserID:     f.testerID,
		AccountRef: "acct_tester",
	}).Error)
	gw.Accounts["acct_tester"] = gateway.AccountStatus{PayoutEligible: true, ChargesEnabled: true, DetailsSubmitted: true}
	return f
}

func (f *fixture) request(t *testing.T, ugcType enums.UGCType) *models.UGC {
	t.Helper()
	request, err := f.svc.Request(context.Background(), RequestInput{
		SessionID:        f.sessionID,
		SellerID:         f.sellerID,
		Type:             ugcType,
		Description:      "show the grinder in use",
		CustomerRef:      "cus_1",
		PaymentMethodRef: "pm_card",
	})
	require.NoError(t, err)
	return request
}

func (f *fixture) submit(t *testing.T, id uuid.UUID) {
	t.Helper()
	mediaID := uuid.New()
	_, err := f.svc.Submit(context.Background(), SubmitInput{UGCID: id, TesterID: f.testerID, MediaID: &mediaID})
	require.NoError(t, err)
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.UGC {
	t.Helper()
	var request models.UGC
	require.NoError(t, f.conn.Where("id = ?", id).First(&request).Error)
	return &request
}

func (f *fixture) platform(t *testing.T) *models.PlatformWallet {
	t.Helper()
	wallet, err := f.ledger.PlatformWallet(context.Background())
	require.NoError(t, err)
	return wallet
}

func (f *fixture) rowsByType(t *testing.T, ugcID uuid.UUID) map[enums.TransactionType]models.Transaction {
	t.Helper()
	var rows []models.Transaction
	require.NoError(t, f.conn.Where("ugc_id = ?", ugcID).Find(&rows).Error)
	out := make(map[enums.TransactionType]models.Transaction, len(rows))
	for _, row := range rows {
		out[row.Type] = row
	}
	return out
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code())
}

func TestRequestPaidContentAuthorizesHold(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)

	assert.True(t, request.IsPaid)
	require.NotNil(t, request.HoldRef)
	authorizations := f.gw.Calls("authorize")
	require.Len(t, authorizations, 1)
	assert.Equal(t, "12.00", authorizations[0].Amount.StringFixed(2))

	rows := f.rowsByType(t, request.ID)
	require.Contains(t, rows, enums.TransactionUGCPayment)
	assert.Equal(t, enums.TransactionStatusPending, rows[enums.TransactionUGCPayment].Status)
	assert.True(t, f.platform(t).EscrowBalance.IsZero())
}

func TestRequestFreeContentSkipsGateway(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypeTextReview)

	assert.False(t, request.IsPaid)
	assert.Nil(t, request.HoldRef)
	assert.Empty(t, f.gw.Calls(""))
	assert.Empty(t, f.rowsByType(t, request.ID))
}

func TestRequestDeclinedCardStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.gw.AuthorizeErr = pkgerrors.New(pkgerrors.CodePaymentDeclined, "card was declined")

	_, err := f.svc.Request(context.Background(), RequestInput{
		SessionID:        f.sessionID,
		SellerID:         f.sellerID,
		Type:             enums.UGCTypePhoto,
		PaymentMethodRef: "pm_declined",
	})
	requireCode(t, err, pkgerrors.CodePaymentDeclined)

	var count int64
	require.NoError(t, f.conn.Model(&models.UGC{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRequestRequiresSellerOwnership(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Request(context.Background(), RequestInput{
		SessionID: f.sessionID,
		SellerID:  uuid.New(),
		Type:      enums.UGCTypeTextReview,
	})
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestSubmitRequiresContentForType(t *testing.T) {
	f := newFixture(t)
	photo := f.request(t, enums.UGCTypePhoto)
	text := f.request(t, enums.UGCTypeTextReview)

	_, err := f.svc.Submit(context.Background(), SubmitInput{UGCID: photo.ID, TesterID: f.testerID, ContentURL: "https://example.com/p"})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.svc.Submit(context.Background(), SubmitInput{UGCID: text.ID, TesterID: f.testerID})
	requireCode(t, err, pkgerrors.CodeValidation)

	submitted, err := f.svc.Submit(context.Background(), SubmitInput{UGCID: text.ID, TesterID: f.testerID, ContentURL: "https://example.com/review"})
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusSubmitted, submitted.Status)

	_, err = f.svc.Submit(context.Background(), SubmitInput{UGCID: photo.ID, TesterID: uuid.New(), MediaID: &photo.ID})
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestValidatePaidContentPaysTester(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)
	f.submit(t, request.ID)

	validated, err := f.svc.Validate(context.Background(), request.ID, f.sellerID)
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusValidated, validated.Status)

	assert.Len(t, f.gw.Calls("capture"), 1)
	transfers := f.gw.Calls("transfer")
	require.Len(t, transfers, 1)
	assert.Equal(t, "10.00", transfers[0].Amount.StringFixed(2))

	stored := f.reload(t, request.ID)
	require.True(t, stored.PaidBonus.Valid)
	assert.Equal(t, "10.00", stored.PaidBonus.Decimal.StringFixed(2))
	require.NotNil(t, stored.HoldCapturedAt)

	wallet := f.platform(t)
	assert.True(t, wallet.EscrowBalance.IsZero())
	assert.Equal(t, "2.00", wallet.CommissionBalance.StringFixed(2))
	assert.Equal(t, "12.00", wallet.TotalReceived.StringFixed(2))

	rows := f.rowsByType(t, request.ID)
	assert.Equal(t, enums.TransactionStatusCompleted, rows[enums.TransactionUGCPayment].Status)
	assert.Contains(t, rows, enums.TransactionUGCReward)
	assert.Contains(t, rows, enums.TransactionUGCCommission)

	tester, err := f.ledger.Wallet(context.Background(), f.testerID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", tester.Balance.StringFixed(2))
}

func TestValidateRetriesTransferWithoutRecapturing(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)
	f.submit(t, request.ID)

	f.gw.TransferErr = pkgerrors.New(pkgerrors.CodeDependency, "payment processor unavailable")
	_, err := f.svc.Validate(context.Background(), request.ID, f.sellerID)
	requireCode(t, err, pkgerrors.CodeDependency)

	stored := f.reload(t, request.ID)
	assert.Equal(t, enums.UGCStatusSubmitted, stored.Status)
	require.NotNil(t, stored.HoldCapturedAt, "capture committed before the transfer")
	assert.Equal(t, "12.00", f.platform(t).EscrowBalance.StringFixed(2))
	assert.NotContains(t, f.rowsByType(t, request.ID), enums.TransactionUGCReward)

	f.gw.TransferErr = nil
	_, err = f.svc.Validate(context.Background(), request.ID, f.sellerID)
	require.NoError(t, err)
	assert.Len(t, f.gw.Calls("capture"), 1)
	assert.True(t, f.platform(t).EscrowBalance.IsZero())
}

func TestValidateFreeContent(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypeTextReview)
	_, err := f.svc.Submit(context.Background(), SubmitInput{UGCID: request.ID, TesterID: f.testerID, ContentURL: "https://example.com/review"})
	require.NoError(t, err)

	validated, err := f.svc.Validate(context.Background(), request.ID, f.sellerID)
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusValidated, validated.Status)
	assert.Empty(t, f.gw.Calls(""))
}

func TestRejectEscalatesAtThreshold(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)

	for attempt := 1; attempt <= 3; attempt++ {
		f.submit(t, request.ID)
		rejected, err := f.svc.Reject(context.Background(), request.ID, f.sellerID, "too blurry")
		require.NoError(t, err)
		assert.Equal(t, attempt, rejected.RejectionCount)
		if attempt < 3 {
			assert.Equal(t, enums.UGCStatusRejected, rejected.Status)
			continue
		}
		assert.Equal(t, enums.UGCStatusDisputed, rejected.Status)
	}

	var adminNotices int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND payload LIKE ?", enums.EventNotificationRequested, "%ugc_dispute_opened%").
		Count(&adminNotices).Error)
	assert.Equal(t, int64(1), adminNotices)
}

func TestDeclineReleasesHold(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)

	declined, err := f.svc.Decline(context.Background(), request.ID, f.testerID)
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusDeclined, declined.Status)
	assert.Len(t, f.gw.Calls("cancel_hold"), 1)
	assert.Equal(t, enums.TransactionStatusCancelled, f.rowsByType(t, request.ID)[enums.TransactionUGCPayment].Status)
}

func TestCancelOnlyWhileRequested(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)
	f.submit(t, request.ID)

	_, err := f.svc.Cancel(context.Background(), request.ID, f.sellerID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	other := f.request(t, enums.UGCTypePhoto)
	cancelled, err := f.svc.Cancel(context.Background(), other.ID, f.sellerID)
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusCancelled, cancelled.Status)
}

func TestDisputeRequiresParty(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)
	f.submit(t, request.ID)

	_, err := f.svc.Dispute(context.Background(), request.ID, activity.User(uuid.New(), enums.ActorRoleTester), "not fair")
	requireCode(t, err, pkgerrors.CodeForbidden)

	disputed, err := f.svc.Dispute(context.Background(), request.ID, activity.User(f.testerID, enums.ActorRoleTester), "seller ignores the brief")
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusDisputed, disputed.Status)
	stored := f.reload(t, request.ID)
	require.NotNil(t, stored.DisputedBy)
	assert.Equal(t, f.testerID, *stored.DisputedBy)
}

func (f *fixture) disputed(t *testing.T, ugcType enums.UGCType) *models.UGC {
	t.Helper()
	request := f.request(t, ugcType)
	f.submit(t, request.ID)
	_, err := f.svc.Dispute(context.Background(), request.ID, activity.User(f.sellerID, enums.ActorRoleSeller), "off brief")
	require.NoError(t, err)
	return request
}

func TestResolvePartialPaymentSplitsFunds(t *testing.T) {
	f := newFixture(t)
	request := f.disputed(t, enums.UGCTypeVideo)
	adminID := uuid.New()

	resolved, err := f.svc.Resolve(context.Background(), ResolveInput{
		UGCID:         request.ID,
		AdminID:       adminID,
		Resolution:    enums.DisputeResolutionPartialPayment,
		PartialAmount: dec("10"),
		Notes:         "half the shots are usable",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusValidated, resolved.Status)

	// 25 price + 5 commission held; 10 to tester, 2 commission kept, 18 back to the seller
	transfers := f.gw.Calls("transfer")
	require.Len(t, transfers, 1)
	assert.Equal(t, "10.00", transfers[0].Amount.StringFixed(2))
	refunds := f.gw.Calls("refund")
	require.Len(t, refunds, 1)
	assert.Equal(t, "18.00", refunds[0].Amount.StringFixed(2))

	rows := f.rowsByType(t, request.ID)
	assert.Equal(t, "2.00", rows[enums.TransactionUGCCommission].Amount.StringFixed(2))
	assert.Equal(t, "18.00", rows[enums.TransactionUGCRefund].Amount.StringFixed(2))

	wallet := f.platform(t)
	assert.True(t, wallet.EscrowBalance.IsZero())
	assert.Equal(t, "2.00", wallet.CommissionBalance.StringFixed(2))

	stored := f.reload(t, request.ID)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, enums.DisputeResolutionPartialPayment, *stored.Resolution)
	require.NotNil(t, stored.ResolvedBy)
	assert.Equal(t, adminID, *stored.ResolvedBy)
}

func TestResolvePartialAtFullPriceMatchesPayTester(t *testing.T) {
	f := newFixture(t)
	request := f.disputed(t, enums.UGCTypeVideo)

	_, err := f.svc.Resolve(context.Background(), ResolveInput{
		UGCID:         request.ID,
		AdminID:       uuid.New(),
		Resolution:    enums.DisputeResolutionPartialPayment,
		PartialAmount: dec("30"),
	})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.svc.Resolve(context.Background(), ResolveInput{
		UGCID:         request.ID,
		AdminID:       uuid.New(),
		Resolution:    enums.DisputeResolutionPartialPayment,
		PartialAmount: dec("25"),
	})
	require.NoError(t, err)

	assert.Empty(t, f.gw.Calls("refund"))
	transfers := f.gw.Calls("transfer")
	require.Len(t, transfers, 1)
	assert.Equal(t, "25.00", transfers[0].Amount.StringFixed(2))
	rows := f.rowsByType(t, request.ID)
	assert.Equal(t, "5.00", rows[enums.TransactionUGCCommission].Amount.StringFixed(2))
	assert.NotContains(t, rows, enums.TransactionUGCRefund)
}

func TestResolveRejectReleasesHold(t *testing.T) {
	f := newFixture(t)
	request := f.disputed(t, enums.UGCTypePhoto)

	resolved, err := f.svc.Resolve(context.Background(), ResolveInput{
		UGCID:      request.ID,
		AdminID:    uuid.New(),
		Resolution: enums.DisputeResolutionRejectUGC,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.UGCStatusDeclined, resolved.Status)
	assert.Len(t, f.gw.Calls("cancel_hold"), 1)
	assert.Empty(t, f.gw.Calls("transfer"))
	assert.True(t, f.platform(t).EscrowBalance.IsZero())
}

func TestHoldCanceledWebhookCancelsOpenRequest(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)

	var matched bool
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		matched, err = f.svc.ApplyHoldCanceled(context.Background(), tx, *request.HoldRef)
		return err
	})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, enums.UGCStatusCancelled, f.reload(t, request.ID).Status)
}

func TestReversedPayoutIsRefundedToSeller(t *testing.T) {
	f := newFixture(t)
	request := f.request(t, enums.UGCTypePhoto)
	f.submit(t, request.ID)
	_, err := f.svc.Validate(context.Background(), request.ID, f.sellerID)
	require.NoError(t, err)

	reward := f.rowsByType(t, request.ID)[enums.TransactionUGCReward]
	require.NotNil(t, reward.TransferRef)

	ctx := context.Background()
	err = f.conn.Transaction(func(tx *gorm.DB) error {
		reversal, err := f.ledger.ReverseTransfer(ctx, tx, *reward.TransferRef, dec("4"))
		if err != nil {
			return err
		}
		return f.svc.ApplyTransferReversed(ctx, tx, reversal)
	})
	require.NoError(t, err)

	refunds := f.gw.Calls("refund")
	require.Len(t, refunds, 1)
	assert.Equal(t, "4.00", refunds[0].Amount.StringFixed(2))
	assert.True(t, f.platform(t).EscrowBalance.IsZero(), "reversed payout must not stay in escrow")

	rows := f.rowsByType(t, request.ID)
	assert.Equal(t, "4.00", rows[enums.TransactionUGCRefund].Amount.StringFixed(2))

	tester, err := f.ledger.Wallet(ctx, f.testerID)
	require.NoError(t, err)
	assert.Equal(t, "6.00", tester.Balance.StringFixed(2))
}
