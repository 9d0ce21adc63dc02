package payouts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/internal/gateway/gatewaytest"
	"github.com/trialhub/trialhub-backend/pkg/db/dbtest"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
)

func newTestService(t *testing.T) (*Service, *gatewaytest.Fake, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	fake := gatewaytest.NewFake()
	svc, err := NewService(NewRepository(db), fake)
	require.NoError(t, err)
	return svc, fake, db
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) *pkgerrors.Error {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code())
	return typed
}

func TestRequireEligibleWithoutAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.RequireEligible(context.Background(), uuid.New())
	typed := requireCode(t, err, pkgerrors.CodeConflict)
	assert.Equal(t, msgAccountMissing, typed.Message())
}

func TestRequireEligibleUnverifiedAccount(t *testing.T) {
	svc, fake, _ := newTestService(t)
	testerID := uuid.New()
	_, err := svc.Link(context.Background(), testerID, "acct_pending")
	require.NoError(t, err)
	fake.Accounts["acct_pending"] = gateway.AccountStatus{DetailsSubmitted: true}

	_, err = svc.RequireEligible(context.Background(), testerID)
	typed := requireCode(t, err, pkgerrors.CodeConflict)
	assert.Equal(t, msgAccountUnverified, typed.Message())
	assert.Equal(t, pkgerrors.ReasonPayoutAccountUnverified, typed.Reason())

	stored, err := svc.repo.FindByUserID(context.Background(), testerID)
	require.NoError(t, err)
	assert.True(t, stored.DetailsComplete)
	assert.False(t, stored.PayoutsEnabled)
}

func TestRequireEligibleRefreshesFlags(t *testing.T) {
	svc, fake, _ := newTestService(t)
	testerID := uuid.New()
	_, err := svc.Link(context.Background(), testerID, "acct_ok")
	require.NoError(t, err)
	fake.Accounts["acct_ok"] = gateway.AccountStatus{PayoutEligible: true, ChargesEnabled: true, DetailsSubmitted: true}

	acct, err := svc.RequireEligible(context.Background(), testerID)
	require.NoError(t, err)
	assert.Equal(t, "acct_ok", acct.AccountRef)
	assert.True(t, acct.PayoutsEnabled)

	stored, err := svc.repo.FindByAccountRef(context.Background(), "acct_ok")
	require.NoError(t, err)
	assert.True(t, stored.PayoutsEnabled)
	assert.True(t, stored.ChargesEnabled)
}

func TestRequireEligibleGatewayFailure(t *testing.T) {
	svc, fake, _ := newTestService(t)
	testerID := uuid.New()
	_, err := svc.Link(context.Background(), testerID, "acct_x")
	require.NoError(t, err)
	fake.AccountErr = pkgerrors.New(pkgerrors.CodeDependency, "processor down")

	_, err = svc.RequireEligible(context.Background(), testerID)
	requireCode(t, err, pkgerrors.CodeDependency)
}

func TestLinkReplacesAndGuardsOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)
	testerID := uuid.New()

	_, err := svc.Link(context.Background(), testerID, "acct_1")
	require.NoError(t, err)
	acct, err := svc.Link(context.Background(), testerID, "acct_2")
	require.NoError(t, err)
	assert.Equal(t, "acct_2", acct.AccountRef)

	_, err = svc.Link(context.Background(), uuid.New(), "acct_2")
	requireCode(t, err, pkgerrors.CodeConflict)

	_, err = svc.Link(context.Background(), testerID, " ")
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestApplyStatus(t *testing.T) {
	svc, _, db := newTestService(t)
	testerID := uuid.New()
	_, err := svc.Link(context.Background(), testerID, "acct_hook")
	require.NoError(t, err)

	var updated bool
	err = db.Transaction(func(tx *gorm.DB) error {
		acct, err := svc.ApplyStatus(context.Background(), tx, "acct_hook", Flags{PayoutsEnabled: true, DetailsComplete: true})
		updated = acct != nil && acct.PayoutsEnabled
		return err
	})
	require.NoError(t, err)
	assert.True(t, updated)

	acct, err := svc.ApplyStatus(context.Background(), db, "acct_unknown", Flags{})
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestRefreshReturnsUnverifiedAccount(t *testing.T) {
	svc, fake, _ := newTestService(t)
	testerID := uuid.New()
	_, err := svc.Link(context.Background(), testerID, "acct_onboarding")
	require.NoError(t, err)
	fake.Accounts["acct_onboarding"] = gateway.AccountStatus{ChargesEnabled: true}

	acct, err := svc.Refresh(context.Background(), testerID)
	require.NoError(t, err)
	assert.False(t, acct.PayoutsEnabled)
	assert.True(t, acct.ChargesEnabled)
}
