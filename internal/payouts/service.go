// Package payouts tracks testers' connected payout accounts and gates money movement on their eligibility.
package payouts

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
)

const (
	msgAccountMissing    = "tester must connect a payout account before payment"
	msgAccountUnverified = "tester must complete identity verification before payment"
)

type accountStatusReader interface {
	GetAccountStatus(ctx context.Context, accountRef string) (*gateway.AccountStatus, error)
}

type Service struct {
	repo    Repository
	gateway accountStatusReader
}

func NewService(repo Repository, gw accountStatusReader) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout account repository required")
	}
	if gw == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	return &Service{repo: repo, gateway: gw}, nil
}

// RequireEligible returns the tester's payout account after confirming with the processor that payouts are enabled.
func (s *Service) RequireEligible(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	acct, err := s.Refresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !acct.PayoutsEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, msgAccountUnverified).
			WithReason(pkgerrors.ReasonPayoutAccountUnverified).
			WithDetails(map[string]any{"account_ref": acct.AccountRef})
	}
	return acct, nil
}

// Refresh reads the live account status from the processor and stores any changed flags.
func (s *Service) Refresh(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	acct, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, msgAccountMissing).
				WithReason(pkgerrors.ReasonPayoutAccountMissing)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout account")
	}

	status, err := s.gateway.GetAccountStatus(ctx, acct.AccountRef)
	if err != nil {
		return nil, err
	}
	flags := Flags{
		PayoutsEnabled:  status.PayoutEligible,
		ChargesEnabled:  status.ChargesEnabled,
		DetailsComplete: status.DetailsSubmitted,
	}
	if flags != flagsOf(acct) {
		if err := s.repo.UpdateFlags(ctx, acct.AccountRef, flags); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh payout account")
		}
		acct.PayoutsEnabled = flags.PayoutsEnabled
		acct.ChargesEnabled = flags.ChargesEnabled
		acct.DetailsComplete = flags.DetailsComplete
	}
	return acct, nil
}

// Link attaches a connected account reference to the tester.
func (s *Service) Link(ctx context.Context, userID uuid.UUID, accountRef string) (*models.PayoutAccount, error) {
	accountRef = strings.TrimSpace(accountRef)
	if userID == uuid.Nil || accountRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and account reference are required")
	}
	if existing, err := s.repo.FindByAccountRef(ctx, accountRef); err == nil && existing.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payout account already linked to another user")
	} else if err != nil && !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout account")
	}
	acct, err := s.repo.Link(ctx, userID, accountRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link payout account")
	}
	return acct, nil
}

// ApplyStatus stores flags pushed by the processor. It returns nil, nil when the account is unknown.
func (s *Service) ApplyStatus(ctx context.Context, tx *gorm.DB, accountRef string, flags Flags) (*models.PayoutAccount, error) {
	repo := s.repo.WithTx(tx)
	acct, err := repo.FindByAccountRef(ctx, accountRef)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout account")
	}
	if flags == flagsOf(acct) {
		return acct, nil
	}
	if err := repo.UpdateFlags(ctx, accountRef, flags); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout account")
	}
	acct.PayoutsEnabled = flags.PayoutsEnabled
	acct.ChargesEnabled = flags.ChargesEnabled
	acct.DetailsComplete = flags.DetailsComplete
	return acct, nil
}

func flagsOf(acct *models.PayoutAccount) Flags {
	return Flags{
		PayoutsEnabled:  acct.PayoutsEnabled,
		ChargesEnabled:  acct.ChargesEnabled,
		DetailsComplete: acct.DetailsComplete,
	}
}
