package campaigns

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trialhub/trialhub-backend/api/middleware"
	internalcampaigns "github.com/trialhub/trialhub-backend/internal/campaigns"
	"github.com/trialhub/trialhub-backend/internal/escrow"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
)

type fakeService struct {
	internalcampaigns.Service

	created  internalcampaigns.CreateInput
	payment  internalcampaigns.PaymentInput
	cancel   internalcampaigns.CancelInput
	impact   *escrow.Impact
	getErr   error
	campaign *models.Campaign
}

func (f *fakeService) CreateDraft(_ context.Context, input internalcampaigns.CreateInput) (*models.Campaign, error) {
	f.created = input
	return &models.Campaign{ID: uuid.New(), SellerID: input.SellerID, Title: input.Title, Status: enums.CampaignStatusDraft, TotalSlots: input.TotalSlots}, nil
}

func (f *fakeService) Get(_ context.Context, campaignID, sellerID uuid.UUID) (*models.Campaign, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &models.Campaign{ID: campaignID, SellerID: sellerID, Status: enums.CampaignStatusActive}, nil
}

func (f *fakeService) InitiatePayment(_ context.Context, input internalcampaigns.PaymentInput) (*models.Campaign, error) {
	f.payment = input
	return &models.Campaign{ID: input.CampaignID, SellerID: input.SellerID, Status: enums.CampaignStatusPendingPayment}, nil
}

func (f *fakeService) Cancel(_ context.Context, input internalcampaigns.CancelInput) (*internalcampaigns.CancelResult, error) {
	f.cancel = input
	return &internalcampaigns.CancelResult{
		Campaign: &models.Campaign{ID: input.CampaignID, Status: enums.CampaignStatusCancelled},
		Branch:   internalcampaigns.CancelBranchFeeRefund,
		Refund:   decimal.RequireFromString("90.00"),
		Fee:      decimal.RequireFromString("10.00"),
	}, nil
}

func (f *fakeService) PreviewCancellation(_ context.Context, _, _ uuid.UUID) (*escrow.Impact, error) {
	return f.impact, nil
}

func newRequest(method, target, campaignID, body string, sellerID uuid.UUID) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rc := chi.NewRouteContext()
	if campaignID != "" {
		rc.URLParams.Add("campaignId", campaignID)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	ctx = middleware.WithActor(ctx, sellerID, enums.ActorRoleSeller)
	return req.WithContext(ctx)
}

func TestCreateUsesAuthenticatedSeller(t *testing.T) {
	svc := &fakeService{}
	sellerID := uuid.New()
	body := `{"title":" Blender ","total_slots":5,"expected_price":"150.00","shipping_cost":"10.00","bonus":"15.00","quantity":1}`

	resp := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/api/v1/campaigns", "", body, sellerID))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.created.SellerID != sellerID {
		t.Fatalf("expected seller %s got %s", sellerID, svc.created.SellerID)
	}
	if svc.created.Title != "Blender" {
		t.Fatalf("expected trimmed title got %q", svc.created.Title)
	}
	if !svc.created.ExpectedPrice.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("unexpected price %s", svc.created.ExpectedPrice)
	}
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	resp := httptest.NewRecorder()
	Create(&fakeService{}, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/api/v1/campaigns", "", `{"title":""}`, uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	resp := httptest.NewRecorder()
	Get(&fakeService{}, nil).ServeHTTP(resp, newRequest(http.MethodGet, "/api/v1/campaigns/nope", "nope", "", uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetMapsServiceErrors(t *testing.T) {
	svc := &fakeService{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")}
	id := uuid.NewString()
	resp := httptest.NewRecorder()
	Get(svc, nil).ServeHTTP(resp, newRequest(http.MethodGet, "/api/v1/campaigns/"+id, id, "", uuid.New()))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestInitiatePaymentPassesCardRefs(t *testing.T) {
	svc := &fakeService{}
	id := uuid.New()
	body := `{"customer_ref":"cus_1","payment_method_ref":" pm_1 "}`

	resp := httptest.NewRecorder()
	InitiatePayment(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/api/v1/campaigns/"+id.String()+"/payment", id.String(), body, uuid.New()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.payment.CampaignID != id || svc.payment.PaymentMethodRef != "pm_1" || svc.payment.CustomerRef != "cus_1" {
		t.Fatalf("unexpected payment input %+v", svc.payment)
	}
	if strings.Contains(resp.Body.String(), "hold_ref") {
		t.Fatalf("hold reference must not be exposed: %s", resp.Body.String())
	}
}

func TestCancelWithoutBody(t *testing.T) {
	svc := &fakeService{}
	id := uuid.New()
	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, newRequest(http.MethodPost, "/api/v1/campaigns/"+id.String()+"/cancel", id.String(), "", uuid.New()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Data cancelResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Data.Branch != string(internalcampaigns.CancelBranchFeeRefund) {
		t.Fatalf("unexpected branch %s", payload.Data.Branch)
	}
	if !payload.Data.Fee.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unexpected fee %s", payload.Data.Fee)
	}
	if svc.cancel.CampaignID != id {
		t.Fatalf("expected campaign %s got %s", id, svc.cancel.CampaignID)
	}
}

func TestCancellationPreview(t *testing.T) {
	svc := &fakeService{impact: &escrow.Impact{
		RefundToSeller:  decimal.RequireFromString("450.00"),
		CancellationFee: decimal.RequireFromString("50.00"),
	}}
	id := uuid.NewString()
	resp := httptest.NewRecorder()
	CancellationPreview(svc, nil).ServeHTTP(resp, newRequest(http.MethodGet, "/api/v1/campaigns/"+id+"/cancellation-preview", id, "", uuid.New()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"refund_to_seller":"450`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}
