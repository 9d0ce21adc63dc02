package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	ugccontrollers "github.com/trialhub/trialhub-backend/api/controllers/ugc"
	"github.com/trialhub/trialhub-backend/internal/campaigns"
	pkgAuth "github.com/trialhub/trialhub-backend/pkg/auth"
	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/db/models"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubCampaigns struct {
	campaigns.Service
	payments int
}

func (s *stubCampaigns) CreateDraft(_ context.Context, input campaigns.CreateInput) (*models.Campaign, error) {
	return &models.Campaign{ID: uuid.New(), SellerID: input.SellerID, Title: input.Title, Status: enums.CampaignStatusDraft}, nil
}

func (s *stubCampaigns) InitiatePayment(_ context.Context, input campaigns.PaymentInput) (*models.Campaign, error) {
	s.payments++
	return &models.Campaign{ID: input.CampaignID, SellerID: input.SellerID, Status: enums.CampaignStatusPendingPayment}, nil
}

type stubUGC struct {
	ugccontrollers.Service
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", CORSOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "trialhub-identity"},
		Eventing: config.EventingConfig{
			HTTPIdempotencyTTL: time.Hour,
		},
		RateLimit: config.RateLimitConfig{PaymentUserLimit: 1, PaymentIPLimit: 50, PaymentWindow: time.Minute},
	}
}

func newTestRouter(t *testing.T, withRedis bool) (http.Handler, *stubCampaigns) {
	t.Helper()
	svc := &stubCampaigns{}
	deps := Deps{DB: stubPinger{}, Campaigns: svc, UGC: &stubUGC{}}
	if withRedis {
		mr := miniredis.RunT(t)
		client, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
		if err != nil {
			t.Fatalf("redis.New: %v", err)
		}
		t.Cleanup(func() { _ = client.Close() })
		deps.Redis = client
	}
	return NewRouter(testConfig(), nil, deps), svc
}

func bearer(t *testing.T, userID uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig().JWT, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthLive(t *testing.T) {
	router, _ := newTestRouter(t, false)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestPrivateRoutesRejectMissingJWT(t *testing.T) {
	router, _ := newTestRouter(t, false)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/wallets/me", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestSellerRoutesRejectTesters(t *testing.T) {
	router, _ := newTestRouter(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", strings.NewReader(`{"title":"x","total_slots":1}`))
	req.Header.Set("Authorization", bearer(t, uuid.New(), enums.ActorRoleTester))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	router, _ := newTestRouter(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/sessions/"+uuid.NewString()+"/reward", nil)
	req.Header.Set("Authorization", bearer(t, uuid.New(), enums.ActorRoleSeller))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestSellerCreatesCampaign(t *testing.T) {
	router, _ := newTestRouter(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", strings.NewReader(`{"title":"Blender","total_slots":3}`))
	req.Header.Set("Authorization", bearer(t, uuid.New(), enums.ActorRoleSeller))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestPaymentRouteRequiresIdempotencyKey(t *testing.T) {
	router, _ := newTestRouter(t, true)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/"+uuid.NewString()+"/payment", strings.NewReader(`{"customer_ref":"cus_1","payment_method_ref":"pm_1"}`))
	req.Header.Set("Authorization", bearer(t, uuid.New(), enums.ActorRoleSeller))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestPaymentRouteReplaysAndThrottles(t *testing.T) {
	router, svc := newTestRouter(t, true)
	sellerID := uuid.New()
	campaignID := uuid.NewString()
	token := bearer(t, sellerID, enums.ActorRoleSeller)

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/"+campaignID+"/payment", strings.NewReader(`{"customer_ref":"cus_1","payment_method_ref":"pm_1"}`))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", key)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := send("k1"); code != http.StatusOK {
		t.Fatalf("expected 200 got %d", code)
	}
	if code := send("k1"); code != http.StatusOK {
		t.Fatalf("expected replay 200 got %d", code)
	}
	if svc.payments != 1 {
		t.Fatalf("expected one payment attempt, got %d", svc.payments)
	}
	if code := send("k2"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request got %d", code)
	}
}
