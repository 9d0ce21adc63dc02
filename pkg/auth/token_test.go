package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/enums"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "trialhub-identity"}

func TestMintAndParseAccessToken(t *testing.T) {
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(testCfg, now, 30*time.Minute, AccessTokenPayload{UserID: userID, Role: enums.ActorRoleSeller})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	claims, err := ParseAccessToken(testCfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.Role != enums.ActorRoleSeller {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != testCfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", testCfg.Issuer, claims.Issuer)
	}
	diff := claims.ExpiresAt.Sub(now.Add(30 * time.Minute))
	if diff < 0 {
		diff = -diff
	}
	if diff >= time.Second {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt.UTC())
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	token, err := MintAccessToken(testCfg, time.Now(), 10*time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleTester})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(testCfg, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
}

func TestParseAccessTokenWrongIssuer(t *testing.T) {
	token, err := MintAccessToken(config.JWTConfig{Secret: "secret", Issuer: "someone-else"}, time.Now(), time.Minute,
		AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleTester})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(testCfg, token); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	token, err := MintAccessToken(testCfg, time.Now().Add(-time.Hour), 15*time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleAdmin})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	_, err = ParseAccessToken(testCfg, token)
	if err == nil {
		t.Fatal("expected expiration error")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMintAccessTokenRejectsSystemRole(t *testing.T) {
	for _, role := range []enums.ActorRole{"", enums.ActorRoleSystem} {
		if _, err := MintAccessToken(testCfg, time.Now(), time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: role}); err == nil {
			t.Fatalf("expected invalid role error for %q", role)
		}
	}
}

func signRaw(t *testing.T, claims *AccessTokenClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(testCfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestParseAccessTokenRejectsForgedClaims(t *testing.T) {
	now := time.Now()
	registered := func(sub string) jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Issuer:    testCfg.Issuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}
	}
	userID := uuid.New()
	cases := map[string]*AccessTokenClaims{
		"system role":      {UserID: userID, Role: enums.ActorRoleSystem, RegisteredClaims: registered(userID.String())},
		"missing user":     {Role: enums.ActorRoleTester, RegisteredClaims: registered("")},
		"subject mismatch": {UserID: userID, Role: enums.ActorRoleTester, RegisteredClaims: registered(uuid.NewString())},
	}
	for name, claims := range cases {
		if _, err := ParseAccessToken(testCfg, signRaw(t, claims)); err == nil {
			t.Fatalf("%s: expected claims validation error", name)
		}
	}
}

func TestParseAccessTokenToleratesSmallSkew(t *testing.T) {
	token, err := MintAccessToken(testCfg, time.Now().Add(10*time.Second), time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleTester})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(testCfg, token); err != nil {
		t.Fatalf("expected token issued slightly in the future to pass, got %v", err)
	}
}
