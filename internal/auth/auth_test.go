package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestLegacyToken_RoundTrip(t *testing.T) {
	token, err := IssueLegacyToken("user-1", "a@b.c", "secret", time.Hour)
	if err != nil {
		t.Fatalf("IssueLegacyToken: %v", err)
	}

	claims, err := ValidateLegacyToken(token, "secret")
	if err != nil {
		t.Fatalf("ValidateLegacyToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@b.c" || claims.Issuer != LegacyIssuer {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ValidateLegacyToken(token, "other-secret"); err == nil {
		t.Error("token accepted with the wrong secret")
	}
}

func TestLegacyToken_Rejections(t *testing.T) {
	expired, _ := IssueLegacyToken("user-1", "", "secret", -time.Minute)
	if _, err := ValidateLegacyToken(expired, "secret"); err == nil {
		t.Error("expired token accepted")
	}

	noUser, _ := IssueLegacyToken("", "", "secret", time.Hour)
	if _, err := ValidateLegacyToken(noUser, "secret"); err == nil {
		t.Error("token without user id accepted")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, LegacyClaims{UserID: "u"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := ValidateLegacyToken(unsigned, "secret"); err == nil {
		t.Error("unsigned token accepted")
	}

	if _, err := IssueLegacyToken("u", "", "", time.Hour); err == nil {
		t.Error("issuing without a secret should fail")
	}
}

func TestDiscoverJWKSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"issuer":"x","jwks_uri":"https://idp.test/keys"}`))
	}))
	defer srv.Close()

	got, err := discoverJWKSURL(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("discoverJWKSURL: %v", err)
	}
	if got != "https://idp.test/keys" {
		t.Errorf("jwks url = %q", got)
	}

	if _, err := discoverJWKSURL(context.Background(), srv.Client(), srv.URL+"/missing"); err == nil {
		t.Error("expected error for a missing discovery document")
	}
}
