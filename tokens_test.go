package eventauth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	ea "github.com/panyam/eventauth"
	"github.com/panyam/eventauth/stores/fs"
)

func newIssuer(t *testing.T) (*ea.TokenIssuer, *fs.FSIdentityStore, *ea.Identity) {
	t.Helper()
	store := fs.NewFSIdentityStore(t.TempDir())
	hash, _ := newHasher(t).Derive(alicePassword)
	identity, err := store.CreateIdentity(context.Background(), ea.NewIdentity{
		Email:        "a@x.com",
		Username:     "alice",
		PasswordHash: hash,
		Provider:     ea.ProviderLocal,
		DateOfBirth:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	issuer := (&ea.TokenIssuer{
		Store:         store,
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		Issuer:        "eventauth-test",
	}).EnsureDefaults()
	return issuer, store, identity
}

func TestIssuePersistsRefreshToken(t *testing.T) {
	issuer, store, identity := newIssuer(t)

	pair, err := issuer.Issue(context.Background(), identity)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	stored, _ := store.GetIdentityByID(context.Background(), identity.ID)
	if stored.RefreshToken != pair.RefreshToken {
		t.Error("refresh token must be persisted before it is returned")
	}

	access, err := issuer.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if id, _ := access.IdentityID(); id != identity.ID {
		t.Errorf("subject = %d, want %d", id, identity.ID)
	}
	if access.Email != "a@x.com" || access.Issuer != "eventauth-test" || access.ID == "" {
		t.Errorf("unexpected access claims %+v", access)
	}
	if got := pair.AccessExpiresAt.Sub(access.IssuedAt.Time); got != 15*time.Minute {
		t.Errorf("access lifetime = %v", got)
	}

	refresh, err := issuer.ParseRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("ParseRefreshToken: %v", err)
	}
	if got := refresh.ExpiresAt.Sub(refresh.IssuedAt.Time); got != 7*24*time.Hour {
		t.Errorf("refresh lifetime = %v", got)
	}
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	issuer, _, identity := newIssuer(t)
	pair, _ := issuer.Issue(context.Background(), identity)

	if _, err := issuer.ParseAccessToken(pair.RefreshToken); err == nil {
		t.Error("refresh token accepted as access token")
	}
	if _, err := issuer.ParseRefreshToken(pair.AccessToken); err == nil {
		t.Error("access token accepted as refresh token")
	}

	// correct type but signed with the other secret
	claims := ea.AccessClaims{
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			Issuer:    "eventauth-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(refreshSecret))
	if _, err := issuer.ParseAccessToken(forged); err == nil {
		t.Error("access token signed with the refresh secret accepted")
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	issuer, _, identity := newIssuer(t)

	sign := func(method jwt.SigningMethod, key any, mutate func(*ea.AccessClaims)) string {
		claims := ea.AccessClaims{
			Email: "a@x.com",
			Type:  "access",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "1",
				Issuer:    "eventauth-test",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		if mutate != nil {
			mutate(&claims)
		}
		signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}
	secret := []byte(accessSecret)

	past := (&ea.TokenIssuer{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		Issuer:        "eventauth-test",
		Now:           func() time.Time { return time.Now().Add(-time.Hour) },
	}).EnsureDefaults()
	expired, _, _ := past.MintAccessToken(identity)

	for name, token := range map[string]string{
		"expired":       expired,
		"no expiry":     sign(jwt.SigningMethodHS256, secret, func(c *ea.AccessClaims) { c.ExpiresAt = nil }),
		"wrong issuer":  sign(jwt.SigningMethodHS256, secret, func(c *ea.AccessClaims) { c.Issuer = "someone-else" }),
		"wrong type":    sign(jwt.SigningMethodHS256, secret, func(c *ea.AccessClaims) { c.Type = "refresh" }),
		"bad subject":   sign(jwt.SigningMethodHS256, secret, func(c *ea.AccessClaims) { c.Subject = "alice" }),
		"HS512":         sign(jwt.SigningMethodHS512, secret, nil),
		"unsigned":      sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, nil),
		"garbage":       "not.a.token",
		"tampered tail": expired[:len(expired)-2] + "xx",
	} {
		if _, err := issuer.ParseAccessToken(token); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}

	if _, err := issuer.ParseAccessToken(sign(jwt.SigningMethodHS256, secret, nil)); err != nil {
		t.Errorf("well formed token rejected: %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	issuer, store, identity := newIssuer(t)
	ctx := context.Background()
	issuer.Issue(ctx, identity)

	for i := 0; i < 2; i++ {
		if err := issuer.Revoke(ctx, identity.ID); err != nil {
			t.Fatalf("Revoke #%d: %v", i+1, err)
		}
	}
	stored, _ := store.GetIdentityByID(ctx, identity.ID)
	if stored.RefreshToken != "" {
		t.Error("expected stored refresh token to be cleared")
	}
	if err := issuer.Revoke(ctx, 9999); err != nil {
		t.Errorf("revoking an unknown identity should be a no-op: %v", err)
	}
}

func TestIssueWithoutSecretsFails(t *testing.T) {
	_, store, identity := newIssuer(t)
	issuer := &ea.TokenIssuer{Store: store}
	if _, err := issuer.Issue(context.Background(), identity); err == nil {
		t.Error("expected error without secrets")
	}
}

func TestIssuerLiteralIsSafeForConcurrentUse(t *testing.T) {
	_, store, identity := newIssuer(t)
	issuer := &ea.TokenIssuer{
		Store:         store,
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		Issuer:        "eventauth-test",
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, _, err := issuer.MintAccessToken(identity)
			if err == nil {
				_, err = issuer.ParseAccessToken(token)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("mint/parse: %v", err)
		}
	}

	// defaults are applied without writing to the shared issuer
	if issuer.Now != nil || issuer.AccessTokenExpiry != 0 || issuer.Logger != nil {
		t.Errorf("issuer fields were mutated: %+v", issuer)
	}
	token, expiresAt, _ := issuer.MintAccessToken(identity)
	claims, err := issuer.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if got := expiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Errorf("default access lifetime = %v", got)
	}
}
