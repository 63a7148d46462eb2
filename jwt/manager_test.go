package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var hsSecret = []byte("0123456789abcdef0123456789abcdef")

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func mustManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func signed(t *testing.T, method gjwt.SigningMethod, key any, kid string, claims AccessClaims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func claimsAt(iss, aud string, exp time.Duration) AccessClaims {
	now := time.Now()
	c := AccessClaims{SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "id-1",
		Issuer:    iss,
		IssuedAt:  gjwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: gjwt.NewNumericDate(now.Add(exp)),
	}}
	if aud != "" {
		c.Audience = gjwt.ClaimStrings{aud}
	}
	return c
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, _ := newEdKeys(t)
	cases := map[string]Config{
		"zero ttl":          {SigningMethod: MethodHS256, PrivateKey: hsSecret},
		"large leeway":      {AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: hsSecret, Leeway: time.Hour},
		"hs256 no secret":   {AccessTTL: time.Minute, SigningMethod: MethodHS256},
		"ed25519 no keys":   {AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		"bad public key":    {AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: []byte("nope")},
		"unknown method":    {AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: hsSecret},
		"empty kid":         {AccessTTL: time.Minute, SigningMethod: MethodEd25519, VerifyKeys: map[string][]byte{" ": pub}},
		"key id not in set": {AccessTTL: time.Minute, SigningMethod: MethodEd25519, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pub}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}
}

func TestCreateAccessRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	managers := map[string]*Manager{
		"hs256": mustManager(t, Config{
			AccessTTL: 5 * time.Minute, SigningMethod: MethodHS256, PrivateKey: hsSecret,
			Issuer: "goidentity", RequireIAT: true,
		}),
		"ed25519": mustManager(t, Config{
			AccessTTL: 5 * time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub,
			Issuer: "goidentity", Audience: "api", KeyID: "k1",
		}),
	}
	for name, m := range managers {
		t.Run(name, func(t *testing.T) {
			token, exp, err := m.CreateAccess("id-1", "sid-1")
			if err != nil {
				t.Fatalf("create access: %v", err)
			}
			if time.Until(exp) <= 4*time.Minute {
				t.Fatalf("unexpected expiry %v", exp)
			}
			claims, err := m.ParseAccess(token)
			if err != nil {
				t.Fatalf("parse access: %v", err)
			}
			if claims.IdentityID() != "id-1" || claims.SID != "sid-1" {
				t.Fatalf("unexpected claims: %+v", claims)
			}
			if _, _, err := m.CreateAccess("", "sid-1"); !errors.Is(err, ErrMissingClaims) {
				t.Fatalf("expected ErrMissingClaims, got %v", err)
			}
		})
	}
}

func TestParseAccessClaimChecks(t *testing.T) {
	_, priv := newEdKeys(t)
	m := mustManager(t, Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "goidentity",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})

	noSID := claimsAt("goidentity", "api", time.Minute)
	noSID.SID = ""
	future := claimsAt("goidentity", "api", 2*time.Hour)
	future.IssuedAt = gjwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		token  string
		wantOK bool
	}{
		{"valid", signed(t, gjwt.SigningMethodEdDSA, priv, "", claimsAt("goidentity", "api", time.Minute)), true},
		{"wrong issuer", signed(t, gjwt.SigningMethodEdDSA, priv, "", claimsAt("other", "api", time.Minute)), false},
		{"wrong audience", signed(t, gjwt.SigningMethodEdDSA, priv, "", claimsAt("goidentity", "other-api", time.Minute)), false},
		{"expired within leeway", signed(t, gjwt.SigningMethodEdDSA, priv, "", claimsAt("goidentity", "api", -15*time.Second)), true},
		{"expired", signed(t, gjwt.SigningMethodEdDSA, priv, "", claimsAt("goidentity", "api", -2*time.Minute)), false},
		{"wrong algorithm", signed(t, gjwt.SigningMethodHS256, hsSecret, "", claimsAt("goidentity", "api", time.Minute)), false},
		{"missing sid", signed(t, gjwt.SigningMethodEdDSA, priv, "", noSID), false},
		{"iat far in future", signed(t, gjwt.SigningMethodEdDSA, priv, "", future), false},
		{"garbage", "not.a.jwt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ParseAccess(tt.token)
			if tt.wantOK && err != nil {
				t.Fatalf("expected token to parse: %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Fatal("expected token to be rejected")
			}
		})
	}
}

func TestParseAccessKeyRotation(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)
	m := mustManager(t, Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		PublicKey:     pub2,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	claims := claimsAt("", "", time.Minute)

	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "k1", claims)); err != nil {
		t.Fatalf("token from retired key should still verify: %v", err)
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "k3", claims)); !errors.Is(err, ErrUnknownKeyID) {
		t.Fatalf("expected ErrUnknownKeyID, got %v", err)
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "", claims)); !errors.Is(err, ErrMissingKeyID) {
		t.Fatalf("expected ErrMissingKeyID, got %v", err)
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv1, "k2", claims)); err == nil {
		t.Fatal("expected signature under the wrong key to fail")
	}
}
