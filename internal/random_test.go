package internal

import (
	"encoding/base64"
	"testing"
)

func TestNewOTPShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		otp, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP failed: %v", err)
		}
		if len(otp) != 6 || !IsNumeric(otp) {
			t.Fatalf("unexpected otp %q", otp)
		}
	}
}

func TestNewOTPRejectsBadDigits(t *testing.T) {
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected error for 4 digits")
	}
	if _, err := NewOTP(11); err == nil {
		t.Fatal("expected error for 11 digits")
	}
}

func TestNewResetTokenEntropy(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		tok, err := NewResetToken()
		if err != nil {
			t.Fatalf("NewResetToken failed: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("token is not base64url: %v", err)
		}
		if len(raw)*8 < 128 {
			t.Fatalf("token carries %d bits, want >= 128", len(raw)*8)
		}
		if _, dup := seen[tok]; dup {
			t.Fatal("duplicate reset token")
		}
		seen[tok] = struct{}{}
	}
}

func TestHashSecretIsDeterministic(t *testing.T) {
	if HashSecret("482913") != HashSecret("482913") {
		t.Fatal("expected equal digests")
	}
	if HashSecret("482913") == HashSecret("000000") {
		t.Fatal("expected distinct digests")
	}
}

func TestIsNumeric(t *testing.T) {
	cases := map[string]bool{
		"000000": true,
		"12a456": false,
		"":       false,
		"123 45": false,
	}
	for in, want := range cases {
		if got := IsNumeric(in); got != want {
			t.Fatalf("IsNumeric(%q)=%v want %v", in, got, want)
		}
	}
}
