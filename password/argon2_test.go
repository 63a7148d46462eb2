package password

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// testConfig uses the minimum memory cost to keep the suite fast.
func testConfig() Config {
	return Config{
		Memory:      minMemoryKB,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func TestNewArgon2RejectsWeakParameters(t *testing.T) {
	mutate := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
	}
	for name, fn := range mutate {
		cfg := testConfig()
		fn(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestHashAndVerify(t *testing.T) {
	h := newHasher(t, testConfig())

	hash, err := h.Hash("Correct-Horse-1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	if ok, err := h.Verify("Correct-Horse-1!", hash); err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	if ok, err := h.Verify("Wrong-Horse-1!", hash); err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}

	again, _ := h.Hash("Correct-Horse-1!")
	if again == hash {
		t.Fatal("two hashes of one password must differ by salt")
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	h := newHasher(t, testConfig())
	hash, err := h.Hash("Correct-Horse-1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	p, err := decodePHC(hash)
	if err != nil {
		t.Fatalf("decodePHC: %v", err)
	}
	padded := strings.Join([]string{
		"", "argon2id", "v=19", "m=8192,t=1,p=1",
		base64.StdEncoding.EncodeToString(p.salt),
		base64.StdEncoding.EncodeToString(p.key),
	}, "$")

	if ok, err := h.Verify("Correct-Horse-1!", padded); err != nil || !ok {
		t.Fatalf("expected padded hash to verify, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := newHasher(t, testConfig())
	valid, err := h.Hash("Correct-Horse-1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	cases := map[string]string{
		"not phc":         "not-a-phc-hash",
		"argon2i":         strings.Replace(valid, "$argon2id$", "$argon2i$", 1),
		"old version":     strings.Replace(valid, "$v=19$", "$v=18$", 1),
		"version suffix":  strings.Replace(valid, "$v=19$", "$v=19x$", 1),
		"extra param":     strings.Replace(valid, "p=1$", "p=1,x=2$", 1),
		"low memory":      strings.Replace(valid, "m=8192", "m=1024", 1),
		"parallel range":  strings.Replace(valid, "p=1$", "p=300$", 1),
		"missing segment": valid[:strings.LastIndex(valid, "$")],
		"bad salt":        strings.Replace(valid, "m=8192,t=1,p=1$", "m=8192,t=1,p=1$!!!", 1),
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := h.Verify("Correct-Horse-1!", encoded); err == nil {
				t.Fatal("expected malformed hash to be rejected")
			}
		})
	}
}

func TestNeedsUpgrade(t *testing.T) {
	old := newHasher(t, testConfig())
	hash, err := old.Hash("Correct-Horse-1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if up, err := old.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("same parameters must not need upgrade: up=%v err=%v", up, err)
	}

	stronger := testConfig()
	stronger.Time = 2
	if up, err := newHasher(t, stronger).NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("weaker hash must need upgrade: up=%v err=%v", up, err)
	}

	longer := testConfig()
	longer.KeyLength = 64
	if up, _ := newHasher(t, longer).NeedsUpgrade(hash); !up {
		t.Fatal("key length change must need upgrade")
	}
}

func TestHashLengthBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPasswordBytes = 64
	h := newHasher(t, cfg)

	if _, err := h.Hash(""); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort for empty input, got %v", err)
	}
	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	exact := strings.Repeat("b", 64)
	hash, err := h.Hash(exact)
	if err != nil {
		t.Fatalf("max-length password rejected: %v", err)
	}
	if _, err := h.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected Verify to reject long input, got %v", err)
	}
}

func TestDefaultMaxPasswordBytesApplied(t *testing.T) {
	h := newHasher(t, testConfig())

	if _, err := h.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected password > %d bytes to be rejected, got %v", DefaultMaxPasswordBytes, err)
	}
	if _, err := h.Hash(strings.Repeat("e", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("expected password of %d bytes to hash: %v", DefaultMaxPasswordBytes, err)
	}
}
