package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the access-token algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	ErrMissingKeyID  = errors.New("jwt: token has no kid")
	ErrUnknownKeyID  = errors.New("jwt: token kid is not trusted")
	ErrFutureIssued  = errors.New("jwt: iat too far in the future")
	ErrMissingClaims = errors.New("jwt: sub and sid are required")
)

// Config controls access-token issuance and verification. With VerifyKeys
// set, tokens must carry a kid naming one of them, which allows key
// rotation without invalidating live tokens.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager signs and verifies access tokens. Keys are decoded once in
// NewManager; a Manager is safe for concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
	parser *jwt.Parser

	signKey   any
	verifyKey any
	byKid     map[string]any
}

// AccessClaims binds an access token to one identity and one server-side
// session. The identity id travels in the standard sub claim.
type AccessClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// IdentityID is the subject of the token.
func (c *AccessClaims) IdentityID() string {
	return c.Subject
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: access ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("jwt: max future iat must be within (0, 24h]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, byKid: make(map[string]any, len(cfg.VerifyKeys))}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 requires a secret")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("jwt: ed25519 requires a public key or verify keys")
		}
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			if m.signKey, err = edPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if m.verifyKey, err = edPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify keys contain an empty kid")
		}
		key, err := m.decodeVerifyKey(raw)
		if err != nil {
			return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
		}
		m.byKid[kid] = key
	}
	if cfg.KeyID != "" && len(m.byKid) > 0 {
		if _, ok := m.byKid[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not among VerifyKeys")
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{m.method.Alg()})}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// CreateAccess signs a token for identityID and sessionID and returns it
// with its expiry.
func (m *Manager) CreateAccess(identityID, sessionID string) (string, time.Time, error) {
	if identityID == "" || sessionID == "" {
		return "", time.Time{}, ErrMissingClaims
	}
	if m.signKey == nil {
		return "", time.Time{}, errors.New("jwt: manager has no signing key")
	}

	now := time.Now()
	expiresAt := now.Add(m.config.AccessTTL)
	claims := AccessClaims{
		SID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies signature, algorithm, kid, issuer, audience and
// time claims, and returns the claims of a valid token.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.keyFor)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.SID == "" || claims.Subject == "" {
		return nil, ErrMissingClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(time.Now().Add(m.config.MaxFutureIAT)) {
		return nil, ErrFutureIssued
	}
	return claims, nil
}

// keyFor resolves the verification key from the kid header. A manager with
// a KeyID but no VerifyKeys only accepts its own kid.
func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("jwt: unexpected algorithm %s", t.Method.Alg())
	}
	if len(m.byKid) == 0 && m.config.KeyID == "" {
		return m.verifyKey, nil
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKeyID
	}
	if len(m.byKid) > 0 {
		key, ok := m.byKid[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return key, nil
	}
	if kid != m.config.KeyID {
		return nil, ErrUnknownKeyID
	}
	return m.verifyKey, nil
}

func (m *Manager) decodeVerifyKey(raw []byte) (any, error) {
	if m.method == jwt.SigningMethodHS256 {
		return raw, nil
	}
	return edPublicKey(raw)
}

// edPrivateKey accepts a raw 64-byte key or a PKCS#8 PEM block.
func edPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: private key is not ed25519")
	}
	return key, nil
}

func edPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 public key: %w", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: public key is not ed25519")
	}
	return key, nil
}
