package goIdentity

import (
	"errors"
	"log/slog"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/internal/upstream"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once at Build so that a login for an unknown email
// spends the same argon2 work as a real one.
const dummyPassword = "goidentity-dummy-credential-never-valid"

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities IdentityStore
	profiles   ProfileStore
	notifier   NotificationDispatcher

	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is cloned.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client shared by the session store, the recovery store
// and every limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

func (b *Builder) WithProfileStore(store ProfileStore) *Builder {
	b.profiles = store
	return b
}

func (b *Builder) WithNotifier(dispatcher NotificationDispatcher) *Builder {
	b.notifier = dispatcher
	return b
}

// WithAuditSink enables audit delivery to sink. Audit.Enabled must also be
// set in the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the Engine logger. slog.Default is used when unset.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and collaborators and returns a ready
// Engine. A Builder can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.identities == nil {
		return nil, errors.New("identity store required")
	}
	if b.profiles == nil {
		return nil, errors.New("profile store required")
	}
	if b.notifier == nil {
		return nil, errors.New("notification dispatcher required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		logger:     logger,
		identities: b.identities,
		profiles:   b.profiles,
		notifier:   b.notifier,
	}

	// -------- REDIS STATE --------
	engine.sessionStore = session.NewStore(
		b.redis,
		cfg.Session.RedisPrefix,
		cfg.Session.SlidingExpiration,
		cfg.Session.JitterEnabled,
		cfg.Session.JitterRange,
	)
	engine.recoveryStore = stores.NewRecoveryStore(b.redis, cfg.Recovery.RedisPrefix, cfg.Recovery.ExpiryGrace)
	engine.confirmStore = stores.NewConfirmationStore(b.redis, cfg.Registration.ConfirmationPrefix)

	// -------- LIMITERS --------
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:        cfg.Login.EnableIPThrottle,
		EnableRefreshThrottle:   cfg.Login.EnableRefreshThrottle,
		MaxLoginAttempts:        cfg.Login.MaxFailures,
		LoginCooldownDuration:   cfg.Login.FailureWindow,
		MaxRefreshAttempts:      cfg.Login.MaxRefreshAttempts,
		RefreshCooldownDuration: cfg.Login.RefreshWindow,
	})
	engine.recoveryLimiter = limiters.NewRecoveryLimiter(b.redis, limiters.RecoveryConfig{
		EnableEmailThrottle: cfg.Recovery.EnableEmailThrottle,
		EnableIPThrottle:    cfg.Recovery.EnableIPThrottle,
		MaxRequests:         cfg.Recovery.MaxRequests,
		Window:              cfg.Recovery.RequestWindow,
	})

	// -------- OBSERVABILITY --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxLength * 4,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	engine.policy = password.Policy{
		MinLength:      cfg.Password.MinLength,
		MaxLength:      cfg.Password.MaxLength,
		RequireUpper:   cfg.Password.RequireUpper,
		RequireLower:   cfg.Password.RequireLower,
		RequireDigit:   cfg.Password.RequireDigit,
		RequireSpecial: cfg.Password.RequireSpecial,
	}

	dummy, err := ph.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- COLLABORATOR POLICY --------
	engine.upstream = upstream.Policy{
		Timeout:   cfg.Upstream.Timeout,
		Retries:   cfg.Upstream.Retries,
		BaseDelay: cfg.Upstream.BaseDelay,
		MaxJitter: cfg.Upstream.MaxJitter,
		Permanent: []error{
			ErrIdentityConflict,
			ErrIdentityNotFound,
			ErrProfileConflict,
			ErrProfileNotFound,
		},
	}

	b.built = true

	return engine, nil
}
