package main

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type appConfig struct {
	Log      logConfig      `koanf:"log"`
	HTTP     httpConfig     `koanf:"http"`
	Metrics  metricsConfig  `koanf:"metrics"`
	Redis    redisConfig    `koanf:"redis"`
	Postgres postgresConfig `koanf:"postgres"`
	JWT      jwtConfig      `koanf:"jwt"`
	Notify   notifyConfig   `koanf:"notify"`
	Audit    auditConfig    `koanf:"audit"`

	RequireConfirmation bool `koanf:"require_confirmation"`
}

type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type httpConfig struct {
	Addr              string        `koanf:"addr"`
	TrustForwardedFor bool          `koanf:"trust_forwarded_for"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type metricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type redisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type postgresConfig struct {
	DSN         string `koanf:"dsn"`
	MaxConns    int32  `koanf:"max_conns"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

type jwtConfig struct {
	SigningMethod  string        `koanf:"signing_method"`
	PrivateKeyFile string        `koanf:"private_key_file"`
	PublicKeyFile  string        `koanf:"public_key_file"`
	Issuer         string        `koanf:"issuer"`
	AccessTTL      time.Duration `koanf:"access_ttl"`
}

type notifyConfig struct {
	// Mode is "log" or "stream".
	Mode   string `koanf:"mode"`
	Stream string `koanf:"stream"`
	MaxLen int64  `koanf:"max_len"`
	// Relay drains the stream into the log dispatcher in-process. Leave off
	// when a separate mail worker consumes the stream.
	Relay bool `koanf:"relay"`
}

type auditConfig struct {
	Enabled bool `koanf:"enabled"`
	// Sink is "slog" or "json" (JSON lines on stdout).
	Sink string `koanf:"sink"`
}

// registerConfigFlags declares every setting as a flag. The flag defaults
// double as the config defaults.
func registerConfigFlags(fs *pflag.FlagSet) {
	fs.String("log.level", "info", "log level")
	fs.String("log.format", "json", "log format (json or text)")

	fs.String("http.addr", ":8080", "API listen address")
	fs.Bool("http.trust_forwarded_for", false, "take the client IP from X-Forwarded-For")
	fs.Duration("http.shutdown_timeout", 15*time.Second, "graceful shutdown timeout")

	fs.Bool("metrics.enabled", true, "enable engine metrics and the observability server")
	fs.String("metrics.addr", ":9100", "observability listen address")

	fs.String("redis.addr", "localhost:6379", "Redis address")
	fs.String("redis.password", "", "Redis password")
	fs.Int("redis.db", 0, "Redis database")

	fs.String("postgres.dsn", "postgres://localhost:5432/goidentity?sslmode=disable", "PostgreSQL URL")
	fs.Int32("postgres.max_conns", 0, "pool size (0 keeps the pgx default)")
	fs.Bool("postgres.auto_migrate", false, "apply migrations on serve")

	fs.String("jwt.signing_method", "ed25519", "ed25519 or hs256")
	fs.String("jwt.private_key_file", "", "PEM private key (ed25519) or raw secret (hs256)")
	fs.String("jwt.public_key_file", "", "PEM public key (ed25519)")
	fs.String("jwt.issuer", "goidentity", "token issuer")
	fs.Duration("jwt.access_ttl", 5*time.Minute, "access token lifetime")

	fs.String("notify.mode", "log", "notification dispatcher (log or stream)")
	fs.String("notify.stream", "goidentity:notifications", "Redis stream for notifications")
	fs.Int64("notify.max_len", 10000, "approximate stream length cap")
	fs.Bool("notify.relay", false, "drain the stream into the log in-process")

	fs.Bool("audit.enabled", false, "emit audit events")
	fs.String("audit.sink", "slog", "audit sink (slog or json)")

	fs.Bool("require_confirmation", false, "require email confirmation before login")
}

// loadConfig layers the YAML file named by --config over the flag defaults,
// then flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (appConfig, error) {
	k := koanf.New(".")

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return appConfig{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
		return appConfig{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}

	var cfg appConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return appConfig{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

// engineConfig builds the library configuration, reading key material from
// disk.
func (c appConfig) engineConfig() (goIdentity.Config, error) {
	cfg := goIdentity.DefaultConfig()

	cfg.JWT.SigningMethod = c.JWT.SigningMethod
	cfg.JWT.Issuer = c.JWT.Issuer
	if c.JWT.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.JWT.AccessTTL
	}

	if c.JWT.PrivateKeyFile == "" {
		return goIdentity.Config{}, oops.Code("CONFIG_INVALID").Errorf("jwt.private_key_file is required")
	}
	priv, err := os.ReadFile(c.JWT.PrivateKeyFile)
	if err != nil {
		return goIdentity.Config{}, oops.Code("CONFIG_INVALID").With("path", c.JWT.PrivateKeyFile).Wrap(err)
	}
	cfg.JWT.PrivateKey = priv

	if c.JWT.PublicKeyFile != "" {
		pub, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return goIdentity.Config{}, oops.Code("CONFIG_INVALID").With("path", c.JWT.PublicKeyFile).Wrap(err)
		}
		cfg.JWT.PublicKey = pub
	}

	cfg.Registration.RequireConfirmation = c.RequireConfirmation
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled

	if err := cfg.Validate(); err != nil {
		return goIdentity.Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}
