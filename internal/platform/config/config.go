package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"

	liststrings "moltens/pkg/platform/strings"
)

// Server captures process-level configuration.
type Server struct {
	Addr     string `env:"MOLTENS_ADDR" envDefault:":8080"`
	LogLevel string `env:"MOLTENS_LOG_LEVEL" envDefault:"info"`

	Claim    ClaimConfig
	Voucher  VoucherConfig
	Oracle   OracleConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// ClaimConfig controls naming, reference tokens and pending request lifetime.
type ClaimConfig struct {
	ParentDomain    string        `env:"MOLTENS_PARENT_DOMAIN" envDefault:"moltbook.eth"`
	ProtocolTag     string        `env:"MOLTENS_PROTOCOL_TAG" envDefault:"#MoltENS"`
	TokenPrefix     string        `env:"MOLTENS_TOKEN_PREFIX" envDefault:"MOLT"`
	PendingTTL      time.Duration `env:"MOLTENS_PENDING_TTL" envDefault:"30m"`
	RegistrationFee string        `env:"MOLTENS_REGISTRATION_FEE" envDefault:"0.005"`
}

// VoucherConfig holds the on-chain binding for issued vouchers.
type VoucherConfig struct {
	TTL        time.Duration `env:"MOLTENS_VOUCHER_TTL" envDefault:"1h"`
	Contract   string        `env:"MOLTENS_CONTRACT" envDefault:"0x0000000000000000000000000000000000000000"`
	ChainID    uint64        `env:"CHAIN_ID" envDefault:"1"`
	SigningKey string        `env:"SIGNER_PRIVATE_KEY"`
	// AllowUnsigned serves placeholder vouchers when no key is set. Development only.
	AllowUnsigned bool `env:"MOLTENS_ALLOW_UNSIGNED" envDefault:"false"`
}

// ContractAddress returns the parsed registrar address.
func (v VoucherConfig) ContractAddress() common.Address {
	return common.HexToAddress(v.Contract)
}

// OracleConfig controls how Moltbook profiles are located and fetched.
type OracleConfig struct {
	// ProfileURLs are tried in order; {username} is replaced by the label.
	ProfileURLs  []string      `env:"MOLTENS_PROFILE_URLS" envSeparator:","`
	FetchTimeout time.Duration `env:"MOLTENS_ORACLE_FETCH_TIMEOUT" envDefault:"10s"`
	ProbeTimeout time.Duration `env:"MOLTENS_ORACLE_PROBE_TIMEOUT" envDefault:"5s"`
}

// RedisConfig selects the shared pending store. Empty URL keeps requests in memory.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PostgresConfig enables the durable audit store when URL is set.
type PostgresConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// KafkaConfig enables the audit event stream when brokers are set.
type KafkaConfig struct {
	Brokers []string `env:"AUDIT_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"AUDIT_KAFKA_TOPIC" envDefault:"moltens.audit"`
}

// Load parses the environment and validates the result.
func Load() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Oracle.ProfileURLs = liststrings.DedupeAndTrim(cfg.Oracle.ProfileURLs)
	cfg.Kafka.Brokers = liststrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Server) Validate() error {
	var errs []error
	if c.Claim.PendingTTL <= 0 {
		errs = append(errs, errors.New("MOLTENS_PENDING_TTL must be positive"))
	}
	if c.Voucher.TTL <= 0 {
		errs = append(errs, errors.New("MOLTENS_VOUCHER_TTL must be positive"))
	}
	if !common.IsHexAddress(c.Voucher.Contract) {
		errs = append(errs, fmt.Errorf("MOLTENS_CONTRACT %q is not an address", c.Voucher.Contract))
	}
	if strings.TrimSpace(c.Claim.ParentDomain) == "" {
		errs = append(errs, errors.New("MOLTENS_PARENT_DOMAIN is required"))
	}
	for _, tmpl := range c.Oracle.ProfileURLs {
		if !strings.Contains(tmpl, "{username}") {
			errs = append(errs, fmt.Errorf("profile URL %q must contain {username}", tmpl))
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("AUDIT_KAFKA_TOPIC is required when brokers are set"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug/info/warn/error onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("MOLTENS_LOG_LEVEL: %w", err)
	}
	return level, nil
}
