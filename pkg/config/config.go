package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-gateway/pkg/gate"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
)

// Config holds all configuration for the BI gateway.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"15s"`

	Auth          AuthConfig          `yaml:"auth"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Guardrails    GuardrailsConfig    `yaml:"guardrails"`
	Cache         CacheConfig         `yaml:"cache"`
	Gate          GateConfig          `yaml:"gate"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Observability ObservabilityConfig `yaml:"observability"`

	// AuditSecret keys the HMAC chain over query log entries.
	AuditSecret string `yaml:"-" env:"BI_AUDIT_SECRET"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without an identity provider.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// Audience tokens must carry.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:"bi-gateway"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User            string        `yaml:"user" env:"PGUSER" env-default:"bi_gateway"`
	Password        string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database        string        `yaml:"database" env:"PGDATABASE" env-default:"analytics"`
	MaxConnections  int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns    int32         `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	SSLMode         string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	RunMigrations   bool          `yaml:"run_migrations" env:"PG_RUN_MIGRATIONS" env-default:"true"`
}

// RedisConfig holds the optional shared store. An empty host disables Redis:
// counters, the pivot cache and gate verdicts then stay in-process.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Enabled reports whether a Redis host is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns host:port, resolved for Docker when needed.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}

// GuardrailsConfig mirrors guard.Config. Zero values take the guard defaults.
type GuardrailsConfig struct {
	StatementTimeout     time.Duration `yaml:"statement_timeout" env:"BI_STATEMENT_TIMEOUT" env-default:"30s"`
	MaxRowsUI            int           `yaml:"max_rows_ui" env:"BI_MAX_ROWS_UI" env-default:"10000"`
	MaxRowsExport        int           `yaml:"max_rows_export" env:"BI_MAX_ROWS_EXPORT" env-default:"100000"`
	MaxEstimatedCost     float64       `yaml:"max_estimated_cost" env:"BI_MAX_ESTIMATED_COST" env-default:"100000"`
	MaxConcurrentPerUser int           `yaml:"max_concurrent_per_user" env:"BI_MAX_CONCURRENT_PER_USER" env-default:"2"`
	MaxConcurrentPerOrg  int           `yaml:"max_concurrent_per_org" env:"BI_MAX_CONCURRENT_PER_ORG" env-default:"5"`
	MaxPivotRows         int           `yaml:"max_pivot_rows" env:"BI_MAX_PIVOT_ROWS" env-default:"500"`
	MaxPivotColumns      int           `yaml:"max_pivot_columns" env:"BI_MAX_PIVOT_COLUMNS" env-default:"50"`
	MaxPivotCells        int           `yaml:"max_pivot_cells" env:"BI_MAX_PIVOT_CELLS" env-default:"25000"`
	SlotExpiryBuffer     time.Duration `yaml:"slot_expiry_buffer" env:"BI_SLOT_EXPIRY_BUFFER" env-default:"5s"`
}

// ToGuard builds the guardrails the executor and limiter enforce.
func (g GuardrailsConfig) ToGuard() guard.Config {
	return guard.NewConfig(guard.Config{
		StatementTimeout:     g.StatementTimeout,
		MaxRowsUI:            g.MaxRowsUI,
		MaxRowsExport:        g.MaxRowsExport,
		MaxEstimatedCost:     g.MaxEstimatedCost,
		MaxConcurrentPerUser: g.MaxConcurrentPerUser,
		MaxConcurrentPerOrg:  g.MaxConcurrentPerOrg,
		MaxPivotRows:         g.MaxPivotRows,
		MaxPivotColumns:      g.MaxPivotColumns,
		MaxPivotCells:        g.MaxPivotCells,
		SlotExpiryBuffer:     g.SlotExpiryBuffer,
	})
}

// CacheConfig controls the pivot result cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" env:"BI_CACHE_ENABLED" env-default:"true"`
	TTL        time.Duration `yaml:"ttl" env:"BI_CACHE_TTL" env-default:"5m"`
	MaxEntries int           `yaml:"max_entries" env:"BI_CACHE_MAX_ENTRIES" env-default:"500"`
}

// GateConfig controls the workbench readiness gate.
type GateConfig struct {
	Enabled     bool          `yaml:"enabled" env:"BI_GATE_ENABLED" env-default:"true"`
	TTL         time.Duration `yaml:"ttl" env:"BI_GATE_TTL" env-default:"1m"`
	NegativeTTL time.Duration `yaml:"negative_ttl" env:"BI_GATE_NEGATIVE_TTL" env-default:"15s"`
}

// ToGate converts the TTLs for gate.New.
func (g GateConfig) ToGate() gate.Config {
	return gate.Config{TTL: g.TTL, NegativeTTL: g.NegativeTTL}
}

// CatalogConfig points at the dataset catalog. An empty path uses the
// catalog compiled into the binary.
type CatalogConfig struct {
	Path string `yaml:"path" env:"BI_CATALOG_PATH" env-default:""`
}

// ObservabilityConfig toggles Prometheus metrics and SQL instrumentation.
type ObservabilityConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled" env:"METRICS_ENABLED" env-default:"true"`
	SQLInstrument  bool `yaml:"sql_instrumentation" env:"SQL_INSTRUMENTATION" env-default:"false"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; environment and defaults apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load for an explicit path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.parseComplexFields()

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if cfg.Auth.EnableVerification && len(cfg.Auth.JWKSEndpoints) == 0 {
		return nil, fmt.Errorf("auth verification is enabled but no jwks_endpoints are configured")
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// IsLocal reports whether the gateway runs in a developer environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == "dev"
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2". The URL may itself contain '='.
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		issuer, jwksURL = strings.TrimSpace(issuer), strings.TrimSpace(jwksURL)
		if issuer != "" && jwksURL != "" {
			endpoints[issuer] = jwksURL
		}
	}
	return endpoints
}

// URL returns a PostgreSQL connection URL for pgx and golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps a loopback host to host.docker.internal when
// running inside a container, so a gateway container can reach Postgres
// or Redis on the host. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
