package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/viper"

	"github.com/cohort/cohort/internal/platform/dialect"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	AuthMode            string        `mapstructure:"AUTH_MODE"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	ClinicalDatabaseURL string        `mapstructure:"CLINICAL_DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	SQLDialect          string        `mapstructure:"SQL_DIALECT"`
	FieldPersonID       string        `mapstructure:"FIELD_PERSON_ID"`
	FieldEncounterID    string        `mapstructure:"FIELD_ENCOUNTER_ID"`
	AliasPlaceholder    string        `mapstructure:"ALIAS_PLACEHOLDER"`
	AppDB               string        `mapstructure:"APP_DB"`
	CohortTable         string        `mapstructure:"COHORT_TABLE"`
	QueryTimeout        time.Duration `mapstructure:"QUERY_TIMEOUT"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL         string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "CLINICAL_DATABASE_URL",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "SQL_DIALECT", "FIELD_PERSON_ID",
	"FIELD_ENCOUNTER_ID", "ALIAS_PLACEHOLDER", "APP_DB",
	"COHORT_TABLE", "QUERY_TIMEOUT", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads the server configuration. DATABASE_URL is required.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ResolvedAuthMode() == "development" {
		log.Println("WARNING: development auth is active; requests without a token get admin access.")
	}
	return cfg, nil
}

// LoadOffline reads the configuration for commands that only compile and
// never connect to a database.
func LoadOffline() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQL_DIALECT", "postgres")
	v.SetDefault("FIELD_PERSON_ID", "person_id")
	v.SetDefault("FIELD_ENCOUNTER_ID", "visit_occurrence_id")
	v.SetDefault("ALIAS_PLACEHOLDER", "@")
	v.SetDefault("COHORT_TABLE", "app.cohort")
	v.SetDefault("QUERY_TIMEOUT", "5m")
	v.SetDefault("REQUEST_TIMEOUT", "10m")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 1)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.ClinicalDatabaseURL == "" {
		cfg.ClinicalDatabaseURL = cfg.DatabaseURL
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE, or "development" under ENV=development
// and "external" otherwise.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Dialect returns the SQL dialect queries are compiled to.
func (c *Config) Dialect() (dialect.Dialect, error) {
	return dialect.ForName(c.SQLDialect)
}

// ExecutionEnabled reports whether compiled SQL can run on the clinical
// database. Only PostgreSQL clinical databases are reachable through pgx.
func (c *Config) ExecutionEnabled() bool {
	d, err := c.Dialect()
	return err == nil && d.Name() == "postgres"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if _, err := c.Dialect(); err != nil {
		return fmt.Errorf("SQL_DIALECT: %w", err)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case "external":
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf(
				"one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
		if c.IsProduction() && c.AuthSigningKey != "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is for development only; set AUTH_JWKS_URL in production")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.QueryTimeout < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("QUERY_TIMEOUT and REQUEST_TIMEOUT must not be negative")
	}

	// Counted cohorts are written through DATABASE_URL and joined by dataset
	// extracts through CLINICAL_DATABASE_URL, so both must reach one database.
	// A separate read-only role on that database is fine.
	if c.ExecutionEnabled() && c.ClinicalDatabaseURL != "" && c.ClinicalDatabaseURL != c.DatabaseURL {
		same, err := sameDatabase(c.DatabaseURL, c.ClinicalDatabaseURL)
		if err != nil {
			return err
		}
		if !same {
			return fmt.Errorf("CLINICAL_DATABASE_URL must point at the DATABASE_URL database when queries are executed, "+
				"since dataset extracts read %s through it", c.CohortTable)
		}
	}
	return nil
}

// sameDatabase reports whether two connection strings name the same host,
// port and database. Credentials may differ.
func sameDatabase(a, b string) (bool, error) {
	ca, err := pgconn.ParseConfig(a)
	if err != nil {
		return false, fmt.Errorf("DATABASE_URL: %w", err)
	}
	cb, err := pgconn.ParseConfig(b)
	if err != nil {
		return false, fmt.Errorf("CLINICAL_DATABASE_URL: %w", err)
	}
	return ca.Host == cb.Host && ca.Port == cb.Port && ca.Database == cb.Database, nil
}
