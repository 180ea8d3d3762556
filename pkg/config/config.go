// Package config loads server configuration from an optional .env file,
// TENANT_* environment variables and an optional YAML file.
//
// Nested keys map to environment variables by upper-casing and replacing
// dots with underscores: db.maxOpenConns is TENANT_DB_MAXOPENCONNS.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tenantunion/tenant-platform/pkg/authz"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "TENANT"

// Config is the tenant-server configuration.
type Config struct {
	Listen      string            `mapstructure:"listen"`
	LogLevel    string            `mapstructure:"logLevel"`
	DB          DBConfig          `mapstructure:"db"`
	Store       StoreConfig       `mapstructure:"store"`
	Superusers  string            `mapstructure:"superusers"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
	LookupCache LookupCacheConfig `mapstructure:"lookupCache"`
	Guard       GuardConfig       `mapstructure:"guard"`
}

type DBConfig struct {
	Type            string        `mapstructure:"type"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	MigrateMode     string        `mapstructure:"migrateMode"`
}

type StoreConfig struct {
	OpTimeout time.Duration `mapstructure:"opTimeout"`
}

type IdentityConfig struct {
	Mode          string `mapstructure:"mode"`
	HMACSecret    string `mapstructure:"hmacSecret"`
	PublicKeyPath string `mapstructure:"publicKeyPath"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// SweeperConfig controls expired-grant cleanup. A zero interval disables it.
type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Grace    time.Duration `mapstructure:"grace"`
}

type LookupCacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// GuardConfig overrides route requirements by route name, e.g.
// issues.get: "manage_issues".
type GuardConfig struct {
	Routes map[string]string `mapstructure:"routes"`
}

// SuperuserEmails returns the normalized superuser allowlist.
func (c *Config) SuperuserEmails() []string {
	return authz.ParseEmailList(c.Superusers)
}

// Validate checks enumerations and mode-dependent requirements.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Type {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("db.type %q must be postgres, mysql or sqlite", c.DB.Type))
	}
	switch c.DB.MigrateMode {
	case "auto", "sql", "none":
	default:
		errs = append(errs, fmt.Errorf("db.migrateMode %q must be auto, sql or none", c.DB.MigrateMode))
	}
	if c.DB.MigrateMode == "sql" && c.DB.Type != "postgres" {
		errs = append(errs, errors.New("db.migrateMode sql requires db.type postgres"))
	}

	switch authz.IdentityMode(c.Identity.Mode) {
	case authz.IdentityModeJWT:
		if c.Identity.HMACSecret == "" && c.Identity.PublicKeyPath == "" {
			errs = append(errs, errors.New("identity.mode jwt requires identity.hmacSecret or identity.publicKeyPath"))
		}
	case authz.IdentityModeTrustedProxy:
	default:
		errs = append(errs, fmt.Errorf("identity.mode %q must be jwt or trusted-proxy", c.Identity.Mode))
	}

	if c.Store.OpTimeout <= 0 {
		errs = append(errs, errors.New("store.opTimeout must be positive"))
	}
	if c.LookupCache.Size < 0 {
		errs = append(errs, errors.New("lookupCache.size must not be negative"))
	}
	if c.Sweeper.Interval < 0 || c.Sweeper.Grace < 0 {
		errs = append(errs, errors.New("sweeper durations must not be negative"))
	}
	return errors.Join(errs...)
}

// Options locates the optional files the loader reads.
type Options struct {
	// ConfigFile is a YAML file. Empty means environment only.
	ConfigFile string
	// EnvFile is loaded into the process environment once, without
	// overriding variables that are already set. Defaults to ".env".
	EnvFile string
}

// Loader reads configuration and can re-read it at runtime.
type Loader struct {
	opts Options
}

// NewLoader loads the .env file, if present, and returns a Loader.
func NewLoader(opts Options) (*Loader, error) {
	if opts.EnvFile == "" {
		opts.EnvFile = ".env"
	}
	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
	}
	return &Loader{opts: opts}, nil
}

// Load builds a fresh Config from defaults, the config file and the environment.
func (l *Loader) Load() (*Config, error) {
	v := newViper()
	if l.opts.ConfigFile != "" {
		v.SetConfigFile(l.opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SuperuserSource re-reads the allowlist on every call.
func (l *Loader) SuperuserSource() authz.SuperuserSource {
	return func() ([]string, error) {
		cfg, err := l.Load()
		if err != nil {
			return nil, err
		}
		return cfg.SuperuserEmails(), nil
	}
}

// Load is shorthand for NewLoader(opts) followed by Load.
func Load(opts Options) (*Config, *Loader, error) {
	l, err := NewLoader(opts)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := l.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("logLevel", "info")
	v.SetDefault("db.type", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.maxOpenConns", 20)
	v.SetDefault("db.maxIdleConns", 5)
	v.SetDefault("db.connMaxLifetime", 30*time.Minute)
	v.SetDefault("db.migrateMode", "auto")
	v.SetDefault("store.opTimeout", 5*time.Second)
	v.SetDefault("superusers", "")
	v.SetDefault("identity.mode", string(authz.IdentityModeJWT))
	v.SetDefault("identity.hmacSecret", "")
	v.SetDefault("identity.publicKeyPath", "")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.audience", "")
	v.SetDefault("cors.allowedOrigins", []string{})
	v.SetDefault("sweeper.interval", time.Hour)
	v.SetDefault("sweeper.grace", 24*time.Hour)
	v.SetDefault("lookupCache.size", 1024)
	v.SetDefault("lookupCache.ttl", 5*time.Minute)
	v.SetDefault("guard.routes", map[string]string{})
	return v
}
