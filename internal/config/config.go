// Package config builds the single Config value the service is started with.
// Sources, lowest precedence first: defaults, an optional YAML file, then the
// process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileEnv names the environment variable that points at a YAML config file.
const FileEnv = "CSEBU_CONFIG"

type Config struct {
	Port          string        `mapstructure:"port"`
	Env           string        `mapstructure:"env"`
	DatabaseURL   string        `mapstructure:"database_url"`
	DB            DBConfig      `mapstructure:"db"`
	AppOrigin     string        `mapstructure:"app_origin"`
	ServerOrigin  string        `mapstructure:"server_origin"`
	ClientOrigins []string      `mapstructure:"client_origins"`
	JWT           JWTConfig     `mapstructure:"jwt"`
	Gateway       GatewayConfig `mapstructure:"gateway"`
	Admin         AdminConfig   `mapstructure:"admin"`
	HTTP          HTTPConfig    `mapstructure:"http"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// GatewayConfig carries the SSLCommerz merchant account. An empty StoreID
// disables online payments.
type GatewayConfig struct {
	StoreID       string        `mapstructure:"store_id"`
	StorePassword string        `mapstructure:"store_password"`
	Live          bool          `mapstructure:"live"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	// Budget caps one whole gateway exchange, retries included.
	Budget time.Duration `mapstructure:"budget"`
}

type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// DBConfig sizes the Postgres connection pool.
type DBConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	AuthRateBurst   int           `mapstructure:"auth_rate_burst"`
	AuthRatePerSec  float64       `mapstructure:"auth_rate_per_sec"`
	// TrustedProxies lists CIDRs whose forwarding headers name the client.
	// Empty means the socket peer is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// env maps config keys to the environment variables that override them.
var env = map[string]string{
	"port":                   "PORT",
	"env":                    "APP_ENV",
	"database_url":           "DATABASE_URL",
	"db.max_open_conns":      "DB_MAX_OPEN_CONNS",
	"db.max_idle_conns":      "DB_MAX_IDLE_CONNS",
	"app_origin":             "APP_ORIGIN",
	"server_origin":          "SERVER_ORIGIN",
	"client_origins":         "CLIENT_ORIGIN",
	"jwt.secret":             "JWT_SECRET",
	"jwt.issuer":             "JWT_ISSUER",
	"gateway.store_id":       "SSL_STORE_ID",
	"gateway.store_password": "SSL_STORE_PASSWD",
	"gateway.live":           "SSL_IS_LIVE",
	"gateway.timeout":        "SSL_TIMEOUT",
	"gateway.retries":        "SSL_RETRIES",
	"gateway.budget":         "SSL_BUDGET",
	"admin.email":            "ADMIN_EMAIL",
	"admin.password":         "ADMIN_PASSWORD",
	"admin.name":             "ADMIN_NAME",
	"http.trusted_proxies":   "TRUSTED_PROXIES",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("app_origin", "http://localhost:3000")
	v.SetDefault("server_origin", "http://localhost:8080")
	v.SetDefault("client_origins", []string{"http://localhost:3000"})
	v.SetDefault("jwt.issuer", "csebu")
	v.SetDefault("gateway.timeout", 6*time.Second)
	v.SetDefault("gateway.retries", 3)
	v.SetDefault("gateway.budget", 20*time.Second)
	v.SetDefault("admin.name", "Site Admin")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 15*time.Minute)
	v.SetDefault("db.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.auth_rate_burst", 10)
	v.SetDefault("http.auth_rate_per_sec", 1.0)
}

// Load reads configuration. path may be empty, in which case CSEBU_CONFIG is
// consulted; with neither set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ClientOrigins = splitOrigins(cfg.ClientOrigins)
	cfg.HTTP.TrustedProxies = splitList(cfg.HTTP.TrustedProxies)
	cfg.AppOrigin = strings.TrimRight(cfg.AppOrigin, "/")
	cfg.ServerOrigin = strings.TrimRight(cfg.ServerOrigin, "/")
	return &cfg, nil
}

// splitList flattens comma lists and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, v := range strings.Split(item, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func splitOrigins(in []string) []string {
	var out []string
	for _, o := range splitList(in) {
		if o = strings.TrimRight(o, "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Gateway.StoreID != "" && c.Gateway.StorePassword == "" {
		errs = append(errs, errors.New("SSL_STORE_PASSWD is required when SSL_STORE_ID is set"))
	}
	errs = append(errs, c.validateGatewayDeadlines()...)
	return errors.Join(errs...)
}

// validateGatewayDeadlines keeps gateway calls inside the response write
// deadline, so callbacks can always answer with a redirect.
func (c *Config) validateGatewayDeadlines() []error {
	write := c.HTTP.WriteTimeout
	if write <= 0 {
		return nil
	}
	var errs []error
	if c.Gateway.Budget >= write {
		errs = append(errs, fmt.Errorf("SSL_BUDGET (%s) must be below the http write timeout (%s)", c.Gateway.Budget, write))
	}
	retries := c.Gateway.Retries
	if retries < 1 {
		retries = 1
	}
	if total := c.Gateway.Timeout * time.Duration(retries); total >= write {
		errs = append(errs, fmt.Errorf("SSL_TIMEOUT x SSL_RETRIES (%s) must be below the http write timeout (%s)", total, write))
	}
	return errs
}

// Production reports whether cookies must be marked Secure.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// PaymentsEnabled reports whether gateway credentials are configured.
func (c *Config) PaymentsEnabled() bool {
	return c.Gateway.StoreID != ""
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
