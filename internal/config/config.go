// Package config loads broker configuration from an optional YAML file
// and environment variables, environment values taking precedence over
// the file — the same override pattern the teacher's
// cmd/server/main.go applies with getEnvInt/getEnvString/getEnvBool.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TCPConfig mirrors spec.md §6's tcp.* keys.
type TCPConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	MaxConnections      int           `yaml:"maxConnections"`
	MaxConnectionsPerIP int           `yaml:"maxConnectionsPerIp"`
	MaxFrameSize        int           `yaml:"maxFrameSize"`
	PingInterval        time.Duration `yaml:"pingInterval"`
	PingTimeout         time.Duration `yaml:"pingTimeout"`
	// KeepAliveInterval is loaded from file/env but not passed to the TCP
	// server; accepted sockets use PingInterval as their OS keepalive period.
	KeepAliveInterval   time.Duration `yaml:"keepAliveInterval"`
	DrainTimeout        time.Duration `yaml:"drainTimeout"`
}

// PubSubConfig mirrors spec.md §6's pubsub.* keys.
type PubSubConfig struct {
	Adapter          string `yaml:"adapter"` // "memory" | "redis"
	MemoryMaxMessages int   `yaml:"memoryMaxMessages"`
	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	RedisDB          int    `yaml:"redisDb"`
}

// HTTPConfig covers the HTTP+GraphQL front door (supplemented feature,
// SPEC_FULL.md §10): CORS, TLS, HTTP/3, health/metrics.
type HTTPConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Port          int    `yaml:"port"`
	HealthPort    int    `yaml:"healthPort"`
	TLSEnabled    bool   `yaml:"tlsEnabled"`
	TLSCertFile   string `yaml:"tlsCertFile"`
	TLSKeyFile    string `yaml:"tlsKeyFile"`
	HTTP3Enabled  bool   `yaml:"http3Enabled"`
	DualStack     bool   `yaml:"dualStack"`
	CORSEnabled   bool   `yaml:"corsEnabled"`
	CORSOrigins   string `yaml:"corsOrigins"`
	CORSMethods   string `yaml:"corsMethods"`
	CORSHeaders   string `yaml:"corsHeaders"`
	EnableMetrics bool   `yaml:"enableMetrics"`
	EnableHealth  bool   `yaml:"enableHealth"`
}

// AuthConfig covers JWT verification and the dev-mode token issuer.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// PersistenceConfig selects the repository backend.
type PersistenceConfig struct {
	Driver      string `yaml:"driver"` // "memory" | "postgres"
	PostgresDSN string `yaml:"postgresDsn"`
}

// ObservabilityConfig covers logging/tracing knobs.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"logLevel"`
	Development   bool   `yaml:"development"`
	EnableTracing bool   `yaml:"enableTracing"`
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
}

// Config is the root configuration object for the broker.
type Config struct {
	TCP           TCPConfig           `yaml:"tcp"`
	PubSub        PubSubConfig        `yaml:"pubsub"`
	HTTP          HTTPConfig          `yaml:"http"`
	Auth          AuthConfig          `yaml:"auth"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Default returns the configuration with the teacher-style defaults
// baked in — every field has a sane standalone value before env/file
// overrides are applied.
func Default() Config {
	return Config{
		TCP: TCPConfig{
			Enabled:             true,
			Host:                "0.0.0.0",
			Port:                7711,
			MaxConnections:      10000,
			MaxConnectionsPerIP: 50,
			MaxFrameSize:        1 << 20,
			PingInterval:        30 * time.Second,
			PingTimeout:         60 * time.Second,
			KeepAliveInterval:   30 * time.Second,
			DrainTimeout:        10 * time.Second,
		},
		PubSub: PubSubConfig{
			Adapter:           "memory",
			MemoryMaxMessages: 0,
			RedisAddr:         "localhost:6379",
			RedisDB:           0,
		},
		HTTP: HTTPConfig{
			Enabled:       true,
			Port:          8080,
			HealthPort:    8081,
			CORSEnabled:   false,
			CORSOrigins:   "*",
			CORSMethods:   "GET,POST,OPTIONS",
			CORSHeaders:   "Content-Type,Authorization",
			EnableMetrics: true,
			EnableHealth:  true,
		},
		Auth: AuthConfig{
			JWTIssuer: "rtmsg-broker",
		},
		Persistence: PersistenceConfig{
			Driver: "memory",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

// LoadFile reads a YAML config file into a copy of base, returning base
// unchanged if path is empty (no file configured).
func LoadFile(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variable overrides on top of cfg,
// following the teacher's getEnvInt/getEnvString/getEnvBool pattern.
func ApplyEnv(cfg Config) Config {
	cfg.TCP.Enabled = getEnvBool("RTMSG_TCP_ENABLED", cfg.TCP.Enabled)
	cfg.TCP.Host = getEnvString("RTMSG_TCP_HOST", cfg.TCP.Host)
	cfg.TCP.Port = getEnvInt("RTMSG_TCP_PORT", cfg.TCP.Port)
	cfg.TCP.MaxConnections = getEnvInt("RTMSG_TCP_MAX_CONNECTIONS", cfg.TCP.MaxConnections)
	cfg.TCP.MaxConnectionsPerIP = getEnvInt("RTMSG_TCP_MAX_CONNECTIONS_PER_IP", cfg.TCP.MaxConnectionsPerIP)
	cfg.TCP.MaxFrameSize = getEnvInt("RTMSG_TCP_MAX_FRAME_SIZE", cfg.TCP.MaxFrameSize)
	cfg.TCP.PingInterval = getEnvDuration("RTMSG_TCP_PING_INTERVAL", cfg.TCP.PingInterval)
	cfg.TCP.PingTimeout = getEnvDuration("RTMSG_TCP_PING_TIMEOUT", cfg.TCP.PingTimeout)
	cfg.TCP.KeepAliveInterval = getEnvDuration("RTMSG_TCP_KEEPALIVE_INTERVAL", cfg.TCP.KeepAliveInterval)
	cfg.TCP.DrainTimeout = getEnvDuration("RTMSG_TCP_DRAIN_TIMEOUT", cfg.TCP.DrainTimeout)

	cfg.PubSub.Adapter = getEnvString("RTMSG_PUBSUB_ADAPTER", cfg.PubSub.Adapter)
	cfg.PubSub.MemoryMaxMessages = getEnvInt("RTMSG_PUBSUB_MEMORY_MAX_MESSAGES", cfg.PubSub.MemoryMaxMessages)
	cfg.PubSub.RedisAddr = getEnvString("RTMSG_PUBSUB_REDIS_ADDR", cfg.PubSub.RedisAddr)
	cfg.PubSub.RedisPassword = getEnvString("RTMSG_PUBSUB_REDIS_PASSWORD", cfg.PubSub.RedisPassword)
	cfg.PubSub.RedisDB = getEnvInt("RTMSG_PUBSUB_REDIS_DB", cfg.PubSub.RedisDB)

	cfg.HTTP.Enabled = getEnvBool("RTMSG_HTTP_ENABLED", cfg.HTTP.Enabled)
	cfg.HTTP.Port = getEnvInt("RTMSG_HTTP_PORT", cfg.HTTP.Port)
	cfg.HTTP.HealthPort = getEnvInt("RTMSG_HTTP_HEALTH_PORT", cfg.HTTP.HealthPort)
	cfg.HTTP.TLSEnabled = getEnvBool("RTMSG_HTTP_TLS_ENABLED", cfg.HTTP.TLSEnabled)
	cfg.HTTP.TLSCertFile = getEnvString("RTMSG_HTTP_TLS_CERT", cfg.HTTP.TLSCertFile)
	cfg.HTTP.TLSKeyFile = getEnvString("RTMSG_HTTP_TLS_KEY", cfg.HTTP.TLSKeyFile)
	cfg.HTTP.HTTP3Enabled = getEnvBool("RTMSG_HTTP_HTTP3_ENABLED", cfg.HTTP.HTTP3Enabled)
	cfg.HTTP.DualStack = getEnvBool("RTMSG_HTTP_DUAL_STACK", cfg.HTTP.DualStack)
	cfg.HTTP.CORSEnabled = getEnvBool("RTMSG_HTTP_CORS_ENABLED", cfg.HTTP.CORSEnabled)
	cfg.HTTP.CORSOrigins = getEnvString("RTMSG_HTTP_CORS_ORIGINS", cfg.HTTP.CORSOrigins)
	cfg.HTTP.CORSMethods = getEnvString("RTMSG_HTTP_CORS_METHODS", cfg.HTTP.CORSMethods)
	cfg.HTTP.CORSHeaders = getEnvString("RTMSG_HTTP_CORS_HEADERS", cfg.HTTP.CORSHeaders)
	cfg.HTTP.EnableMetrics = getEnvBool("RTMSG_HTTP_ENABLE_METRICS", cfg.HTTP.EnableMetrics)
	cfg.HTTP.EnableHealth = getEnvBool("RTMSG_HTTP_ENABLE_HEALTH", cfg.HTTP.EnableHealth)

	cfg.Auth.JWTSecret = getEnvString("RTMSG_AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTIssuer = getEnvString("RTMSG_AUTH_JWT_ISSUER", cfg.Auth.JWTIssuer)

	cfg.Persistence.Driver = getEnvString("RTMSG_PERSISTENCE_DRIVER", cfg.Persistence.Driver)
	cfg.Persistence.PostgresDSN = getEnvString("RTMSG_PERSISTENCE_POSTGRES_DSN", cfg.Persistence.PostgresDSN)

	cfg.Observability.LogLevel = getEnvString("RTMSG_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.Development = getEnvBool("RTMSG_LOG_DEVELOPMENT", cfg.Observability.Development)
	cfg.Observability.EnableTracing = getEnvBool("RTMSG_ENABLE_TRACING", cfg.Observability.EnableTracing)
	cfg.Observability.OTLPEndpoint = getEnvString("RTMSG_OTLP_ENDPOINT", cfg.Observability.OTLPEndpoint)

	return cfg
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Validate checks invariants that must hold before the broker starts.
func (c Config) Validate() error {
	if c.TCP.Enabled && c.TCP.Port <= 0 {
		return fmt.Errorf("tcp.port must be positive when tcp.enabled")
	}
	if c.PubSub.Adapter != "memory" && c.PubSub.Adapter != "redis" {
		return fmt.Errorf("pubsub.adapter must be \"memory\" or \"redis\", got %q", c.PubSub.Adapter)
	}
	if c.Persistence.Driver != "memory" && c.Persistence.Driver != "postgres" {
		return fmt.Errorf("persistence.driver must be \"memory\" or \"postgres\", got %q", c.Persistence.Driver)
	}
	if c.Persistence.Driver == "postgres" && c.Persistence.PostgresDSN == "" {
		return fmt.Errorf("persistence.postgresDsn is required when persistence.driver is \"postgres\"")
	}
	if c.HTTP.HTTP3Enabled && !c.HTTP.TLSEnabled {
		return fmt.Errorf("http.http3Enabled requires http.tlsEnabled")
	}
	if c.HTTP.DualStack && !c.HTTP.TLSEnabled {
		return fmt.Errorf("http.dualStack requires http.tlsEnabled")
	}
	return nil
}
