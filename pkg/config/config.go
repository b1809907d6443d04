package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "UCP"

const (
	EnvAgentProfileURL  = "UCP_AGENT_PROFILE_URL"
	EnvAgentProfilePath = "UCP_AGENT_PROFILE_PATH"
	EnvHTTPTimeout      = "UCP_HTTP_TIMEOUT"
	EnvBreakerEnabled   = "UCP_HTTP_BREAKER_ENABLED"
	EnvCacheMaxEntries  = "UCP_CACHE_MAX_ENTRIES"
	EnvCacheTTL         = "UCP_CACHE_TTL"
	EnvRedisURL         = "UCP_REDIS_URL"
	EnvRedisCacheTTL    = "UCP_REDIS_CACHE_TTL"
	EnvLogLevel         = "UCP_LOG_LEVEL"
	EnvLogFormat        = "UCP_LOG_FORMAT"
)

type Config struct {
	Agent AgentConfig
	HTTP  HTTPConfig
	Cache CacheConfig
	Redis RedisConfig
	Log   LogConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Agent.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AgentConfig struct {
	ProfileURL  string `envconfig:"UCP_AGENT_PROFILE_URL" required:"true"`
	ProfilePath string `envconfig:"UCP_AGENT_PROFILE_PATH"`
	Name        string `envconfig:"UCP_AGENT_NAME" default:"ucpctl"`
}

type HTTPConfig struct {
	Timeout            time.Duration `envconfig:"UCP_HTTP_TIMEOUT" default:"30s"`
	BreakerEnabled     bool          `envconfig:"UCP_HTTP_BREAKER_ENABLED" default:"false"`
	BreakerFailures    uint32        `envconfig:"UCP_HTTP_BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"UCP_HTTP_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// CacheConfig bounds the in-process merchant profile cache. A zero TTL keeps
// entries until they are evicted by size.
type CacheConfig struct {
	MaxEntries int           `envconfig:"UCP_CACHE_MAX_ENTRIES" default:"256"`
	TTL        time.Duration `envconfig:"UCP_CACHE_TTL" default:"0s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"UCP_REDIS_URL"`
	Address      string        `envconfig:"UCP_REDIS_ADDR"`
	Password     string        `envconfig:"UCP_REDIS_PASSWORD"`
	DB           int           `envconfig:"UCP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"UCP_REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"UCP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"UCP_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"UCP_REDIS_WRITE_TIMEOUT" default:"3s"`
	CacheTTL     time.Duration `envconfig:"UCP_REDIS_CACHE_TTL" default:"1h"`
}

// Enabled reports whether a shared Redis profile cache was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type LogConfig struct {
	Level     string `envconfig:"UCP_LOG_LEVEL" default:"info"`
	Format    string `envconfig:"UCP_LOG_FORMAT" default:"json"`
	WarnStack bool   `envconfig:"UCP_LOG_WARN_STACK" default:"false"`
}

func (a AgentConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(a.ProfileURL))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvAgentProfileURL, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", EnvAgentProfileURL)
	}
	return nil
}
