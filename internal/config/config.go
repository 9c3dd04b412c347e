package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName          = "NPDBank"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultRealtimePort     = "8090"
	defaultHealthPort       = "9999"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultResponseTimeout  = 30 * time.Second
	defaultResponseTTL      = 60 * time.Second
	defaultPollInterval     = 100 * time.Millisecond
	defaultSessionTTL       = 24 * time.Hour
	defaultPresenceTTL      = 60 * time.Second
	defaultPresenceRefresh  = 20 * time.Second
	defaultConsumerPrefetch = 5
	defaultLoginRateLimit   = 5
)

// Dependency names an external service a process role needs a URL for.
type Dependency string

const (
	Postgres Dependency = "DATABASE_URL"
	Redis    Dependency = "REDIS_URL"
	RabbitMQ Dependency = "RABBITMQ_URL"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	RealtimePort   string
	HealthPort     string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	RabbitMQURL    string
	AdminSecret    string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// ResponseTimeout bounds how long the gateway waits for a correlated response.
	ResponseTimeout time.Duration
	// ResponseTTL is how long an unread response record survives in the cache.
	ResponseTTL  time.Duration
	PollInterval time.Duration

	SessionTTL      time.Duration
	PresenceTTL     time.Duration
	PresenceRefresh time.Duration

	ConsumerPrefetch int
	LoginRateLimit   int
}

// Load reads configuration values from the environment and populates a Config instance.
// It does not check that service URLs are present; callers use Require for that.
func Load() (Config, error) {
	cfg := Config{
		AppName:      getEnv("APP_NAME", defaultAppName),
		AppEnv:       getEnv("APP_ENV", defaultAppEnv),
		Port:         getEnv("PORT", defaultPort),
		RealtimePort: getEnv("REALTIME_PORT", defaultRealtimePort),
		HealthPort:   getEnv("HEALTH_PORT", defaultHealthPort),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:  os.Getenv(string(Postgres)),
		RedisURL:     os.Getenv(string(Redis)),
		RabbitMQURL:  os.Getenv(string(RabbitMQ)),
		AdminSecret:  os.Getenv("ADMIN_SECRET"),
	}

	durations := []struct {
		name     string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", defaultShutdownDelay, &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL", defaultIdempotencyTTL, &cfg.IdempotencyTTL},
		{"RESPONSE_TIMEOUT", defaultResponseTimeout, &cfg.ResponseTimeout},
		{"RESPONSE_TTL", defaultResponseTTL, &cfg.ResponseTTL},
		{"RESPONSE_POLL_INTERVAL", defaultPollInterval, &cfg.PollInterval},
		{"SESSION_TTL", defaultSessionTTL, &cfg.SessionTTL},
		{"PRESENCE_TTL", defaultPresenceTTL, &cfg.PresenceTTL},
		{"PRESENCE_REFRESH", defaultPresenceRefresh, &cfg.PresenceRefresh},
	}
	for _, d := range durations {
		v, err := durationEnv(d.name, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	var err error
	if cfg.ConsumerPrefetch, err = intEnv("CONSUMER_PREFETCH", defaultConsumerPrefetch); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit, err = intEnv("LOGIN_RATE_LIMIT", defaultLoginRateLimit); err != nil {
		return Config{}, err
	}

	if cfg.PresenceRefresh >= cfg.PresenceTTL {
		return Config{}, fmt.Errorf("PRESENCE_REFRESH (%s) must be shorter than PRESENCE_TTL (%s)", cfg.PresenceRefresh, cfg.PresenceTTL)
	}
	if cfg.PollInterval <= 0 || cfg.PollInterval >= cfg.ResponseTimeout {
		return Config{}, fmt.Errorf("RESPONSE_POLL_INTERVAL (%s) must be positive and shorter than RESPONSE_TIMEOUT", cfg.PollInterval)
	}

	return cfg, nil
}

// Require verifies that the URLs for the given dependencies are set.
func (c Config) Require(deps ...Dependency) error {
	for _, dep := range deps {
		var value string
		switch dep {
		case Postgres:
			value = c.DatabaseURL
		case Redis:
			value = c.RedisURL
		case RabbitMQ:
			value = c.RabbitMQURL
		}
		if value == "" {
			return fmt.Errorf("%s must be set", dep)
		}
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	return listenAddress(c.Port)
}

// RealtimeAddress returns the listen address of the websocket server.
func (c Config) RealtimeAddress() string {
	return listenAddress(c.RealtimePort)
}

// HealthAddress returns the listen address of a worker's health server.
func (c Config) HealthAddress() string {
	return listenAddress(c.HealthPort)
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func listenAddress(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// durationEnv reads NAME_SECONDS as an integer number of seconds, falling back
// to NAME as a Go duration string.
func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	secondsKey := name + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
