package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/snackychef/auth-service/internal/util"
)

// Config holds the full runtime configuration of the auth service.
// Everything is sourced from the environment (optionally seeded from a
// .env file) exactly once at startup.
type Config struct {
	Environment string

	Server        ServerConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Token         TokenConfig
	Cookie        CookieConfig
	OTP           OTPConfig
	Hashing       HashingConfig
	Mail          MailConfig
	Bucketing     BucketingConfig
	KMS           KMSConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers    []string
	EventTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

// TokenConfig carries the two-token signing policy: independent secrets
// and independent expiries for access and refresh tokens.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration

	// RefreshExpiryRaw is the REFRESH_TOKEN_EXPIRY value verbatim. It is
	// interpreted as a number of seconds; anything unparseable falls back
	// to seven days. Keeping the raw string lets the cookie Max-Age and
	// the token expiry derive from the same source.
	RefreshExpiryRaw string
}

const refreshFallback = 7 * 24 * time.Hour

// RefreshTTL returns the refresh token lifetime, falling back to seven
// days when REFRESH_TOKEN_EXPIRY is not a positive integer of seconds.
func (t TokenConfig) RefreshTTL() time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(t.RefreshExpiryRaw))
	if err != nil || secs <= 0 {
		return refreshFallback
	}
	return time.Duration(secs) * time.Second
}

// RefreshCookieMaxAge returns the Max-Age in seconds for the refresh
// token cookie, derived from the same expiry value as the token itself.
func (t TokenConfig) RefreshCookieMaxAge() int {
	return int(t.RefreshTTL() / time.Second)
}

type CookieConfig struct {
	Secure bool
}

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	global *Config
	once   sync.Once
)

// LoadConfig reads the environment into a Config. A .env file in the
// working directory is honored when present; real environment variables
// win over it.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		global = &Config{
			Environment: util.GetEnv("APP_ENV", "development"),
			Server: ServerConfig{
				Port:         getInt("SERVER_PORT", 8080),
				ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Scylla: ScyllaConfig{
				Nodes:    splitList(util.GetEnv("SCYLLA_NODES", "127.0.0.1:9042")),
				Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "snackychef_auth"),
				Username: util.GetEnv("SCYLLA_USERNAME", ""),
				Password: util.GetEnv("SCYLLA_PASSWORD", ""),
			},
			Redis: RedisConfig{
				URL:      util.GetEnv("REDIS_URL", "redis://127.0.0.1:6379"),
				Password: util.GetEnv("REDIS_PASSWORD", ""),
				DB:       getInt("REDIS_DB", 0),
				PoolSize: getInt("REDIS_POOL_SIZE", 50),
			},
			Kafka: KafkaConfig{
				Brokers:    splitList(util.GetEnv("KAFKA_BROKERS", "127.0.0.1:9092")),
				EventTopic: util.GetEnv("KAFKA_AUTH_EVENT_TOPIC", "auth-events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      util.GetEnv("CLICKHOUSE_URL", "http://127.0.0.1:8123"),
				Database: util.GetEnv("CLICKHOUSE_DATABASE", "snackychef"),
				Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
				Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:      util.GetEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
				Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
				Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
				Index:    util.GetEnv("ELASTICSEARCH_AUTH_EVENT_INDEX", "auth-events"),
			},
			Token: TokenConfig{
				AccessSecret:     util.GetEnv("ACCESS_TOKEN_SECRET", ""),
				RefreshSecret:    util.GetEnv("REFRESH_TOKEN_SECRET", ""),
				AccessTTL:        getDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
				RefreshExpiryRaw: util.GetEnv("REFRESH_TOKEN_EXPIRY", ""),
			},
			Cookie: CookieConfig{
				Secure: getBool("COOKIE_SECURE", false),
			},
			OTP: OTPConfig{
				TTL:         getDuration("OTP_TTL", 5*time.Minute),
				MaxAttempts: getInt("OTP_MAX_ATTEMPTS", 10),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getInt("ARGON2_PARALLELISM", 2),
				Pepper:            util.GetEnv("PASSWORD_PEPPER", ""),
			},
			Mail: MailConfig{
				Host:     util.GetEnv("SMTP_HOST", ""),
				Port:     util.GetEnv("SMTP_PORT", "465"),
				Username: util.GetEnv("SMTP_USERNAME", ""),
				Password: util.GetEnv("SMTP_PASSWORD", ""),
				From:     util.GetEnv("SMTP_FROM", "SnackyChef <no-reply@snackychef.app>"),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getInt("USER_BUCKETS", 64),
				EventBuckets: getInt("EVENT_BUCKETS", 16),
			},
			KMS: KMSConfig{
				Enabled: getBool("KMS_ENABLED", false),
				KeyID:   util.GetEnv("KMS_KEY_ID", ""),
				Region:  util.GetEnv("AWS_REGION", "us-east-1"),
			},
			Logging: LoggingConfig{
				Level:  util.GetEnv("LOG_LEVEL", "info"),
				Format: util.GetEnv("LOG_FORMAT", "console"),
			},
		}
	})

	return global
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate rejects a configuration the auth flow cannot run with.
func (c *Config) Validate() error {
	if c.Token.AccessSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET is required")
	}
	if c.Token.RefreshSecret == "" {
		return fmt.Errorf("REFRESH_TOKEN_SECRET is required")
	}
	if c.Token.AccessSecret == c.Token.RefreshSecret {
		return fmt.Errorf("access and refresh token secrets must differ")
	}
	if c.IsProduction() && c.Hashing.Pepper == "" {
		return fmt.Errorf("PASSWORD_PEPPER is required in production")
	}
	return nil
}

func getInt(key string, fallback int) int {
	raw := util.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := util.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := util.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
