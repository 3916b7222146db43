package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Jobs      JobsConfig
	OpenAI    OpenAIConfig
	Apollo    ApolloConfig
	Scraper   ScraperConfig
	Schedule  ScheduleConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled bool
}

type JWTConfig struct {
	Secret string
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	RunPerHour   int
	ConfigPerMin int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// JobsConfig tunes the retry executor and per-call timeouts shared by both jobs
type JobsConfig struct {
	RetryBaseDelay time.Duration
	MaxAttempts    int
	CallTimeout    time.Duration
}

type OpenAIConfig struct {
	BaseURL         string
	ValidationModel string
	Timeout         time.Duration
}

type ApolloConfig struct {
	BaseURL string
}

// ScraperConfig holds technical scraper settings that override the stored config
type ScraperConfig struct {
	Headless     bool
	Timeout      int // seconds
	MaxCustomers int
	ChromePath   string
}

type ScheduleConfig struct {
	Scraper string
	LeadGen string
}

func Load() (*Config, error) {
	// A local .env is optional; real environment variables win
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("DATABASE_URL")
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("database.max_conns", "DATABASE_MAX_CONNS")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("ratelimit.run_per_hour", "RATELIMIT_RUN_PER_HOUR")
	_ = viper.BindEnv("ratelimit.config_per_min", "RATELIMIT_CONFIG_PER_MIN")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("jobs.retry_base_delay", "JOBS_RETRY_BASE_DELAY")
	_ = viper.BindEnv("jobs.max_attempts", "JOBS_MAX_ATTEMPTS")
	_ = viper.BindEnv("jobs.call_timeout", "JOBS_CALL_TIMEOUT")
	_ = viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("openai.validation_model", "OPENAI_VALIDATION_MODEL")
	_ = viper.BindEnv("openai.timeout", "OPENAI_TIMEOUT")
	_ = viper.BindEnv("apollo.base_url", "APOLLO_BASE_URL")
	_ = viper.BindEnv("scraper.headless", "SCRAPER_HEADLESS")
	_ = viper.BindEnv("scraper.timeout", "SCRAPER_TIMEOUT")
	_ = viper.BindEnv("scraper.max_customers", "SCRAPER_MAX_CUSTOMERS")
	_ = viper.BindEnv("scraper.chrome_path", "SCRAPER_CHROME_PATH")
	_ = viper.BindEnv("schedule.scraper", "SCHEDULE_SCRAPER")
	_ = viper.BindEnv("schedule.leadgen", "SCHEDULE_LEADGEN")

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.run_per_hour", 20)
	viper.SetDefault("ratelimit.config_per_min", 30)

	// Job defaults
	viper.SetDefault("jobs.retry_base_delay", time.Second)
	viper.SetDefault("jobs.max_attempts", 3)
	viper.SetDefault("jobs.call_timeout", 30*time.Second)

	// OpenAI defaults
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.validation_model", "gpt-3.5-turbo")
	viper.SetDefault("openai.timeout", 120*time.Second)

	// Apollo defaults
	viper.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")

	// Scraper defaults
	viper.SetDefault("scraper.headless", true)
	viper.SetDefault("scraper.timeout", 25)
	viper.SetDefault("scraper.max_customers", 0)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Database: DatabaseConfig{
			URL:      viper.GetString("database.url"),
			MaxConns: viper.GetInt32("database.max_conns"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Enabled: viper.GetBool("auth.enabled"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("oidc.issuer"),
			ClientID: viper.GetString("oidc.client_id"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			RunPerHour:   viper.GetInt("ratelimit.run_per_hour"),
			ConfigPerMin: viper.GetInt("ratelimit.config_per_min"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Jobs: JobsConfig{
			RetryBaseDelay: viper.GetDuration("jobs.retry_base_delay"),
			MaxAttempts:    viper.GetInt("jobs.max_attempts"),
			CallTimeout:    viper.GetDuration("jobs.call_timeout"),
		},
		OpenAI: OpenAIConfig{
			BaseURL:         viper.GetString("openai.base_url"),
			ValidationModel: viper.GetString("openai.validation_model"),
			Timeout:         viper.GetDuration("openai.timeout"),
		},
		Apollo: ApolloConfig{
			BaseURL: viper.GetString("apollo.base_url"),
		},
		Scraper: ScraperConfig{
			Headless:     viper.GetBool("scraper.headless"),
			Timeout:      viper.GetInt("scraper.timeout"),
			MaxCustomers: viper.GetInt("scraper.max_customers"),
			ChromePath:   viper.GetString("scraper.chrome_path"),
		},
		Schedule: ScheduleConfig{
			Scraper: viper.GetString("schedule.scraper"),
			LeadGen: viper.GetString("schedule.leadgen"),
		},
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in a local environment
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Env, "development")
}

// R2Configured reports whether artifact storage credentials are present
func (c *Config) R2Configured() bool {
	return c.R2.AccessKeyID != "" && c.R2.SecretAccessKey != "" && c.R2.BucketName != ""
}
