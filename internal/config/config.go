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
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Gemini    GeminiConfig
	Veo       VeoConfig
	Pipeline  PipelineConfig
	Store     StoreConfig
	Storage   StorageConfig
	OIDC      OIDCConfig
	Gateway   GatewayConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	ProjectsPerMin   int
	RunsPerHour      int
	CredentialPerMin int
}

type GeminiConfig struct {
	APIKey        string
	BaseURL       string
	AnalysisModel string
	Timeout       int // seconds
}

// VeoConfig selects models and the resolution matrix for clip generation
type VeoConfig struct {
	QualityModel           string
	FastModel              string
	ContinuationModel      string
	QualityResolution      string
	FastResolution         string
	SequencedResolution    string
	ContinuationResolution string
}

type PipelineConfig struct {
	PollInterval  time.Duration
	PollTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Concurrency   int
	LockTTL       time.Duration
}

// StoreConfig selects where project state lives: "redis" (default),
// "postgres", "mysql" or "sqlite".
type StoreConfig struct {
	Driver     string
	DSN        string
	ProjectTTL time.Duration
}

// StorageConfig selects where downloaded clips live: "r2", "minio" or "disk".
type StorageConfig struct {
	Driver    string
	R2        R2Config
	MinIO     MinIOConfig
	Disk      DiskConfig
	SignedTTL time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DiskConfig struct {
	Root      string
	PublicURL string
}

type OIDCConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	SampleRatio  float64
}

func Load() (*Config, error) {
	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GEMINI_API_KEY")
	readSecret("JWT_SECRET")
	readSecret("STORE_DSN")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("MINIO_ACCESS_KEY")
	readSecret("MINIO_SECRET_KEY")
	readSecret("OIDC_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.projects_per_min", "RATELIMIT_PROJECTS_PER_MIN")
	_ = viper.BindEnv("ratelimit.runs_per_hour", "RATELIMIT_RUNS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.credential_per_min", "RATELIMIT_CREDENTIAL_PER_MIN")
	_ = viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	_ = viper.BindEnv("gemini.analysis_model", "GEMINI_ANALYSIS_MODEL")
	_ = viper.BindEnv("gemini.timeout", "GEMINI_TIMEOUT")
	_ = viper.BindEnv("veo.quality_model", "VEO_QUALITY_MODEL")
	_ = viper.BindEnv("veo.fast_model", "VEO_FAST_MODEL")
	_ = viper.BindEnv("veo.continuation_model", "VEO_CONTINUATION_MODEL")
	_ = viper.BindEnv("veo.quality_resolution", "VEO_QUALITY_RESOLUTION")
	_ = viper.BindEnv("veo.fast_resolution", "VEO_FAST_RESOLUTION")
	_ = viper.BindEnv("veo.sequenced_resolution", "VEO_SEQUENCED_RESOLUTION")
	_ = viper.BindEnv("veo.continuation_resolution", "VEO_CONTINUATION_RESOLUTION")
	_ = viper.BindEnv("pipeline.poll_interval", "PIPELINE_POLL_INTERVAL")
	_ = viper.BindEnv("pipeline.poll_timeout", "PIPELINE_POLL_TIMEOUT")
	_ = viper.BindEnv("pipeline.retry_attempts", "PIPELINE_RETRY_ATTEMPTS")
	_ = viper.BindEnv("pipeline.retry_delay", "PIPELINE_RETRY_DELAY")
	_ = viper.BindEnv("pipeline.concurrency", "PIPELINE_CONCURRENCY")
	_ = viper.BindEnv("pipeline.lock_ttl", "PIPELINE_LOCK_TTL")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("store.dsn", "STORE_DSN")
	_ = viper.BindEnv("store.project_ttl", "STORE_PROJECT_TTL")
	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = viper.BindEnv("storage.signed_ttl", "STORAGE_SIGNED_TTL")
	_ = viper.BindEnv("storage.r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("storage.r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("storage.r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("storage.minio.endpoint", "MINIO_ENDPOINT")
	_ = viper.BindEnv("storage.minio.access_key", "MINIO_ACCESS_KEY")
	_ = viper.BindEnv("storage.minio.secret_key", "MINIO_SECRET_KEY")
	_ = viper.BindEnv("storage.minio.bucket", "MINIO_BUCKET")
	_ = viper.BindEnv("storage.minio.use_ssl", "MINIO_USE_SSL")
	_ = viper.BindEnv("storage.disk.root", "DISK_STORAGE_ROOT")
	_ = viper.BindEnv("storage.disk.public_url", "DISK_STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("oidc.domain", "OIDC_DOMAIN")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("telemetry.enabled", "OTEL_ENABLED")
	_ = viper.BindEnv("telemetry.service_name", "OTEL_SERVICE_NAME")
	_ = viper.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("telemetry.insecure", "OTEL_EXPORTER_OTLP_INSECURE")
	_ = viper.BindEnv("telemetry.sample_ratio", "OTEL_SAMPLER_RATIO")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.projects_per_min", 30)
	viper.SetDefault("ratelimit.runs_per_hour", 20)
	viper.SetDefault("ratelimit.credential_per_min", 10)

	// Gemini defaults
	viper.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("gemini.analysis_model", "gemini-3-flash-preview")
	viper.SetDefault("gemini.timeout", 120)

	// Veo defaults; continuation-conditioned and sequenced renders stay at 720p
	viper.SetDefault("veo.quality_model", "veo-3.1-generate-preview")
	viper.SetDefault("veo.fast_model", "veo-3.1-fast-generate-preview")
	viper.SetDefault("veo.continuation_model", "veo-3.1-generate-preview")
	viper.SetDefault("veo.quality_resolution", "1080p")
	viper.SetDefault("veo.fast_resolution", "720p")
	viper.SetDefault("veo.sequenced_resolution", "720p")
	viper.SetDefault("veo.continuation_resolution", "720p")

	// Pipeline defaults
	viper.SetDefault("pipeline.poll_interval", "10s")
	viper.SetDefault("pipeline.poll_timeout", "0s")
	viper.SetDefault("pipeline.retry_attempts", 5)
	viper.SetDefault("pipeline.retry_delay", "5s")
	viper.SetDefault("pipeline.concurrency", 4)
	viper.SetDefault("pipeline.lock_ttl", "30m")

	// Store defaults
	viper.SetDefault("store.driver", "redis")
	viper.SetDefault("store.project_ttl", "720h")

	// Storage defaults
	viper.SetDefault("storage.driver", "disk")
	viper.SetDefault("storage.signed_ttl", "24h")
	viper.SetDefault("storage.minio.bucket", "veoflow")
	viper.SetDefault("storage.disk.root", "./data/media")
	viper.SetDefault("storage.disk.public_url", "/media")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "veoflow-api")
	viper.SetDefault("telemetry.sample_ratio", 0.1)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			ProjectsPerMin:   viper.GetInt("ratelimit.projects_per_min"),
			RunsPerHour:      viper.GetInt("ratelimit.runs_per_hour"),
			CredentialPerMin: viper.GetInt("ratelimit.credential_per_min"),
		},
		Gemini: GeminiConfig{
			APIKey:        viper.GetString("gemini.api_key"),
			BaseURL:       viper.GetString("gemini.base_url"),
			AnalysisModel: viper.GetString("gemini.analysis_model"),
			Timeout:       viper.GetInt("gemini.timeout"),
		},
		Veo: VeoConfig{
			QualityModel:           viper.GetString("veo.quality_model"),
			FastModel:              viper.GetString("veo.fast_model"),
			ContinuationModel:      viper.GetString("veo.continuation_model"),
			QualityResolution:      viper.GetString("veo.quality_resolution"),
			FastResolution:         viper.GetString("veo.fast_resolution"),
			SequencedResolution:    viper.GetString("veo.sequenced_resolution"),
			ContinuationResolution: viper.GetString("veo.continuation_resolution"),
		},
		Pipeline: PipelineConfig{
			PollInterval:  viper.GetDuration("pipeline.poll_interval"),
			PollTimeout:   viper.GetDuration("pipeline.poll_timeout"),
			RetryAttempts: viper.GetInt("pipeline.retry_attempts"),
			RetryDelay:    viper.GetDuration("pipeline.retry_delay"),
			Concurrency:   viper.GetInt("pipeline.concurrency"),
			LockTTL:       viper.GetDuration("pipeline.lock_ttl"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(viper.GetString("store.driver")),
			DSN:        viper.GetString("store.dsn"),
			ProjectTTL: viper.GetDuration("store.project_ttl"),
		},
		Storage: StorageConfig{
			Driver:    strings.ToLower(viper.GetString("storage.driver")),
			SignedTTL: viper.GetDuration("storage.signed_ttl"),
			R2: R2Config{
				AccountID:       viper.GetString("storage.r2.account_id"),
				AccessKeyID:     viper.GetString("storage.r2.access_key_id"),
				SecretAccessKey: viper.GetString("storage.r2.secret_access_key"),
				BucketName:      viper.GetString("storage.r2.bucket_name"),
				PublicURL:       viper.GetString("storage.r2.public_url"),
			},
			MinIO: MinIOConfig{
				Endpoint:  viper.GetString("storage.minio.endpoint"),
				AccessKey: viper.GetString("storage.minio.access_key"),
				SecretKey: viper.GetString("storage.minio.secret_key"),
				Bucket:    viper.GetString("storage.minio.bucket"),
				UseSSL:    viper.GetBool("storage.minio.use_ssl"),
			},
			Disk: DiskConfig{
				Root:      viper.GetString("storage.disk.root"),
				PublicURL: viper.GetString("storage.disk.public_url"),
			},
		},
		OIDC: OIDCConfig{
			Domain:   viper.GetString("oidc.domain"),
			ClientID: viper.GetString("oidc.client_id"),
			Issuer:   viper.GetString("oidc.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      viper.GetBool("telemetry.enabled"),
			ServiceName:  viper.GetString("telemetry.service_name"),
			OTLPEndpoint: viper.GetString("telemetry.otlp_endpoint"),
			Insecure:     viper.GetBool("telemetry.insecure"),
			SampleRatio:  viper.GetFloat64("telemetry.sample_ratio"),
		},
	}

	return cfg, nil
}
