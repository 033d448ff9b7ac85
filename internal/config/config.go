package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
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
	Storage   StorageConfig
	Media     MediaConfig
	Job       JobConfig
	Session   SessionConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	TranslatePerHour int
	UploadPerHour    int
	SessionsPerHour  int
}

// StorageConfig describes an S3-compatible bucket (AWS S3, Cloudflare R2, MinIO).
// Uploads fall back to local disk when credentials are missing.
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	UsePathStyle    bool
}

// Configured reports whether the object store can be used.
func (s StorageConfig) Configured() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.BucketName != ""
}

type MediaConfig struct {
	MaxSizeMB       int
	LocalDir        string
	PublicPath      string
	SignedURLExpiry time.Duration
}

// MaxSizeBytes returns the upload limit in bytes.
func (m MediaConfig) MaxSizeBytes() int64 {
	return int64(m.MaxSizeMB) * 1024 * 1024
}

// Runner modes
const (
	RunnerLocal = "local"
	RunnerQueue = "queue"
)

type JobConfig struct {
	Runner       string
	TickInterval time.Duration
	Step         int
	Queue        string
	Concurrency  int
	MaxRetry     int
	Timeout      time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
}

type SessionConfig struct {
	TTL time.Duration
}

// Load reads configuration from defaults, an optional config.yaml and the environment.
func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	bindings := map[string]string{
		"server.port":                  "SERVER_PORT",
		"server.env":                   "SERVER_ENV",
		"server.log_level":             "LOG_LEVEL",
		"redis.addr":                   "REDIS_ADDR",
		"redis.password":               "REDIS_PASSWORD",
		"redis.db":                     "REDIS_DB",
		"jwt.secret":                   "JWT_SECRET",
		"ratelimit.translate_per_hour": "RATELIMIT_TRANSLATE_PER_HOUR",
		"ratelimit.upload_per_hour":    "RATELIMIT_UPLOAD_PER_HOUR",
		"ratelimit.sessions_per_hour":  "RATELIMIT_SESSIONS_PER_HOUR",
		"storage.endpoint":             "STORAGE_ENDPOINT",
		"storage.region":               "STORAGE_REGION",
		"storage.access_key_id":        "STORAGE_ACCESS_KEY_ID",
		"storage.secret_access_key":    "STORAGE_SECRET_ACCESS_KEY",
		"storage.bucket_name":          "STORAGE_BUCKET_NAME",
		"storage.public_url":           "STORAGE_PUBLIC_URL",
		"storage.use_path_style":       "STORAGE_USE_PATH_STYLE",
		"media.max_size_mb":            "MEDIA_MAX_SIZE_MB",
		"media.local_dir":              "MEDIA_LOCAL_DIR",
		"media.public_path":            "MEDIA_PUBLIC_PATH",
		"media.signed_url_expiry":      "MEDIA_SIGNED_URL_EXPIRY",
		"job.runner":                   "JOB_RUNNER",
		"job.tick_interval":            "JOB_TICK_INTERVAL",
		"job.step":                     "JOB_STEP",
		"job.queue":                    "JOB_QUEUE",
		"job.concurrency":              "JOB_CONCURRENCY",
		"job.max_retry":                "JOB_MAX_RETRY",
		"job.timeout":                  "JOB_TIMEOUT",
		"job.retry_base":               "JOB_RETRY_BASE",
		"job.retry_max":                "JOB_RETRY_MAX",
		"session.ttl":                  "SESSION_TTL",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.translate_per_hour", 20)
	v.SetDefault("ratelimit.upload_per_hour", 50)
	v.SetDefault("ratelimit.sessions_per_hour", 30)
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("media.max_size_mb", 500)
	v.SetDefault("media.local_dir", "./data/media")
	v.SetDefault("media.public_path", "/media")
	v.SetDefault("media.signed_url_expiry", time.Hour)
	v.SetDefault("job.runner", RunnerLocal)
	v.SetDefault("job.tick_interval", 500*time.Millisecond)
	v.SetDefault("job.step", 5)
	v.SetDefault("job.queue", "translate")
	v.SetDefault("job.concurrency", 10)
	v.SetDefault("job.max_retry", 3)
	v.SetDefault("job.timeout", 10*time.Minute)
	v.SetDefault("job.retry_base", 2*time.Second)
	v.SetDefault("job.retry_max", time.Minute)
	v.SetDefault("session.ttl", 2*time.Hour)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			TranslatePerHour: v.GetInt("ratelimit.translate_per_hour"),
			UploadPerHour:    v.GetInt("ratelimit.upload_per_hour"),
			SessionsPerHour:  v.GetInt("ratelimit.sessions_per_hour"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			PublicURL:       v.GetString("storage.public_url"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		Media: MediaConfig{
			MaxSizeMB:       v.GetInt("media.max_size_mb"),
			LocalDir:        v.GetString("media.local_dir"),
			PublicPath:      v.GetString("media.public_path"),
			SignedURLExpiry: v.GetDuration("media.signed_url_expiry"),
		},
		Job: JobConfig{
			Runner:       strings.ToLower(v.GetString("job.runner")),
			TickInterval: v.GetDuration("job.tick_interval"),
			Step:         v.GetInt("job.step"),
			Queue:        v.GetString("job.queue"),
			Concurrency:  v.GetInt("job.concurrency"),
			MaxRetry:     v.GetInt("job.max_retry"),
			Timeout:      v.GetDuration("job.timeout"),
			RetryBase:    v.GetDuration("job.retry_base"),
			RetryMax:     v.GetDuration("job.retry_max"),
		},
		Session: SessionConfig{
			TTL: v.GetDuration("session.ttl"),
		},
	}

	return cfg, nil
}
