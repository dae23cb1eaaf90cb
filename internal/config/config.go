package config

import (
	"os"
	"strings"

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
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Dropbox   DropboxConfig
	Lumen     LumenConfig
	Jobs      JobsConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string // console or json
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
	JobsPerHour int
	LogsPerMin  int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// DropboxConfig carries the OAuth app credentials and the key used to decrypt
// stored refresh tokens. Resolved once at startup and injected, never read
// from the environment at call time.
type DropboxConfig struct {
	AppKey      string
	AppSecret   string
	TokenKey    string // base64, 32 bytes once decoded
	APIBaseURL  string
	ContentURL  string
}

type LumenConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type JobsConfig struct {
	ScratchDir              string
	TransformTimeoutSeconds int
	ExportTimeoutSeconds    int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("LUMEN_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("DROPBOX_APP_KEY")
	readSecret("DROPBOX_APP_SECRET")
	readSecret("DROPBOX_TOKEN_KEY")

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
	_ = viper.BindEnv("server.log_format", "LOG_FORMAT")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("dropbox.app_key", "DROPBOX_APP_KEY")
	_ = viper.BindEnv("dropbox.app_secret", "DROPBOX_APP_SECRET")
	_ = viper.BindEnv("dropbox.token_key", "DROPBOX_TOKEN_KEY")
	_ = viper.BindEnv("dropbox.api_base_url", "DROPBOX_API_BASE_URL")
	_ = viper.BindEnv("dropbox.content_url", "DROPBOX_CONTENT_URL")
	_ = viper.BindEnv("lumen.api_key", "LUMEN_API_KEY")
	_ = viper.BindEnv("lumen.base_url", "LUMEN_BASE_URL")
	_ = viper.BindEnv("lumen.model", "LUMEN_MODEL")
	_ = viper.BindEnv("jobs.scratch_dir", "JOBS_SCRATCH_DIR")
	_ = viper.BindEnv("jobs.transform_timeout", "JOBS_TRANSFORM_TIMEOUT")
	_ = viper.BindEnv("jobs.export_timeout", "JOBS_EXPORT_TIMEOUT")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.log_format", "console")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.jobs_per_hour", 60)
	viper.SetDefault("ratelimit.logs_per_min", 120)

	// Dropbox defaults
	viper.SetDefault("dropbox.api_base_url", "https://api.dropboxapi.com")
	viper.SetDefault("dropbox.content_url", "https://content.dropboxapi.com")

	// Lumen defaults
	viper.SetDefault("lumen.base_url", "https://api.lumenstudio.ai")
	viper.SetDefault("lumen.model", "lumen-photo-v2")

	// Job defaults
	viper.SetDefault("jobs.scratch_dir", os.TempDir())
	viper.SetDefault("jobs.transform_timeout", 600)
	viper.SetDefault("jobs.export_timeout", 120)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			LogFormat: viper.GetString("server.log_format"),
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
			JobsPerHour: viper.GetInt("ratelimit.jobs_per_hour"),
			LogsPerMin:  viper.GetInt("ratelimit.logs_per_min"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Dropbox: DropboxConfig{
			AppKey:     viper.GetString("dropbox.app_key"),
			AppSecret:  viper.GetString("dropbox.app_secret"),
			TokenKey:   viper.GetString("dropbox.token_key"),
			APIBaseURL: viper.GetString("dropbox.api_base_url"),
			ContentURL: viper.GetString("dropbox.content_url"),
		},
		Lumen: LumenConfig{
			APIKey:  viper.GetString("lumen.api_key"),
			BaseURL: viper.GetString("lumen.base_url"),
			Model:   viper.GetString("lumen.model"),
		},
		Jobs: JobsConfig{
			ScratchDir:              viper.GetString("jobs.scratch_dir"),
			TransformTimeoutSeconds: viper.GetInt("jobs.transform_timeout"),
			ExportTimeoutSeconds:    viper.GetInt("jobs.export_timeout"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
