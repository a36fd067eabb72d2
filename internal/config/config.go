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
	Database  DatabaseConfig
	JWT       JWTConfig
	Clerk     ClerkConfig
	Gemini    GeminiConfig
	Manim     ManimConfig
	Storage   StorageConfig
	Admission AdmissionConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
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

type DatabaseConfig struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

type JWTConfig struct {
	Secret string
}

type ClerkConfig struct {
	Issuer   string
	Audience string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ManimConfig struct {
	PythonBin          string
	Quality            string
	SceneName          string
	OutputFile         string
	WorkDir            string
	TimeoutSeconds     int
	SoftTimeoutSeconds int
}

type StorageConfig struct {
	Mode            string // "local" or "s3"
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	CloudfrontURL   string
}

type AdmissionConfig struct {
	MaxConcurrentJobs int
	MaxAttempts       int
	DefaultCredits    int
}

type RateLimitConfig struct {
	GeneratePerHour int
}

type SecurityConfig struct {
	DangerousPatterns []string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GEMINI_API_KEY")
	readSecret("JWT_SECRET")
	readSecret("AWS_ACCESS_KEY_ID")
	readSecret("AWS_SECRET_ACCESS_KEY")

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
	_ = viper.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = viper.BindEnv("database.dsn", "DATABASE_URL")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("clerk.issuer", "CLERK_ISSUER")
	_ = viper.BindEnv("clerk.audience", "CLERK_AUDIENCE")
	_ = viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	_ = viper.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = viper.BindEnv("manim.python_bin", "MANIM_PYTHON_BIN")
	_ = viper.BindEnv("manim.quality", "MANIM_QUALITY")
	_ = viper.BindEnv("manim.work_dir", "MANIM_WORK_DIR")
	_ = viper.BindEnv("manim.timeout_seconds", "MANIM_TIMEOUT")
	_ = viper.BindEnv("manim.soft_timeout_seconds", "MANIM_SOFT_TIMEOUT")
	_ = viper.BindEnv("storage.mode", "STORAGE_MODE")
	_ = viper.BindEnv("storage.access_key_id", "AWS_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.region", "AWS_REGION")
	_ = viper.BindEnv("storage.bucket", "AWS_S3_BUCKET")
	_ = viper.BindEnv("storage.cloudfront_url", "AWS_CLOUDFRONT_DOMAIN")
	_ = viper.BindEnv("admission.max_concurrent_jobs", "MAX_CONCURRENT_JOBS")
	_ = viper.BindEnv("admission.max_attempts", "MAX_RENDER_ATTEMPTS")
	_ = viper.BindEnv("admission.default_credits", "DEFAULT_CREDITS")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "GENERATE_PER_HOUR")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "file:animgen.db")
	viper.SetDefault("jwt.secret", "")

	// Gemini defaults
	viper.SetDefault("gemini.base_url", "")
	viper.SetDefault("gemini.model", "gemini-2.0-flash")

	// Manim defaults
	viper.SetDefault("manim.python_bin", "python3")
	viper.SetDefault("manim.quality", "-qm")
	viper.SetDefault("manim.scene_name", "GeneratedAnimation")
	viper.SetDefault("manim.output_file", "output.mp4")
	viper.SetDefault("manim.work_dir", "generated")
	viper.SetDefault("manim.timeout_seconds", 300)
	viper.SetDefault("manim.soft_timeout_seconds", 240)

	// Storage defaults
	viper.SetDefault("storage.mode", "local")
	viper.SetDefault("storage.region", "us-east-1")

	// Admission defaults
	viper.SetDefault("admission.max_concurrent_jobs", 2)
	viper.SetDefault("admission.max_attempts", 3)
	viper.SetDefault("admission.default_credits", 5)

	// Rate limit defaults
	viper.SetDefault("ratelimit.generate_per_hour", 5)

	// Generated code is rejected outright when any of these appear.
	viper.SetDefault("security.dangerous_patterns", []string{
		"import os", "import sys", "subprocess", "eval(", "exec(", "open(",
	})

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
		Database: DatabaseConfig{
			Driver: viper.GetString("database.driver"),
			DSN:    viper.GetString("database.dsn"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Clerk: ClerkConfig{
			Issuer:   viper.GetString("clerk.issuer"),
			Audience: viper.GetString("clerk.audience"),
		},
		Gemini: GeminiConfig{
			APIKey:  viper.GetString("gemini.api_key"),
			BaseURL: viper.GetString("gemini.base_url"),
			Model:   viper.GetString("gemini.model"),
		},
		Manim: ManimConfig{
			PythonBin:          viper.GetString("manim.python_bin"),
			Quality:            viper.GetString("manim.quality"),
			SceneName:          viper.GetString("manim.scene_name"),
			OutputFile:         viper.GetString("manim.output_file"),
			WorkDir:            viper.GetString("manim.work_dir"),
			TimeoutSeconds:     viper.GetInt("manim.timeout_seconds"),
			SoftTimeoutSeconds: viper.GetInt("manim.soft_timeout_seconds"),
		},
		Storage: StorageConfig{
			Mode:            viper.GetString("storage.mode"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			Region:          viper.GetString("storage.region"),
			Bucket:          viper.GetString("storage.bucket"),
			CloudfrontURL:   viper.GetString("storage.cloudfront_url"),
		},
		Admission: AdmissionConfig{
			MaxConcurrentJobs: viper.GetInt("admission.max_concurrent_jobs"),
			MaxAttempts:       viper.GetInt("admission.max_attempts"),
			DefaultCredits:    viper.GetInt("admission.default_credits"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
		},
		Security: SecurityConfig{
			DangerousPatterns: viper.GetStringSlice("security.dangerous_patterns"),
		},
	}

	return cfg, nil
}
