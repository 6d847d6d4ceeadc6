package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for both the client CLI and the dev server.
// Environment variables take precedence; a .env file is loaded if present.
type Config struct {
	Client ClientConfig
	Server ServerConfig
	Redis  RedisConfig
	S3     S3Config
}

type ClientConfig struct {
	ServerURL     string
	Environment   string
	IdleThreshold time.Duration
	IdlePoll      time.Duration
	StateDir      string
}

type ServerConfig struct {
	Port        string
	Environment string
	JWTSecret   string
	JWTExpiry   time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Client: ClientConfig{
			ServerURL:     getEnv("TEAMLINE_SERVER_URL", "http://localhost:8080"),
			Environment:   getEnv("APP_ENV", "development"),
			IdleThreshold: time.Duration(getEnvAsInt("IDLE_THRESHOLD_MIN", 10)) * time.Minute,
			IdlePoll:      time.Duration(getEnvAsInt("IDLE_POLL_SEC", 30)) * time.Second,
			StateDir:      getEnv("TEAMLINE_STATE_DIR", ""),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Environment: getEnv("APP_ENV", "development"),
			JWTSecret:   getEnv("JWT_SECRET", "change-me"),
			JWTExpiry:   time.Duration(getEnvAsInt("JWT_EXPIRY_MIN", 60)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Region:    getEnv("S3_REGION", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
