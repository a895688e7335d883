package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB     DBConfig
	SFTP   SFTPConfig
	JWT    JWTConfig
	Server ServerConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	PrivateKeyPath string
	BaseDirectory  string
	DialTimeout    time.Duration
}

// NormalizedBaseDir strips a trailing slash so remote paths join cleanly.
func (c SFTPConfig) NormalizedBaseDir() string {
	return strings.TrimSuffix(c.BaseDirectory, "/")
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
	InvitationTTL   time.Duration
}

type ServerConfig struct {
	Port string
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "poolshare"),
			Password: getEnv("DB_PASSWORD", "poolshare_secret"),
			Name:     getEnv("DB_NAME", "poolshare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SFTP: SFTPConfig{
			Host:           getEnv("SFTP_HOST", "localhost"),
			Port:           getEnvAsInt("SFTP_PORT", 22),
			Username:       getEnv("SFTP_USER", "poolshare"),
			PrivateKeyPath: getEnv("SFTP_PRIVATE_KEY_PATH", ""),
			BaseDirectory:  getEnv("SFTP_BASE_DIR", "/srv/poolshare"),
			DialTimeout:    getEnvAsDuration("SFTP_DIAL_TIMEOUT", 15*time.Second),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
			InvitationTTL:   getEnvAsDuration("JWT_INVITATION_TTL", 168*time.Hour),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
