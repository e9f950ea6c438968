package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	WebSocket    WebSocketConfig
	CORS         CORSConfig
	Logging      LoggingConfig
	Provisioning ProvisioningConfig
	Fleet        FleetConfig
	Seed         SeedConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Driver   string
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// CouchURL returns COUCHDB_URL when set, otherwise a URL assembled from
// the DB_* parts.
func (d DatabaseConfig) CouchURL() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "http",
		Host:   d.Host + ":" + d.Port,
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String()
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	MaxMessageSize   int64
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxConnPerDealer int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
	Dir   string
}

type ProvisioningConfig struct {
	BaseURL       string
	APKPath       string
	APKName       string
	ComponentName string
	Timeout       time.Duration
	ChecksumTTL   time.Duration
}

type FleetConfig struct {
	EnrollmentTokenTTL time.Duration
	OfflineAfter       time.Duration
}

type SeedConfig struct {
	Username string
	Email    string
	Password string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := getEnvAsDuration("JWT_EXPIRATION", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshExp, err := getEnvAsDuration("REFRESH_TOKEN_EXPIRATION", 168*time.Hour)
	if err != nil {
		return nil, err
	}
	provisioningTimeout, err := getEnvAsDuration("PROVISIONING_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	checksumTTL, err := getEnvAsDuration("APK_CHECKSUM_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := getEnvAsDuration("ENROLLMENT_TOKEN_TTL", 72*time.Hour)
	if err != nil {
		return nil, err
	}
	offlineAfter, err := getEnvAsDuration("HEARTBEAT_OFFLINE_AFTER", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", "couch"))
	if driver != "couch" && driver != "memory" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: expected couch or memory", driver)
	}

	baseURL := strings.TrimRight(getEnv("PROVISIONING_BASE_URL", ""), "/")
	if baseURL != "" {
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("invalid PROVISIONING_BASE_URL: %w", err)
		}
	}

	// /downloads/ serves the directory holding APK_PATH, so the advertised
	// name has to be that file.
	apkPath := getEnv("APK_PATH", "./downloads/emilock-agent.apk")
	apkName := getEnv("APK_DOWNLOAD_NAME", filepath.Base(apkPath))
	if apkName != filepath.Base(apkPath) {
		return nil, fmt.Errorf("invalid APK_DOWNLOAD_NAME %q: must match the APK_PATH file name %q", apkName, filepath.Base(apkPath))
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:   driver,
			URL:      getEnv("COUCHDB_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "emilock"),
		},
		JWT: JWTConfig{
			Secret:                 getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration:             jwtExp,
			RefreshTokenExpiration: refreshExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize:  getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:   int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			PingPeriod:       54 * time.Second,
			MaxConnPerDealer: getEnvAsInt("WS_MAX_CONN_PER_DEALER", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PATCH,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			Dir:   getEnv("LOG_DIR", ""),
		},
		Provisioning: ProvisioningConfig{
			BaseURL:       baseURL,
			APKPath:       apkPath,
			APKName:       apkName,
			ComponentName: getEnv("DPC_COMPONENT_NAME", "com.emilock.agent/.receiver.AdminReceiver"),
			Timeout:       provisioningTimeout,
			ChecksumTTL:   checksumTTL,
		},
		Fleet: FleetConfig{
			EnrollmentTokenTTL: tokenTTL,
			OfflineAfter:       offlineAfter,
		},
		Seed: SeedConfig{
			Username: getEnv("SEED_ADMIN_USERNAME", "superadmin"),
			Email:    getEnv("SEED_ADMIN_EMAIL", ""),
			Password: getEnv("SEED_ADMIN_PASSWORD", ""),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
