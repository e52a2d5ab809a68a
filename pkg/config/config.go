package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries process-level settings loaded from the environment.
// Trading parameters live in the database instead so the surface can change
// them at runtime.
type Config struct {
	Server       ServerConfig
	Engine       EngineConfig
	Database     DatabaseConfig
	Auth         AuthConfig
	NetworksFile string
	Network      string // network id to trade on, e.g. "base"
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type EngineConfig struct {
	// SocketPath is the loopback stream the execution engine listens on.
	SocketPath     string
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
}

type DatabaseConfig struct {
	// Dir holds the per-network SQLite files plus global.db.
	Dir string
}

type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8081),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Engine: EngineConfig{
			SocketPath:     getEnv("ENGINE_SOCKET", "/tmp/dexcore-engine.sock"),
			ConnectTimeout: getEnvDuration("ENGINE_CONNECT_TIMEOUT", 10*time.Second),
			SendTimeout:    getEnvDuration("ENGINE_SEND_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Dir: getEnv("DATA_DIR", "./data"),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			TokenExpiry: getEnvDuration("TOKEN_EXPIRY", 24*time.Hour),
		},
		NetworksFile: getEnv("NETWORKS_FILE", "./networks.yaml"),
		Network:      getEnv("NETWORK", "base"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Engine.SocketPath == "" {
		return fmt.Errorf("ENGINE_SOCKET must not be empty")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️ Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("⚠️ Invalid duration for %s, using default %s", key, fallback)
	}
	return fallback
}
