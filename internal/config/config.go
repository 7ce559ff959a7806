package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "GOCOMMUNITY"

// Env holds the raw settings read from the environment. Command line flags
// in cmd/server use these values as their defaults.
type Env struct {
	Addr              string        `envconfig:"ADDR" default:"localhost:8000"`
	DatabaseDSN       string        `envconfig:"DSN" default:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningKey        string        `envconfig:"SIGNING_KEY"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	AllowedOrigins    []string      `envconfig:"ALLOWED_ORIGINS"`
	RedisURL          string        `envconfig:"REDIS_URL"`
	UploadDir         string        `envconfig:"UPLOAD_DIR" default:"uploads"`
	MaxUploadBytes    int64         `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	FirebaseProjectID string        `envconfig:"FIREBASE_PROJECT_ID"`
	AppName           string        `envconfig:"APP_NAME" default:"WOTG Community"`
	AnnouncedIP       string        `envconfig:"ANNOUNCED_IP"`
	ICEServers        []string      `envconfig:"ICE_SERVERS" default:"stun:stun.l.google.com:19302"`
	RateLimit         int           `envconfig:"RATE_LIMIT" default:"300"`
}

// LoadEnv reads the given dotenv files, skipping missing ones, then the
// GOCOMMUNITY_* variables. Variables already set in the process win over
// the files.
func LoadEnv(files ...string) (*Env, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	return &env, nil
}

type Config struct {
	ServerAddr        string
	DatabaseDSN       string
	SigningKey        []byte
	TokenTTL          time.Duration
	AllowedOrigins    []string
	RedisURL          string
	UploadDir         string
	MaxUploadBytes    int64
	FirebaseProjectID string
	AppName           string
	AnnouncedIP       string
	ICEServers        []string
	RateLimit         int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(env Env) (*Config, error) {
	if env.Addr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if env.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if env.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if env.UploadDir == "" {
		return nil, fmt.Errorf("upload directory cannot be empty")
	}
	if env.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload size must be positive")
	}
	if env.TokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}

	signingKey, err := decodeSigningSecret(env.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:        env.Addr,
		DatabaseDSN:       env.DatabaseDSN,
		SigningKey:        signingKey,
		TokenTTL:          env.TokenTTL,
		AllowedOrigins:    env.AllowedOrigins,
		RedisURL:          env.RedisURL,
		UploadDir:         env.UploadDir,
		MaxUploadBytes:    env.MaxUploadBytes,
		FirebaseProjectID: env.FirebaseProjectID,
		AppName:           env.AppName,
		AnnouncedIP:       env.AnnouncedIP,
		ICEServers:        env.ICEServers,
		RateLimit:         env.RateLimit,
	}, nil
}
