package config

import (
	"os"
	"path/filepath"
	"time"
)

// userAgent is the fixed product identifier sent with every request.
const userAgent = "Keyfold-CLI/1.0"

// Config holds all configuration for the keyfold CLI.
type Config struct {
	ServerURL        string
	APIURL           string
	IdentityURL      string
	WebURL           string
	IconsURL         string
	NotificationsURL string
	ConnectTimeout   time.Duration
	TotalTimeout     time.Duration
	CredentialsPath  string
	UserAgent        string
	Env              string
	LogLevel         string
}

// Load creates a Config from environment variables with defaults.
func Load() *Config {
	return &Config{
		ServerURL:        GetEnv("KEYFOLD_SERVER_URL", ""),
		APIURL:           GetEnv("KEYFOLD_API_URL", ""),
		IdentityURL:      GetEnv("KEYFOLD_IDENTITY_URL", ""),
		WebURL:           GetEnv("KEYFOLD_WEB_URL", ""),
		IconsURL:         GetEnv("KEYFOLD_ICONS_URL", ""),
		NotificationsURL: GetEnv("KEYFOLD_NOTIFICATIONS_URL", ""),
		ConnectTimeout:   GetEnvDuration("KEYFOLD_CONNECT_TIMEOUT", 10*time.Second),
		TotalTimeout:     GetEnvDuration("KEYFOLD_TOTAL_TIMEOUT", 60*time.Second),
		CredentialsPath:  GetEnv("KEYFOLD_CREDENTIALS_PATH", defaultCredentialsPath()),
		UserAgent:        userAgent,
		Env:              GetEnv("KEYFOLD_ENV", "prod"),
		LogLevel:         GetEnv("KEYFOLD_LOG_LEVEL", "warn"),
	}
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "keyfold", "credentials.json")
}
