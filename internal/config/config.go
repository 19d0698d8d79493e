package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	FrontendURL   string
	// OpenAI
	OpenAIAPIKey    string
	Model           string
	UpstreamTimeout time.Duration
	// Marketing Cloud Engagement proxy
	MCEServerURL string
	MCEAPIKey    string
	// Access control (all optional; the gate stays open when nothing is configured)
	SessionSecret    string
	APISharedKey     string
	AdminEmail       string
	AdminPassword    string
	AuthorizedEmails []string
	AllowedEmails    []string
	AllowedDomains   []string
	// OAuth providers
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	OAuthRedirectURL   string
	// Optional infrastructure
	DatabaseURL string
	RedisURL    string
	// Prompt/intent spec file
	PromptsFile string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:               getEnvDefault("PORT", "8080"),
		AllowedOrigin:      getEnvDefault("ALLOWED_ORIGIN", "*"),
		FrontendURL:        getEnvDefault("FRONTEND_URL", "http://localhost:3000"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		Model:              os.Getenv("OPENAI_MODEL"),
		UpstreamTimeout:    getEnvDurationDefault("UPSTREAM_TIMEOUT", 60*time.Second),
		MCEServerURL:       getEnvDefault("MCE_SERVER_URL", "https://salesforce-mce-api.fly.dev"),
		MCEAPIKey:          os.Getenv("MCE_API_KEY"),
		SessionSecret:      os.Getenv("SESSION_SECRET"),
		APISharedKey:       os.Getenv("API_SHARED_KEY"),
		AdminEmail:         os.Getenv("ADMIN_EMAIL"),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
		AuthorizedEmails:   getEnvListDefault("AUTHORIZED_EMAILS", nil),
		AllowedEmails:      getEnvListDefault("ALLOWED_EMAILS", nil),
		AllowedDomains:     getEnvListDefault("ALLOWED_DOMAINS", nil),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		OAuthRedirectURL:   getEnvDefault("OAUTH_REDIRECT_URL", "http://localhost:8080/api/auth"),
		DatabaseURL:        os.Getenv("DB_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		PromptsFile:        getEnvDefault("PROMPTS_FILE", "./prompts/assistant.yaml"),
	}
	if cfg.OpenAIAPIKey == "" {
		log.Println("warning: OPENAI_API_KEY is not set; chat requests will fail until provided")
	}
	if cfg.MCEAPIKey == "" {
		log.Println("warning: MCE_API_KEY is not set; email creation will report a configuration error")
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("warning: invalid duration for %s: %q, using default", key, v)
	}
	return def
}
