package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	infisical "github.com/infisical/go-sdk"
)

type Config struct {
	Port           string
	FrontendOrigin string
	Network        string

	DatabaseURL   string
	RedisURL      string
	RedisPassword string

	HistoryFile     string
	HistoryCapacity int
	PollInterval    time.Duration
	CacheTTL        time.Duration
	DailyEmission   float64
	TrimFraction    float64

	SubtensorURL   string
	TaostatsAPIKey string
	CMCAPIToken    string

	CFAccountID   string
	CFAPIToken    string
	CFNamespaceID string

	TelegramToken  string
	TelegramChatID string

	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() Config {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		Network:        envOr("NETWORK", "finney"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		HistoryFile:     envOr("HISTORY_FILE", "data/issuance_history.json"),
		HistoryCapacity: envInt("HISTORY_CAPACITY", 720),
		PollInterval:    envDuration("POLL_INTERVAL", 10*time.Minute),
		CacheTTL:        envDuration("CACHE_TTL", 60*time.Second),
		DailyEmission:   envFloat("DAILY_EMISSION", 7200),
		TrimFraction:    envFloat("TRIM_FRACTION", 0.1),

		SubtensorURL:   envOr("SUBTENSOR_URL", "wss://entrypoint-finney.opentensor.ai:443"),
		TaostatsAPIKey: os.Getenv("TAOSTATS_API_KEY"),
		CMCAPIToken:    os.Getenv("CMC_API_TOKEN"),

		CFAccountID:   os.Getenv("CF_ACCOUNT_ID"),
		CFAPIToken:    os.Getenv("CF_API_TOKEN"),
		CFNamespaceID: os.Getenv("CF_KV_NAMESPACE_ID"),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
	}

	LoadSecrets(map[string]*string{
		"TAOSTATS_API_KEY":   &cfg.TaostatsAPIKey,
		"CMC_API_TOKEN":      &cfg.CMCAPIToken,
		"CF_API_TOKEN":       &cfg.CFAPIToken,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
	})

	return cfg
}

// LoadSecrets fills empty targets from Infisical when INFISICAL_CLIENT_ID
// and INFISICAL_CLIENT_SECRET are set. Values already present are kept.
func LoadSecrets(secrets map[string]*string) {
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return
	}

	missing := false
	for _, target := range secrets {
		if *target == "" {
			missing = true
			break
		}
	}
	if !missing {
		return
	}

	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("invalid duration, using default", "key", key, "value", v)
	return fallback
}
