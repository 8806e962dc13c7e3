package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	LLM      LLMConfig
	Catalog  CatalogConfig
	Commerce CommerceConfig
	Checkout CheckoutConfig
	Chat     ChatConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig points at the checkout ledger. An empty URL disables it.
type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures checkout event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers       []string
	TopicCheckout string
	ConsumerGroup string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type CatalogConfig struct {
	BaseURL        string
	RPS            float64
	Burst          int
	FetchTimeout   time.Duration
	SearchCacheTTL time.Duration
	EnrichResults  bool
}

type CommerceConfig struct {
	APIKey      string
	BaseURL     string
	Environment string
	Timeout     time.Duration
}

type CheckoutConfig struct {
	OfferPollInterval     time.Duration
	OfferPollMaxAttempts  int
	SettlePollInterval    time.Duration
	SettlePollMaxAttempts int
	IntentCacheTTL        time.Duration
	IntentCacheSize       int
	SessionLockTTL        time.Duration
	ConfirmIdempotencyTTL time.Duration
}

type ChatConfig struct {
	MaxSteps     int
	SessionTTL   time.Duration
	SystemPrompt string
}

const defaultSystemPrompt = `You are a helpful AI assistant that can search for products and assist with shopping tasks.

Be friendly, informative, and helpful in your responses. Use the searchProducts tool when the user is looking for something to buy, compareProducts when they want to weigh options against each other, and suggestFollowups to propose next steps after a search.

You are currently in the United States.`

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			TopicCheckout: getEnv("KAFKA_TOPIC_CHECKOUT_EVENTS", "checkout-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "checkout-ledger-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		LLM: LLMConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Catalog: CatalogConfig{
			BaseURL:        getEnv("CATALOG_BASE_URL", "https://www.amazon.com"),
			RPS:            getEnvFloat("CATALOG_RPS", 1),
			Burst:          getEnvInt("CATALOG_BURST", 2),
			FetchTimeout:   getEnvSeconds("CATALOG_FETCH_TIMEOUT_SECONDS", 15),
			SearchCacheTTL: getEnvSeconds("SEARCH_CACHE_TTL_SECONDS", 600),
			EnrichResults:  getEnvBool("CATALOG_ENRICH_RESULTS", true),
		},
		Commerce: CommerceConfig{
			APIKey:      getEnv("COMMERCE_API_KEY", ""),
			BaseURL:     getEnv("COMMERCE_API_BASE", ""),
			Environment: getEnv("COMMERCE_ENVIRONMENT", "staging"),
			Timeout:     getEnvSeconds("COMMERCE_TIMEOUT_SECONDS", 30),
		},
		Checkout: CheckoutConfig{
			OfferPollInterval:     getEnvMillis("CHECKOUT_OFFER_POLL_INTERVAL_MS", 2000),
			OfferPollMaxAttempts:  getEnvMinInt("CHECKOUT_OFFER_POLL_MAX_ATTEMPTS", 90, 1),
			SettlePollInterval:    getEnvMillis("CHECKOUT_SETTLE_POLL_INTERVAL_MS", 1000),
			SettlePollMaxAttempts: getEnvMinInt("CHECKOUT_SETTLE_POLL_MAX_ATTEMPTS", 300, 1),
			IntentCacheTTL:        getEnvSeconds("CHECKOUT_CACHE_TTL_SECONDS", 900),
			IntentCacheSize:       getEnvInt("CHECKOUT_CACHE_SIZE", 1024),
			SessionLockTTL:        getEnvSeconds("CHECKOUT_LOCK_TTL_SECONDS", 1800),
			ConfirmIdempotencyTTL: getEnvSeconds("CHECKOUT_CONFIRM_KEY_TTL_SECONDS", 86400),
		},
		Chat: ChatConfig{
			MaxSteps:     getEnvInt("CHAT_MAX_STEPS", 2),
			SessionTTL:   time.Duration(getEnvInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
			SystemPrompt: getEnv("CHAT_SYSTEM_PROMPT", defaultSystemPrompt),
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, model=%s", cfg.Server.Env, cfg.Server.Port, cfg.LLM.Model)
	return cfg
}

// CommerceBaseURL resolves the commerce API base, falling back to the
// environment's well-known host.
func (c CommerceConfig) CommerceBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Environment == "production" {
		return "https://api.rye.com"
	}
	return "https://staging.api.rye.com"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvMinInt clamps the value up to minVal so a zero cannot disable a bound
func getEnvMinInt(key string, defaultVal, minVal int) int {
	if n := getEnvInt(key, defaultVal); n > minVal {
		return n
	}
	return minVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvSeconds(key string, defaultVal int) time.Duration {
	return time.Duration(getEnvInt(key, defaultVal)) * time.Second
}

func getEnvMillis(key string, defaultVal int) time.Duration {
	return time.Duration(getEnvInt(key, defaultVal)) * time.Millisecond
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
