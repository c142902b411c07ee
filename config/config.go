package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App      AppConfig
	HTTP     ServerConfig
	MySQL    MySQLConfig
	Log      LogConfig
	NATS     NATSConfig
	Gateway  GatewayConfig
	Checkout CheckoutConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type NATSConfig struct {
	URL string
}

type GatewayConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

type CheckoutConfig struct {
	PollInterval       time.Duration
	PushPollBudget     int
	RecoveryPollBudget int
	StageCadence       time.Duration
	NoticeDebounce     time.Duration
	SessionTTL         time.Duration
	Rates              map[string]decimal.Decimal
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	gatewayBaseURL := os.Getenv("GATEWAY_BASE_URL")
	if gatewayBaseURL == "" {
		return nil, errors.New("GATEWAY_BASE_URL environment variable is required")
	}

	rates, err := parseRates(getEnv("CHECKOUT_RATES", defaultRatesJSON))
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "checkout-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:     gatewayBaseURL,
			HTTPTimeout: getSecondsEnv("GATEWAY_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Checkout: CheckoutConfig{
			PollInterval:       getSecondsEnv("CHECKOUT_POLL_INTERVAL_SECONDS", 3*time.Second),
			PushPollBudget:     getIntEnv("CHECKOUT_PUSH_POLL_BUDGET", 40),
			RecoveryPollBudget: getIntEnv("CHECKOUT_RECOVERY_POLL_BUDGET", 20),
			StageCadence:       getSecondsEnv("CHECKOUT_STAGE_CADENCE_SECONDS", 2*time.Second),
			NoticeDebounce:     getMillisEnv("CHECKOUT_NOTICE_DEBOUNCE_MILLIS", 200*time.Millisecond),
			SessionTTL:         getMinutesEnv("CHECKOUT_SESSION_TTL_MINUTES", 24*time.Hour),
			Rates:              rates,
		},
	}, nil
}

// Rates are quoted relative to the store base currency (KES).
const defaultRatesJSON = `{"KES":"1","UGX":"28.5","TZS":"19.8","NGN":"11.9","GHS":"0.11","ZAR":"0.14","USD":"0.0078","EUR":"0.0072","GBP":"0.0062"}`

func parseRates(raw string) (map[string]decimal.Decimal, error) {
	var quoted map[string]string
	if err := json.Unmarshal([]byte(raw), &quoted); err != nil {
		return nil, errors.New("CHECKOUT_RATES must be a JSON object of currency to rate")
	}
	rates := make(map[string]decimal.Decimal, len(quoted))
	for code, value := range quoted {
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, errors.New("CHECKOUT_RATES contains a non-decimal rate for " + code)
		}
		rates[code] = rate
	}
	return rates, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}
