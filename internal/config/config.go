package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Dispatch DispatchConfig
	Balance  BalanceConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// GatewayConfig seeds the initial account snapshot in the account store.
type GatewayConfig struct {
	BaseURL         string
	APIToken        string
	Sender          string
	ServiceLabel    string
	Timeout         time.Duration
	MinCredits      float64
	CheckMinCredits bool
}

type WebhookConfig struct {
	// Secret signs the X-Gwapi-Signature JWT on inbound DLRs.
	Secret string
	// RequireSignature rejects unsigned callbacks when true.
	RequireSignature bool
	// PublicBaseURL is the externally reachable origin used to build
	// the callback URL handed to the gateway.
	PublicBaseURL string
}

type DispatchConfig struct {
	Interval   time.Duration
	ClaimLimit int
	BatchLimit int
}

type BalanceConfig struct {
	Interval time.Duration
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}
	publicBaseURL, err := requireEnv("PUBLIC_BASE_URL")
	if err != nil {
		errs = append(errs, err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	timeoutSec, err := getEnvInt("GATEWAY_TIMEOUT_SECONDS", 30)
	if err != nil {
		errs = append(errs, err)
	}
	minCredits, err := getEnvFloat("GATEWAY_MIN_CREDITS", 0)
	if err != nil {
		errs = append(errs, err)
	}
	checkMinCredits, err := getEnvBool("GATEWAY_CHECK_MIN_CREDITS", false)
	if err != nil {
		errs = append(errs, err)
	}
	requireSignature, err := getEnvBool("WEBHOOK_REQUIRE_SIGNATURE", true)
	if err != nil {
		errs = append(errs, err)
	}
	dispatchSec, err := getEnvInt("DISPATCH_INTERVAL_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}
	claimLimit, err := getEnvInt("DISPATCH_CLAIM_LIMIT", 1000)
	if err != nil {
		errs = append(errs, err)
	}
	batchLimit, err := getEnvInt("DISPATCH_BATCH_LIMIT", 200)
	if err != nil {
		errs = append(errs, err)
	}
	balanceSec, err := getEnvInt("BALANCE_INTERVAL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Gateway: GatewayConfig{
			BaseURL:         getEnv("GATEWAY_BASE_URL", "https://gatewayapi.eu"),
			APIToken:        os.Getenv("GATEWAY_API_TOKEN"),
			Sender:          os.Getenv("GATEWAY_SENDER"),
			ServiceLabel:    getEnv("GATEWAY_SERVICE_LABEL", "sms"),
			Timeout:         time.Duration(timeoutSec) * time.Second,
			MinCredits:      minCredits,
			CheckMinCredits: checkMinCredits,
		},
		Webhook: WebhookConfig{
			Secret:           os.Getenv("WEBHOOK_JWT_SECRET"),
			RequireSignature: requireSignature,
			PublicBaseURL:    publicBaseURL,
		},
		Dispatch: DispatchConfig{
			Interval:   time.Duration(dispatchSec) * time.Second,
			ClaimLimit: claimLimit,
			BatchLimit: batchLimit,
		},
		Balance: BalanceConfig{
			Interval: time.Duration(balanceSec) * time.Second,
		},
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.Interval <= 0 {
		errs = append(errs, errors.New("DISPATCH_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Dispatch.ClaimLimit <= 0 {
		errs = append(errs, errors.New("DISPATCH_CLAIM_LIMIT must be > 0"))
	}
	if cfg.Dispatch.BatchLimit <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_LIMIT must be > 0"))
	}
	if cfg.Balance.Interval <= 0 {
		errs = append(errs, errors.New("BALANCE_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float for env %s: %s", key, v)
	}
	return f, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}
