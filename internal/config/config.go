// Package config loads engine settings from environment variables with
// sensible defaults. A .env file is loaded by cmd before this runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

type Config struct {
	Environment string
	LogLevel    string

	Core struct {
		BaseURL string
	}

	Custody struct {
		MasterKeyHex string
	}

	Store struct {
		Driver string // "memory" or "sqlite"
		Path   string
	}

	Scheduler struct {
		Chain               types.Chain
		ScanInterval        time.Duration
		MinProfitUSD        float64
		MinConfidence       float64
		MaxDailyTrades      int
		EnabledStrategies   []string
		SlippageTolerance   float64
		AvailableCapitalUSD float64
		TradesPerMinute     int
	}

	Risk struct {
		MaxPriceImpact       float64
		MaxStablePriceImpact float64
		MaxSlippage          float64
		MaxLossPerHourUSD    float64
		MaxLossPerDayUSD     float64
		MaxConsecutiveLosses int
	}

	Monitoring struct {
		PrometheusPort int
		HealthPort     int
	}

	Notifications struct {
		TelegramToken  string
		TelegramChatID string
	}
}

func Load() *Config {
	c := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	c.Core.BaseURL = getEnv("CORE_BASE_URL", "http://localhost:9545")

	c.Custody.MasterKeyHex = getEnv("CUSTODY_MASTER_KEY", "")

	c.Store.Driver = getEnv("STORE_DRIVER", "sqlite")
	c.Store.Path = getEnv("STORE_PATH", "delegations.db")

	c.Scheduler.Chain = types.Chain(getEnv("CHAIN", string(types.ChainArbitrum)))
	c.Scheduler.ScanInterval = getEnvDuration("SCAN_INTERVAL", 10*time.Second)
	c.Scheduler.MinProfitUSD = getEnvFloat("MIN_PROFIT_USD", 10)
	c.Scheduler.MinConfidence = getEnvFloat("MIN_CONFIDENCE", 0.5)
	c.Scheduler.MaxDailyTrades = getEnvInt("MAX_DAILY_TRADES", 50)
	c.Scheduler.EnabledStrategies = getEnvList("ENABLED_STRATEGIES")
	c.Scheduler.SlippageTolerance = getEnvFloat("SLIPPAGE_TOLERANCE", 0.01)
	c.Scheduler.AvailableCapitalUSD = getEnvFloat("AVAILABLE_CAPITAL_USD", 10000)
	c.Scheduler.TradesPerMinute = getEnvInt("TRADES_PER_MINUTE", 6)

	c.Risk.MaxPriceImpact = getEnvFloat("MAX_PRICE_IMPACT", 0.03)
	c.Risk.MaxStablePriceImpact = getEnvFloat("MAX_STABLE_PRICE_IMPACT", 0.005)
	c.Risk.MaxSlippage = getEnvFloat("MAX_SLIPPAGE", 0.02)
	c.Risk.MaxLossPerHourUSD = getEnvFloat("MAX_LOSS_PER_HOUR_USD", 500)
	c.Risk.MaxLossPerDayUSD = getEnvFloat("MAX_LOSS_PER_DAY_USD", 2000)
	c.Risk.MaxConsecutiveLosses = getEnvInt("MAX_CONSECUTIVE_LOSSES", 5)

	c.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", 8080)
	c.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", 8081)

	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	return c
}

// Validate rejects configurations the engine cannot safely start with.
func (c *Config) Validate() error {
	if c.Custody.MasterKeyHex == "" {
		return fmt.Errorf("CUSTODY_MASTER_KEY is required")
	}
	if len(strings.TrimPrefix(c.Custody.MasterKeyHex, "0x")) != 64 {
		return fmt.Errorf("CUSTODY_MASTER_KEY must be 32 bytes of hex")
	}
	if !c.Scheduler.Chain.IsSupported() {
		return fmt.Errorf("unsupported chain %q", c.Scheduler.Chain)
	}
	if c.Store.Driver != "memory" && c.Store.Driver != "sqlite" {
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required for the sqlite driver")
	}
	if c.Scheduler.ScanInterval < time.Second {
		return fmt.Errorf("SCAN_INTERVAL %v below minimum 1s", c.Scheduler.ScanInterval)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
