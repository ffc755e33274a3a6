// Package config provides configuration management for the deposit scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	BSC      BSCConfig
	TRON     TronConfig
	Monitor  MonitorConfig
	Sweep    SweepConfig
	Gas      GasConfig
	Price    PriceConfig
	Telegram TelegramConfig
	Logging  LoggingConfig
	Wallet   WalletConfig
}

// ServerConfig holds admin API server configuration
type ServerConfig struct {
	Port         string
	Host         string
	RequestsPerS int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the postgres:// URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration. The transfer archive is
// optional.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// BSCConfig holds BNB Smart Chain node and explorer configuration
type BSCConfig struct {
	Enabled           bool
	RPCPrimary        string
	RPCSecondary      string
	ChainID           int64
	ExplorerURL       string
	ExplorerAPIKey    string
	ExplorerChainID   int
	TreasuryAddress   string
	StableContracts   map[string]string // currency -> contract address
	BatchSize         uint64
	LargeGapThreshold uint64
	RequestsPerSecond float64
	SharedQuota       int // explorer requests per second across processes, 0 disables
}

// TronConfig holds TRON node and TronGrid configuration
type TronConfig struct {
	Enabled           bool
	GRPCAddress       string
	APIURL            string
	APIKey            string
	TreasuryAddress   string
	USDTContract      string
	PageLimit         int
	MaxPages          int
	RequestsPerSecond float64
	SharedQuota       int
}

// MonitorConfig holds the periodic cycle configuration
type MonitorConfig struct {
	Interval         time.Duration
	InterWalletDelay time.Duration
	ReadTimeout      time.Duration
	BroadcastTimeout time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
}

// SweepConfig holds sweep execution configuration
type SweepConfig struct {
	AllowCustomDestination bool
	LockTTL                time.Duration
}

// GasConfig holds fee estimation configuration
type GasConfig struct {
	BSCGasPriceFloorGwei decimal.Decimal
	SafetyMultiplier     decimal.Decimal
	BSCFallbackBNB       decimal.Decimal
	TRONFallbackTRX      decimal.Decimal
	TRONEnergyFeeSun     int64
	RescueBumpPercent    int64
}

// PriceConfig holds price oracle configuration
type PriceConfig struct {
	OracleURL       string
	RefreshInterval time.Duration
	Tickers         []string
}

// TelegramConfig holds notification bot configuration
type TelegramConfig struct {
	BotToken string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// WalletConfig holds the master seed material
type WalletConfig struct {
	MasterMnemonic string
	Passphrase     string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			RequestsPerS: getEnvAsInt("SERVER_REQUESTS_PER_SECOND", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "ntx_miner"),
				User:           getEnv("POSTGRES_USER", "miner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "ntx_miner"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		BSC: BSCConfig{
			Enabled:         getEnvAsBool("BSC_ENABLED", true),
			RPCPrimary:      getEnv("BSC_RPC_PRIMARY", "https://bsc-dataseed.binance.org/"),
			RPCSecondary:    getEnv("BSC_RPC_SECONDARY", "https://bsc-dataseed1.binance.org/"),
			ChainID:         int64(getEnvAsInt("BSC_CHAIN_ID", 56)),
			ExplorerURL:     getEnv("BSC_EXPLORER_URL", "https://api.etherscan.io/v2/api"),
			ExplorerAPIKey:  getEnv("BSC_EXPLORER_API_KEY", ""),
			ExplorerChainID: getEnvAsInt("BSC_EXPLORER_CHAIN_ID", 56),
			TreasuryAddress: getEnv("BSC_TREASURY_ADDRESS", ""),
			StableContracts: map[string]string{
				"USDT": getEnv("BSC_USDT_CONTRACT", "0x55d398326f99059fF775485246999027B3197955"),
				"USDC": getEnv("BSC_USDC_CONTRACT", "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"),
				"BUSD": getEnv("BSC_BUSD_CONTRACT", "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"),
			},
			BatchSize:         uint64(getEnvAsInt("BSC_SCAN_BATCH_SIZE", 2000)),
			LargeGapThreshold: uint64(getEnvAsInt("BSC_SCAN_LARGE_GAP", 5000)),
			RequestsPerSecond: getEnvAsFloat("BSC_EXPLORER_RPS", 4),
			SharedQuota:       getEnvAsInt("BSC_EXPLORER_SHARED_QUOTA", 5),
		},
		TRON: TronConfig{
			Enabled:           getEnvAsBool("TRON_ENABLED", true),
			GRPCAddress:       getEnv("TRON_GRPC_ADDRESS", "grpc.trongrid.io:50051"),
			APIURL:            getEnv("TRON_API_URL", "https://api.trongrid.io"),
			APIKey:            getEnv("TRON_API_KEY", ""),
			TreasuryAddress:   getEnv("TRON_TREASURY_ADDRESS", ""),
			USDTContract:      getEnv("TRON_USDT_CONTRACT", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
			PageLimit:         getEnvAsInt("TRON_PAGE_LIMIT", 200),
			MaxPages:          getEnvAsInt("TRON_MAX_PAGES", 50),
			RequestsPerSecond: getEnvAsFloat("TRON_API_RPS", 5),
			SharedQuota:       getEnvAsInt("TRON_API_SHARED_QUOTA", 0),
		},
		Monitor: MonitorConfig{
			Interval:         getEnvAsDuration("MONITOR_INTERVAL", 60*time.Second),
			InterWalletDelay: getEnvAsDuration("MONITOR_INTER_WALLET_DELAY", time.Second),
			ReadTimeout:      getEnvAsDuration("CHAIN_READ_TIMEOUT", 10*time.Second),
			BroadcastTimeout: getEnvAsDuration("CHAIN_BROADCAST_TIMEOUT", 20*time.Second),
			RetryAttempts:    getEnvAsInt("EXPLORER_RETRY_ATTEMPTS", 4),
			RetryBaseDelay:   getEnvAsDuration("EXPLORER_RETRY_BASE_DELAY", time.Second),
		},
		Sweep: SweepConfig{
			AllowCustomDestination: getEnvAsBool("SWEEP_ALLOW_CUSTOM_DESTINATION", false),
			LockTTL:                getEnvAsDuration("SWEEP_LOCK_TTL", 2*time.Minute),
		},
		Gas: GasConfig{
			BSCGasPriceFloorGwei: getEnvAsDecimal("GAS_BSC_PRICE_FLOOR_GWEI", decimal.NewFromInt(3)),
			SafetyMultiplier:     getEnvAsDecimal("GAS_SAFETY_MULTIPLIER", decimal.RequireFromString("1.2")),
			BSCFallbackBNB:       getEnvAsDecimal("GAS_BSC_FALLBACK_BNB", decimal.RequireFromString("0.0005")),
			TRONFallbackTRX:      getEnvAsDecimal("GAS_TRON_FALLBACK_TRX", decimal.NewFromInt(30)),
			TRONEnergyFeeSun:     int64(getEnvAsInt("GAS_TRON_ENERGY_FEE_SUN", 420)),
			RescueBumpPercent:    int64(getEnvAsInt("RESCUE_GAS_BUMP_PERCENT", 15)),
		},
		Price: PriceConfig{
			OracleURL:       getEnv("PRICE_ORACLE_URL", "https://api.binance.com"),
			RefreshInterval: getEnvAsDuration("PRICE_REFRESH_INTERVAL", 3*time.Hour),
			Tickers:         splitList(getEnv("PRICE_TICKERS", "BNB,TRX")),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Wallet: WalletConfig{
			MasterMnemonic: getEnv("MASTER_MNEMONIC", ""),
			Passphrase:     getEnv("MASTER_PASSPHRASE", ""),
		},
	}

	return config, nil
}

// Validate checks the settings the scanning and sweeping processes cannot
// start without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Wallet.MasterMnemonic) == "" {
		return fmt.Errorf("MASTER_MNEMONIC is required")
	}
	if !c.BSC.Enabled && !c.TRON.Enabled {
		return fmt.Errorf("at least one of BSC_ENABLED or TRON_ENABLED must be true")
	}
	if c.BSC.Enabled && c.BSC.BatchSize == 0 {
		return fmt.Errorf("BSC_SCAN_BATCH_SIZE must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
