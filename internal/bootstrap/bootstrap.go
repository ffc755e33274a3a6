// Package bootstrap builds the shared infrastructure of the worker and the
// admin server from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/deposit-scanner/internal/adapter"
	"github.com/deposit-scanner/internal/config"
	"github.com/deposit-scanner/internal/derive"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/notify"
	"github.com/deposit-scanner/internal/price"
	"github.com/deposit-scanner/internal/ratelimit"
	"github.com/deposit-scanner/internal/retry"
	"github.com/deposit-scanner/internal/storage"
	"github.com/deposit-scanner/internal/types"
)

// priceSnapshotTTL bounds how stale a mirrored snapshot may be on restart
const priceSnapshotTTL = 24 * time.Hour

// LoadConfig loads and validates configuration and installs the global
// logger
func LoadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	log := logging.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		return nil, log, err
	}
	return cfg, log, nil
}

// Infra holds the stores and credentials both processes share
type Infra struct {
	Config     *config.Config
	Creds      *derive.CredentialProvider
	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB

	Wallets  *storage.WalletRepository
	Cursors  *storage.CursorStore
	Ledger   *storage.LedgerRepository
	Pending  *storage.PendingTxRepository
	Unpriced *storage.UnpricedRepository
	Users    *storage.UserRepository
}

// OpenInfra derives the master credentials and connects to Postgres, Redis
// and, when enabled, ClickHouse
func OpenInfra(ctx context.Context, cfg *config.Config) (*Infra, error) {
	log := logging.FromContext(ctx)

	creds, err := derive.NewCredentialProvider(cfg.Wallet.MasterMnemonic, cfg.Wallet.Passphrase)
	if err != nil {
		return nil, err
	}

	pg, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	rd, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	infra := &Infra{
		Config:   cfg,
		Creds:    creds,
		Postgres: pg,
		Redis:    rd,
		Wallets:  storage.NewWalletRepository(pg),
		Cursors:  storage.NewCursorStore(pg),
		Ledger:   storage.NewLedgerRepository(pg),
		Pending:  storage.NewPendingTxRepository(pg),
		Unpriced: storage.NewUnpricedRepository(pg),
		Users:    storage.NewUserRepository(pg),
	}

	if cfg.Database.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			// the archive is an analytics mirror; scanning works without it
			log.WithError(err).Warn("ClickHouse unavailable, transfer archive disabled")
		} else {
			infra.ClickHouse = ch
		}
	}

	log.Info("Database connections established")
	return infra, nil
}

// Close releases every connection
func (i *Infra) Close() {
	if i.ClickHouse != nil {
		_ = i.ClickHouse.Close()
	}
	_ = i.Redis.Close()
	i.Postgres.Close()
}

// Archive returns the ClickHouse transfer archive, or nil when disabled
func (i *Infra) Archive() *storage.TransferArchive {
	if i.ClickHouse == nil {
		return nil
	}
	return storage.NewTransferArchive(i.ClickHouse)
}

// HealthChecks returns one ping per connected store
func (i *Infra) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"postgres": i.Postgres.Ping,
		"redis":    i.Redis.Ping,
	}
	if i.ClickHouse != nil {
		checks["clickhouse"] = i.ClickHouse.Ping
	}
	return checks
}

// WalletLock returns the Redis lock guarding sweeps, gas dispatch and rescue
func (i *Infra) WalletLock() *storage.WalletLock {
	return storage.NewWalletLock(i.Redis, i.Config.Sweep.LockTTL)
}

// Notifier returns the Telegram notifier, or a no-op one when no bot token
// is configured or the bot cannot authenticate
func (i *Infra) Notifier(ctx context.Context) notify.Notifier {
	if i.Config.Telegram.BotToken == "" {
		return notify.Nop{}
	}
	tg, err := notify.NewTelegram(i.Config.Telegram.BotToken, "", i.Users)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Telegram notifier disabled")
		return notify.Nop{}
	}
	return tg
}

// Prices builds the price cache and its refresher, warming the cache from
// the Redis mirror
func (i *Infra) Prices(ctx context.Context) (*price.Cache, *price.Refresher, error) {
	currencies := make([]types.Currency, 0, len(i.Config.Price.Tickers))
	for _, t := range i.Config.Price.Tickers {
		c, err := types.ParseCurrency(t)
		if err != nil {
			return nil, nil, fmt.Errorf("PRICE_TICKERS: %w", err)
		}
		currencies = append(currencies, c)
	}

	cache := price.NewCache()
	oracle := price.NewBinanceOracle(i.Config.Price.OracleURL, i.Config.Monitor.ReadTimeout, ExplorerRetry(i.Config.Monitor))
	snapshots := storage.NewPriceSnapshotStore(i.Redis, priceSnapshotTTL)
	refresher := price.NewRefresher(cache, oracle, snapshots, currencies, i.Config.Price.RefreshInterval)
	refresher.Warm(ctx)
	return cache, refresher, nil
}

// ExplorerRetry returns the read retry policy for explorers and the oracle
func ExplorerRetry(cfg config.MonitorConfig) *retry.Config {
	rc := retry.DefaultConfig()
	if cfg.RetryAttempts > 0 {
		rc.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		rc.InitialDelay = cfg.RetryBaseDelay
	}
	return rc
}

// StableContracts maps each configured BEP-20 stablecoin to its contract
func StableContracts(cfg config.BSCConfig) map[types.Currency]string {
	out := make(map[types.Currency]string, len(cfg.StableContracts))
	for cur, addr := range cfg.StableContracts {
		if addr == "" {
			continue
		}
		out[types.Currency(cur)] = addr
	}
	return out
}

// Chains holds the node and explorer clients of the enabled chains
type Chains struct {
	BSCNode     *adapter.BSCNodeClient
	BSCExplorer *adapter.EtherscanClient
	TronNode    *adapter.TronNodeClient
	TronGrid    *adapter.TronGridClient
}

// ExplorerQuota returns the cross-process request budget for an explorer
// key, or nil when cache is nil or budget is zero
func ExplorerQuota(cache *storage.RedisCache, provider string, budget int) (adapter.Quota, error) {
	if cache == nil || budget <= 0 {
		return nil, nil
	}
	q, err := ratelimit.NewSharedQuota(&ratelimit.SharedQuotaConfig{
		Redis:    cache.Client(),
		Provider: provider,
		Budget:   budget,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s quota: %w", provider, err)
	}
	return q, nil
}

// OpenChains dials the nodes and builds the explorer clients of every
// enabled chain. Explorer keys share their quota through cache when it is
// non-nil.
func OpenChains(ctx context.Context, cfg *config.Config, cache *storage.RedisCache) (*Chains, error) {
	log := logging.FromContext(ctx)
	c := &Chains{}
	readRetry := ExplorerRetry(cfg.Monitor)

	if cfg.BSC.Enabled {
		provider, err := adapter.NewRPCProvider(cfg.BSC.RPCPrimary, cfg.BSC.RPCSecondary)
		if err != nil {
			return nil, err
		}
		node, err := adapter.NewBSCNodeClient(ctx, provider, cfg.BSC.ChainID)
		if err != nil {
			return nil, err
		}
		c.BSCNode = node
		quota, err := ExplorerQuota(cache, "etherscan", cfg.BSC.SharedQuota)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.BSCExplorer = adapter.NewEtherscanClient(adapter.EtherscanConfig{
			APIKey:            cfg.BSC.ExplorerAPIKey,
			BaseURL:           cfg.BSC.ExplorerURL,
			ChainID:           cfg.BSC.ExplorerChainID,
			RequestsPerSecond: cfg.BSC.RequestsPerSecond,
			Timeout:           cfg.Monitor.ReadTimeout,
			Retry:             readRetry,
			Quota:             quota,
		})
		log.WithField("chainId", cfg.BSC.ChainID).Info("BSC adapters initialized")
	}

	if cfg.TRON.Enabled {
		node, err := adapter.NewTronNodeClient(adapter.TronNodeConfig{
			Address:          cfg.TRON.GRPCAddress,
			APIKey:           cfg.TRON.APIKey,
			ReadTimeout:      cfg.Monitor.ReadTimeout,
			BroadcastTimeout: cfg.Monitor.BroadcastTimeout,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.TronNode = node
		quota, err := ExplorerQuota(cache, "trongrid", cfg.TRON.SharedQuota)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.TronGrid = adapter.NewTronGridClient(adapter.TronGridConfig{
			APIKey:            cfg.TRON.APIKey,
			BaseURL:           cfg.TRON.APIURL,
			PageLimit:         cfg.TRON.PageLimit,
			MaxPages:          cfg.TRON.MaxPages,
			RequestsPerSecond: cfg.TRON.RequestsPerSecond,
			Timeout:           cfg.Monitor.ReadTimeout,
			Retry:             readRetry,
			Quota:             quota,
		})
		log.WithField("grpc", cfg.TRON.GRPCAddress).Info("TRON adapters initialized")
	}

	return c, nil
}

// Close stops the node connections
func (c *Chains) Close() {
	if c.BSCNode != nil {
		c.BSCNode.Close()
	}
	if c.TronNode != nil {
		c.TronNode.Close()
	}
}

// BSC returns the BSC node, or a nil interface when BSC is disabled
func (c *Chains) BSC() adapter.BSCNode {
	if c.BSCNode == nil {
		return nil
	}
	return c.BSCNode
}

// TRON returns the TRON node, or a nil interface when TRON is disabled
func (c *Chains) TRON() adapter.TronNode {
	if c.TronNode == nil {
		return nil
	}
	return c.TronNode
}

// Enabled lists the chains with live clients
func (c *Chains) Enabled() []types.ChainID {
	var out []types.ChainID
	if c.BSCNode != nil {
		out = append(out, types.ChainBSC)
	}
	if c.TronNode != nil {
		out = append(out, types.ChainTRON)
	}
	return out
}

// ReceiptSources returns the receipt lookup of every enabled chain
func (c *Chains) ReceiptSources() map[types.ChainID]adapter.ReceiptSource {
	out := make(map[types.ChainID]adapter.ReceiptSource, 2)
	if c.BSCNode != nil {
		out[types.ChainBSC] = c.BSCNode
	}
	if c.TronNode != nil {
		out[types.ChainTRON] = c.TronNode
	}
	return out
}

// Treasuries maps each chain to its configured treasury address
func Treasuries(cfg *config.Config) map[types.ChainID]string {
	return map[types.ChainID]string{
		types.ChainBSC:  cfg.BSC.TreasuryAddress,
		types.ChainTRON: cfg.TRON.TreasuryAddress,
	}
}
