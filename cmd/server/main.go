// Package main provides the admin API server entry point: wallet
// assignment, sweeps, gas dispatch, balance refresh and transaction rescue.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deposit-scanner/internal/api"
	"github.com/deposit-scanner/internal/bootstrap"
	"github.com/deposit-scanner/internal/gas"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/rescue"
	"github.com/deposit-scanner/internal/service"
	"github.com/deposit-scanner/internal/sweep"
	"github.com/deposit-scanner/internal/types"
)

func main() {
	cfg, logger, err := bootstrap.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Admin server starting")

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	infra, err := bootstrap.OpenInfra(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}
	defer infra.Close()

	chains, err := bootstrap.OpenChains(ctx, cfg, infra.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize chain adapters")
	}
	defer chains.Close()

	stables := bootstrap.StableContracts(cfg.BSC)
	treasuries := bootstrap.Treasuries(cfg)
	lock := infra.WalletLock()

	estimator := gas.NewEstimator(chains.BSC(), chains.TRON(), gas.Config{
		FloorGwei:          cfg.Gas.BSCGasPriceFloorGwei,
		Multiplier:         cfg.Gas.SafetyMultiplier,
		BSCFallbackBNB:     cfg.Gas.BSCFallbackBNB,
		TRONFallbackTRX:    cfg.Gas.TRONFallbackTRX,
		TRONEnergyFeeSun:   cfg.Gas.TRONEnergyFeeSun,
		BSCTreasury:        cfg.BSC.TreasuryAddress,
		TRONTreasury:       cfg.TRON.TreasuryAddress,
		BSCStableContracts: stables,
		TRONUSDTContract:   cfg.TRON.USDTContract,
		ReadTimeout:        cfg.Monitor.ReadTimeout,
	})

	executor := sweep.NewExecutor(sweep.Deps{
		Wallets:   infra.Wallets,
		Recorder:  infra.Ledger,
		Pending:   infra.Pending,
		Lock:      lock,
		Signer:    infra.Creds,
		Estimator: estimator,
		BSC:       chains.BSC(),
		TRON:      chains.TRON(),
	}, sweep.Config{
		Treasuries:             treasuries,
		AllowCustomDestination: cfg.Sweep.AllowCustomDestination,
		BSCStableContracts:     stables,
		TRONUSDTContract:       cfg.TRON.USDTContract,
		ReadTimeout:            cfg.Monitor.ReadTimeout,
		BroadcastTimeout:       cfg.Monitor.BroadcastTimeout,
	})

	rescuer := rescue.New(infra.Pending, chains.BSC(), infra.Creds, lock, estimator, rescue.Config{
		BumpPercent:      cfg.Gas.RescueBumpPercent,
		ReadTimeout:      cfg.Monitor.ReadTimeout,
		BroadcastTimeout: cfg.Monitor.BroadcastTimeout,
	})

	heads := map[types.ChainID]service.HeadSource{}
	if chains.BSCNode != nil {
		heads[types.ChainBSC] = chains.BSCNode
	}
	wallets := service.NewWalletService(infra.Wallets, infra.Users, infra.Creds,
		heads, chains.Enabled(), cfg.Monitor.ReadTimeout)

	checks := make(map[string]api.HealthCheck)
	for name, check := range infra.HealthChecks() {
		checks[name] = check
	}

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Monitor.BroadcastTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.Server.RequestsPerS,
		Logger:            logger,
	}, api.Services{
		Wallets: wallets,
		Sweeper: executor,
		Rescuer: rescuer,
		Pending: infra.Pending,
		Checks:  checks,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Admin server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Admin server shutdown failed")
	}
	logger.Info("Admin server stopped")
}
