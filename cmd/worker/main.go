// Package main provides the deposit monitor entry point: chain scans,
// pending outbound polling, price refresh and the unpriced retry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deposit-scanner/internal/bootstrap"
	"github.com/deposit-scanner/internal/ledger"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/scanner"
	"github.com/deposit-scanner/internal/tracker"
	"github.com/deposit-scanner/internal/types"
	"github.com/deposit-scanner/internal/worker"
)

func main() {
	cfg, logger, err := bootstrap.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}
	logger.WithFields(map[string]interface{}{
		"interval":    cfg.Monitor.Interval.String(),
		"bscEnabled":  cfg.BSC.Enabled,
		"tronEnabled": cfg.TRON.Enabled,
	}).Info("Deposit worker starting")

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

	prices, refresher, err := infra.Prices(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize price oracle")
	}
	go refresher.Run(ctx)

	depositLedger := ledger.New(infra.Ledger, infra.Unpriced, infra.Wallets, prices, infra.Notifier(ctx))

	var archive scanner.Archive = scanner.NopArchive{}
	if a := infra.Archive(); a != nil {
		archive = a
	}
	deps := scanner.Deps{Ledger: depositLedger, Cursors: infra.Cursors, Archive: archive}

	var scanners []scanner.ChainScanner
	if chains.BSCNode != nil {
		hot, err := infra.Creds.HotWalletAddress(types.ChainBSC)
		if err != nil {
			logger.WithError(err).Fatal("Failed to derive BSC hot wallet")
		}
		contracts := make(map[string]types.Currency)
		for cur, addr := range bootstrap.StableContracts(cfg.BSC) {
			contracts[addr] = cur
		}
		scanners = append(scanners, scanner.NewBSCScanner(chains.BSCExplorer, chains.BSCNode, deps, scanner.BSCConfig{
			StableContracts:   contracts,
			BatchSize:         cfg.BSC.BatchSize,
			LargeGapThreshold: cfg.BSC.LargeGapThreshold,
			ReadTimeout:       cfg.Monitor.ReadTimeout,
			HotWallet:         hot,
		}))
	}
	if chains.TronNode != nil {
		hot, err := infra.Creds.HotWalletAddress(types.ChainTRON)
		if err != nil {
			logger.WithError(err).Fatal("Failed to derive TRON hot wallet")
		}
		scanners = append(scanners, scanner.NewTronScanner(chains.TronGrid, deps, scanner.TronConfig{
			USDTContract: cfg.TRON.USDTContract,
			HotWallet:    hot,
		}))
	}

	monitor, err := worker.NewMonitor(worker.Config{
		Scanners:         scanners,
		Wallets:          infra.Wallets,
		Tracker:          tracker.New(infra.Pending, chains.ReceiptSources(), cfg.Monitor.ReadTimeout),
		Ledger:           depositLedger,
		Interval:         cfg.Monitor.Interval,
		InterWalletDelay: cfg.Monitor.InterWalletDelay,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create monitor")
	}
	if err := monitor.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start monitor")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping monitor")

	// let an in-flight cycle finish its current wallet before cancelling
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()
	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Monitor did not stop cleanly")
	}
	cancel()

	logger.Info("Deposit worker stopped")
}
