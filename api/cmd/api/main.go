package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/givestake/ledger/api/config"
	"github.com/givestake/ledger/api/handlers"
	"github.com/givestake/ledger/api/metrics"
	"github.com/givestake/ledger/ledger/pkg/accountant"
	"github.com/givestake/ledger/ledger/pkg/asset"
	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/declaration"
	"github.com/givestake/ledger/ledger/pkg/participation"
	"github.com/givestake/ledger/ledger/pkg/settlement"
	"github.com/givestake/ledger/notify"
	"github.com/givestake/ledger/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "Enable pprof server")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for API requests")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")

	flag.Parse()

	// Load .env if present; real deployments set env vars directly.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	pgCfg, err := config.LoadPgConfigFromEnv()
	if err != nil {
		return err
	}
	if err := config.RunMigrations(log, pgCfg.ConnStr()); err != nil {
		return err
	}
	pool, err := config.NewPool(ctx, log, pgCfg.ConnStr())
	if err != nil {
		return err
	}
	defer pool.Close()

	ledgerCfg, err := config.LoadLedgerConfigFromEnv()
	if err != nil {
		return err
	}

	var transferrer asset.Transferrer
	var token asset.RewardToken
	if ledgerCfg.CustodyURL != "" {
		client := asset.NewClient(ledgerCfg.CustodyURL, ledgerCfg.Treasury, log).
			WithObserver(metrics.RecordCustodyCall)
		transferrer = client
		token = client
		log.Info("using custody service", "url", ledgerCfg.CustodyURL)
	} else {
		bank := asset.NewMemory(ledgerCfg.Treasury)
		transferrer = bank
		token = bank
		log.Warn("LEDGER_CUSTODY_URL not set, using in-process asset bank; balances do not survive restarts")
	}

	store, err := challenge.NewStore(challenge.StoreConfig{
		Logger: log,
		Pool:   pool,
	})
	if err != nil {
		return fmt.Errorf("failed to create challenge store: %w", err)
	}

	participationMgr, err := participation.NewManager(participation.ManagerConfig{
		Logger:   log,
		Pool:     pool,
		Asset:    transferrer,
		Token:    token,
		Treasury: ledgerCfg.Treasury,
		MinStake: ledgerCfg.MinStake,
	})
	if err != nil {
		return fmt.Errorf("failed to create participation manager: %w", err)
	}

	declarationEngine, err := declaration.NewEngine(declaration.EngineConfig{
		Logger:    log,
		Pool:      pool,
		Authority: ledgerCfg.Authority,
		Window:    ledgerCfg.DeclarationWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create declaration engine: %w", err)
	}

	settlementEngine, err := settlement.NewEngine(settlement.EngineConfig{
		Logger:              log,
		Pool:                pool,
		Asset:               transferrer,
		Token:               token,
		Authority:           ledgerCfg.Authority,
		FeeBps:              ledgerCfg.FeeBps,
		RewardShareBps:      ledgerCfg.RewardShareBps,
		DeclarationTimeout:  ledgerCfg.DeclarationTimeout,
		FinalizeGracePeriod: ledgerCfg.FinalizeGracePeriod,
	})
	if err != nil {
		return fmt.Errorf("failed to create settlement engine: %w", err)
	}

	feeAccountant, err := accountant.NewAccountant(accountant.AccountantConfig{
		Logger:    log,
		Pool:      pool,
		Asset:     transferrer,
		Authority: ledgerCfg.Authority,
	})
	if err != nil {
		return fmt.Errorf("failed to create accountant: %w", err)
	}

	var notifier handlers.SettlementNotifier
	if ledgerCfg.SlackBotToken != "" && ledgerCfg.SlackChannel != "" {
		slackNotifier, err := notify.NewSlack(notify.SlackConfig{
			Logger:  log,
			Token:   ledgerCfg.SlackBotToken,
			Channel: ledgerCfg.SlackChannel,
		})
		if err != nil {
			return fmt.Errorf("failed to create slack notifier: %w", err)
		}
		notifier = slackNotifier
		log.Info("slack settlement notifications enabled", "channel", ledgerCfg.SlackChannel)
	}

	server, err := handlers.NewServer(handlers.ServerConfig{
		Logger:         log,
		Store:          store,
		Participation:  participationMgr,
		Declaration:    declarationEngine,
		Settlement:     settlementEngine,
		Accountant:     feeAccountant,
		Notifier:       notifier,
		Version:        handlers.VersionInfo{Version: version, Commit: commit, Date: date},
		AllowedOrigins: ledgerCfg.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              *listenAddrFlag,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("ledger api listening", "address", *listenAddrFlag, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to listen and serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, draining in-flight requests", "timeout", *shutdownTimeoutFlag)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeoutFlag)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("ledger api shutdown complete")
	return nil
}
