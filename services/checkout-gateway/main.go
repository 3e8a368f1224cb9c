package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storepay/checkout"
	"storepay/ledger"
	"storepay/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("checkout-gateway", cfg.Environment)
	logger.Info("configuration loaded",
		"ledger_url", cfg.LedgerURL,
		logging.MaskSecret("ledger_token", cfg.LedgerToken),
		"payment_asset", cfg.PaymentAsset.String(),
		"loyalty_asset", cfg.LoyaltyAsset.String(),
	)

	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	merchantKey, err := cfg.MerchantKey()
	if err != nil {
		log.Fatalf("parse merchant key: %v", err)
	}
	if merchantKey == nil {
		logger.Warn("merchant signing key not set; construction requests will fail until it is",
			"env", cfg.MerchantKeyEnv)
	}

	client := ledger.NewRPCClient(cfg.LedgerURL, cfg.LedgerToken, cfg.LedgerTimeout)
	svc := checkout.NewService(checkout.Config{
		Ledger:       client,
		MerchantKey:  merchantKey,
		PaymentAsset: cfg.PaymentAsset,
		LoyaltyAsset: cfg.LoyaltyAsset,
		Recorder:     store,
		CallTimeout:  cfg.LedgerTimeout,
		Logger:       logger,
	})

	server := NewServer(svc, cfg.ShopLabel, cfg.ShopIcon, cfg.RateLimitRPM, cfg.RateLimitBurst, logger)
	srv := &http.Server{Addr: cfg.ListenAddress, Handler: server}

	go func() {
		logger.Info("checkout gateway listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down checkout gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
