package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/paysync/internal/config"
	"github.com/mihaimyh/paysync/pkg/api"
	"github.com/mihaimyh/paysync/pkg/billing"
	billingprom "github.com/mihaimyh/paysync/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/paysync/pkg/billing/stripe"
	"github.com/mihaimyh/paysync/pkg/billing/yookassa"
	"github.com/mihaimyh/paysync/pkg/payment"
	zlog "github.com/mihaimyh/paysync/pkg/payment/logger/zerolog"
	paymentprom "github.com/mihaimyh/paysync/pkg/payment/metrics/prometheus"
)

const metricsNamespace = "paysync"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the payment API, webhooks and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides PAYSYNC_ADDR)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := zlog.NewLogger(newZerolog(cfg))
	reg := newRegistry()
	paymentMetrics := paymentprom.NewMetrics(reg, metricsNamespace)
	billingMetrics := billingprom.NewMetrics(reg, metricsNamespace)

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	updater, err := payment.NewUpdater(b.users, payment.UpdaterConfig{Logger: logger, Metrics: paymentMetrics})
	if err != nil {
		return err
	}

	var upgrader payment.Upgrader = payment.UpdaterUpgrader(updater)
	if cfg.UpgradeURL != "" {
		upgrader = api.NewUpgradeClient(cfg.UpgradeURL, cfg.InternalToken, nil)
		logger.Info("background retries sent to internal upgrade endpoint", payment.F("url", cfg.UpgradeURL))
	}
	dispatcher, err := payment.NewDispatcher(upgrader, payment.DispatcherConfig{
		Workers:   cfg.RetryWorkers,
		QueueSize: cfg.RetryQueue,
		Logger:    logger,
		Metrics:   paymentMetrics,
	})
	if err != nil {
		return err
	}

	billingConfig := billing.Config{Updater: updater, Logger: logger, Metrics: billingMetrics}

	stripeConfig := stripe.Config{
		Config:              billingConfig,
		StripeAPIKey:        cfg.StripeAPIKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:          cfg.StripeSuccessURL,
		CancelURL:           cfg.StripeCancelURL,
		PriceMapping:        map[payment.Tier]string{},
	}
	if cfg.StripePremiumPrice != "" {
		stripeConfig.PriceMapping[payment.TierPremium] = cfg.StripePremiumPrice
	}
	if cfg.StripeTeamPrice != "" {
		stripeConfig.PriceMapping[payment.TierTeam] = cfg.StripeTeamPrice
	}
	stripeProvider, err := stripe.NewProvider(stripeConfig)
	if err != nil {
		return err
	}

	yooConfig := billingConfig
	yooConfig.WebhookSecret = cfg.YooKassaWebhookSecret
	yooProvider, err := yookassa.NewProvider(yooConfig)
	if err != nil {
		return err
	}

	codec, err := payment.NewTokenCodec(cfg.TokenSecret)
	if err != nil {
		return err
	}
	serviceConfig := payment.Config{
		Codec:         codec,
		Records:       b.records,
		Updater:       updater,
		Retries:       dispatcher,
		BaseURL:       cfg.BaseURL,
		UpdateTimeout: cfg.UpdateTimeout,
		Logger:        logger,
		Metrics:       paymentMetrics,
	}
	if cfg.StripeAPIKey != "" {
		serviceConfig.Checkout = stripeProvider
	}
	service, err := payment.NewService(serviceConfig)
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Config{
		Service:        service,
		Updater:        updater,
		InternalToken:  cfg.InternalToken,
		Providers:      []billing.Provider{stripeProvider, yooProvider},
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HealthCheck:    b.Ping,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	dispatcher.Start(gctx)

	g.Go(func() error {
		logger.Info("paysyncd listening", payment.F("addr", cfg.Addr), payment.F("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", payment.F("pending_retries", dispatcher.Pending()))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if drainErr := service.Drain(shutdownCtx); drainErr != nil {
			logger.Warn("shutdown deadline reached before detached writes finished",
				payment.F("error", drainErr.Error()))
		}
		dispatcher.Close()
		return err
	})
	return g.Wait()
}
