package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/api"
	"github.com/akylbek/payment-system/payment-verification/internal/auth"
	"github.com/akylbek/payment-system/payment-verification/internal/config"
	"github.com/akylbek/payment-system/payment-verification/internal/evidence"
	"github.com/akylbek/payment-system/payment-verification/internal/grpcserver"
	"github.com/akylbek/payment-system/payment-verification/internal/handlers"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/lock"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/notify"
	"github.com/akylbek/payment-system/payment-verification/internal/service"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health server and background sweeps",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	if err := telemetry.InitTelemetry(telemetry.ServiceName, cfg.JaegerEndpoint); err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Payment Verification")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.migrate(); err != nil {
		return err
	}

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL, nats.Name(telemetry.ServiceName))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	// Connect to Kafka
	kafkaWriter := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.KafkaBrokers, ",")...),
		Topic:        notify.EventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	defer kafkaWriter.Close()

	channels := []interfaces.Channel{notify.NewOperatorChannel(kafkaWriter), notify.NewEmailChannel(nc)}
	if cfg.NotifySMSEnabled {
		channels = append(channels, notify.NewSMSChannel(nc))
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyWorkers, cfg.NotifyQueueSize, channels...)
	defer dispatcher.Close()

	intake := evidence.NewIntake(st.evidence, cfg.EvidenceMaxFiles, cfg.EvidenceMaxBytes)
	activator := service.NewEnrollmentActivator(st.enrollments, cfg.ReconcileBatchSize)
	submissions := service.NewSubmissionService(st.records, st.courses, intake, dispatcher, cfg.SubmissionMaxIDAttempts)
	queue := service.NewQueueService(st.records, cfg.Timezone)
	verifier := service.NewVerificationService(st.records, activator, dispatcher, cfg.EnrollmentAttemptTimeout)
	expiry := service.NewExpirySweeper(st.records, verifier, cfg.RequestInfoTTL)

	locker := lock.NewRedisLocker(st.redisClient)
	go service.RunPeriodically(ctx, locker, "enrollment-reconcile", cfg.ReconcileInterval, func(ctx context.Context) error {
		_, err := activator.Reconcile(ctx)
		return err
	})
	go service.RunPeriodically(ctx, locker, "request-info-expiry", cfg.ExpiryInterval, func(ctx context.Context) error {
		n, err := expiry.Sweep(ctx)
		if n > 0 {
			telemetry.Logger.Info("Expired unanswered information requests", zap.Int("count", n))
		}
		return err
	})

	health := grpcserver.NewHealthServer(st.db, 10*time.Second)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}
	go health.Watch(ctx)
	go func() {
		telemetry.Logger.Info("gRPC health server starting", zap.String("port", cfg.GRPCPort))
		if err := health.Serve(lis); err != nil {
			telemetry.Logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	router := api.NewRouter(api.Handlers{
		Payments: handlers.NewPaymentHandler(submissions, verifier, st.records, st.courses, intake, st.evidence, cfg.Timezone),
		Admin:    handlers.NewAdminHandler(queue, verifier, st.evidence),
		Evidence: handlers.NewEvidenceHandler(st.evidence, st.records),
	}, auth.NewProvider(cfg.JWTSecret), cfg.CORSAllowedOrigins, st.db.PingContext)

	// Setup HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		telemetry.Logger.Info("Payment Verification starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		telemetry.Logger.Error("Failed to start server", zap.Error(err))
		stop()
	}

	telemetry.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	health.Stop()

	telemetry.Logger.Info("Server exited")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the service's tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := telemetry.InitLogger(); err != nil {
				return err
			}
			defer func() { _ = telemetry.Logger.Sync() }()

			st, err := openStores(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one enrollment reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := telemetry.InitLogger(); err != nil {
				return err
			}
			defer func() { _ = telemetry.Logger.Sync() }()

			cfg := config.Load()
			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := service.NewEnrollmentActivator(st.enrollments, cfg.ReconcileBatchSize).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "activated: %d\nfailed:    %d\n", result.Activated, result.Failed)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID   string
		email    string
		reviewer bool
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET must be set")
			}
			tok, err := auth.NewProvider(cfg.JWTSecret).Issue(models.Identity{
				UserID:     userID,
				Email:      email,
				IsReviewer: reviewer,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().BoolVar(&reviewer, "reviewer", false, "grant reviewer access")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
