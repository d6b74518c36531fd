package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/payment-verification/internal/config"
	"github.com/akylbek/payment-system/payment-verification/internal/repository"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "payment-verification",
		Short: "Manual payment verification service",
		// serve is the default so the container entrypoint needs no arguments.
		RunE: runServe,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stores holds the connections and repositories every command needs.
type stores struct {
	db          *sql.DB
	redisClient *redis.Client
	records     *repository.PaymentRecordRepository
	enrollments *repository.EnrollmentRepository
	evidence    *repository.EvidenceRepository
	courses     *repository.CourseRepository
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})

	return &stores{
		db:          db,
		redisClient: redisClient,
		records:     repository.NewPaymentRecordRepository(db),
		enrollments: repository.NewEnrollmentRepository(db),
		evidence:    repository.NewEvidenceRepository(db, cfg.PublicBaseURL),
		courses:     repository.NewCourseRepository(db, redisClient, cfg.CourseCacheTTL),
	}, nil
}

// migrate creates every table the service owns. Order matters: activation markers are
// written alongside payment records.
func (s *stores) migrate() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"courses", s.courses.InitDB},
		{"payment_records", s.records.InitDB},
		{"enrollments", s.enrollments.InitDB},
		{"evidence_blobs", s.evidence.InitDB},
	}
	for _, step := range steps {
		if err := step.init(); err != nil {
			return fmt.Errorf("initialize %s: %w", step.name, err)
		}
	}
	return nil
}

func (s *stores) Close() {
	_ = s.redisClient.Close()
	_ = s.db.Close()
}
