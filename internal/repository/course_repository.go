package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

// CourseRepository reads the catalog table owned by the course subsystem, with a Redis
// read-through cache in front of it. A nil Redis client disables caching.
type CourseRepository struct {
	db          *sql.DB
	redisClient *redis.Client
	ttl         time.Duration
}

func NewCourseRepository(db *sql.DB, redisClient *redis.Client, ttl time.Duration) *CourseRepository {
	return &CourseRepository{db: db, redisClient: redisClient, ttl: ttl}
}

// InitDB creates the catalog table when this service runs without the course subsystem.
func (r *CourseRepository) InitDB() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS courses (
		id VARCHAR(255) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		price BIGINT NOT NULL CHECK (price >= 0)
	)`)
	return err
}

func (r *CourseRepository) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	key := fmt.Sprintf("course:%s", courseID)

	if r.redisClient != nil {
		raw, err := r.redisClient.Get(ctx, key).Bytes()
		if err == nil {
			var c models.Course
			if json.Unmarshal(raw, &c) == nil {
				return &c, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			telemetry.Logger.Warn("Course cache read failed", zap.String("course_id", courseID), zap.Error(err))
		}
	}

	var c models.Course
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, price FROM courses WHERE id = $1`, courseID,
	).Scan(&c.ID, &c.Title, &c.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "course", Err: err}
	}
	if err != nil {
		return nil, err
	}

	if r.redisClient != nil {
		payload, _ := json.Marshal(c)
		if err := r.redisClient.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			telemetry.Logger.Warn("Course cache write failed", zap.String("course_id", courseID), zap.Error(err))
		}
	}
	return &c, nil
}
