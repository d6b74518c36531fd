package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	NatsURL        string
	JaegerEndpoint string
	Port           string
	GRPCPort       string

	JWTSecret          string
	PublicBaseURL      string
	Timezone           *time.Location
	CORSAllowedOrigins []string

	EvidenceMaxFiles int
	EvidenceMaxBytes int64

	SubmissionMaxIDAttempts  int
	EnrollmentAttemptTimeout time.Duration
	ReconcileInterval        time.Duration
	ReconcileBatchSize       int
	RequestInfoTTL           time.Duration
	ExpiryInterval           time.Duration

	NotifyWorkers    int
	NotifyQueueSize  int
	NotifySMSEnabled bool

	CourseCacheTTL time.Duration
}

func Load() *Config {
	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getString("REDIS_URL", "localhost:6379"),
		KafkaBrokers:   getString("KAFKA_BROKERS", "localhost:9092"),
		NatsURL:        getString("NATS_URL", "nats://localhost:4222"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		Port:           getString("PORT", "8084"),
		GRPCPort:       getString("GRPC_PORT", "9084"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		PublicBaseURL:      getString("PUBLIC_BASE_URL", "http://localhost:8084"),
		Timezone:           getLocation("APP_TIMEZONE", time.UTC),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		EvidenceMaxFiles: getInt("EVIDENCE_MAX_FILES", 5),
		EvidenceMaxBytes: int64(getInt("EVIDENCE_MAX_BYTES", 5<<20)),

		SubmissionMaxIDAttempts:  getInt("SUBMISSION_MAX_ID_ATTEMPTS", 5),
		EnrollmentAttemptTimeout: getDuration("ENROLLMENT_ATTEMPT_TIMEOUT", 3*time.Second),
		ReconcileInterval:        getDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileBatchSize:       getInt("RECONCILE_BATCH_SIZE", 100),
		RequestInfoTTL:           getDuration("REQUEST_INFO_TTL", 7*24*time.Hour),
		ExpiryInterval:           getDuration("EXPIRY_INTERVAL", time.Hour),

		NotifyWorkers:    getInt("NOTIFY_WORKERS", 4),
		NotifyQueueSize:  getInt("NOTIFY_QUEUE_SIZE", 256),
		NotifySMSEnabled: getBool("NOTIFY_SMS_ENABLED", false),

		CourseCacheTTL: getDuration("COURSE_CACHE_TTL", 10*time.Minute),
	}
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getLocation(key string, fallback *time.Location) *time.Location {
	name := strings.TrimSpace(os.Getenv(key))
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

func getList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
