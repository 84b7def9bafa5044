package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Sink queues (drop-oldest on overflow)
	AlertQueueSize  int
	RecordQueueSize int
	StateQueueSize  int

	// Record sink batching
	RecordBatchSize       int
	RecordFlushIntervalMS int

	// Advisory bridge
	AdvisoryURL         string
	AdvisoryAPIKey      string
	AdvisoryAgentID     string
	AdvisoryTimeoutMS   int
	AdvisoryMaxRetries  int
	BreakerThreshold    int
	BreakerCooldownMS   int
	AdvisoryBackoffMS   int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string

	// Regulatory reference data; empty path means built-in snapshot.
	RegulatorySnapshotPath string

	Policy Policy
}

// Policy holds the rule thresholds. These are data, not structure: the
// evaluator never hard-codes them.
type Policy struct {
	// Speed limits keyed by "class|segment", "segment", or "class";
	// DefaultSpeedLimitKmh applies when no key matches.
	SpeedLimitsKmh       map[string]float64
	DefaultSpeedLimitKmh float64

	// Severity tier boundaries as fractions of the limit in excess.
	SpeedWarnPct     float64
	SpeedHighPct     float64
	SpeedCriticalPct float64

	// Overspeed runs at least this long escalate one tier.
	SustainedSeconds int

	// Driver-risk rolling window and thresholds.
	WindowSize     int
	RiskThreshold  float64
	SleepThreshold float64
}

func Load() *Config {
	return &Config{
		HTTPPort:               getEnv("HTTP_PORT", "8002"),
		DBHost:                 getEnv("DB_HOST", "localhost"),
		DBPort:                 getEnv("DB_PORT", "5432"),
		DBUser:                 getEnv("DB_USER", "monitor_user"),
		DBPassword:             getEnv("DB_PASSWORD", "monitor_password"),
		DBName:                 getEnv("DB_NAME", "safety_monitor"),
		DBMaxConns:             int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getEnvInt("REDIS_DB", 0),
		AlertQueueSize:         getEnvInt("ALERT_QUEUE_SIZE", 1024),
		RecordQueueSize:        getEnvInt("RECORD_QUEUE_SIZE", 1024),
		StateQueueSize:         getEnvInt("STATE_QUEUE_SIZE", 4096),
		RecordBatchSize:        getEnvInt("RECORD_BATCH_SIZE", 100),
		RecordFlushIntervalMS:  getEnvInt("RECORD_FLUSH_INTERVAL_MS", 100),
		AdvisoryURL:            getEnv("ADVISORY_API_URL", ""),
		AdvisoryAPIKey:         getEnv("ADVISORY_API_KEY", ""),
		AdvisoryAgentID:        getEnv("ADVISORY_AGENT_ID", "guardian_v1"),
		AdvisoryTimeoutMS:      getEnvInt("ADVISORY_TIMEOUT_MS", 2000),
		AdvisoryMaxRetries:     getEnvInt("ADVISORY_MAX_RETRIES", 1),
		AdvisoryBackoffMS:      getEnvInt("ADVISORY_BACKOFF_MS", 100),
		BreakerThreshold:       getEnvInt("ADVISORY_BREAKER_THRESHOLD", 5),
		BreakerCooldownMS:      getEnvInt("ADVISORY_BREAKER_COOLDOWN_MS", 10000),
		AuthCacheTTLSeconds:    getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:           strings.Split(getEnv("VALID_API_KEYS", ""), ","),
		RegulatorySnapshotPath: getEnv("REGULATORY_SNAPSHOT_PATH", ""),
		Policy: Policy{
			SpeedLimitsKmh:       getEnvFloatMap("SPEED_LIMITS_KMH_JSON"),
			DefaultSpeedLimitKmh: getEnvFloat("DEFAULT_SPEED_LIMIT_KMH", 80),
			SpeedWarnPct:         getEnvFloat("SPEED_WARN_PCT", 0.10),
			SpeedHighPct:         getEnvFloat("SPEED_HIGH_PCT", 0.30),
			SpeedCriticalPct:     getEnvFloat("SPEED_CRITICAL_PCT", 0.50),
			SustainedSeconds:     getEnvInt("SPEED_SUSTAINED_SECONDS", 10),
			WindowSize:           getEnvInt("RISK_WINDOW_SIZE", 12),
			RiskThreshold:        getEnvFloat("RISK_THRESHOLD", 30),
			SleepThreshold:       getEnvFloat("SLEEP_THRESHOLD", 60),
		},
	}
}

// LimitFor resolves the speed limit for a vehicle class on a road segment.
// Lookup order: "class|segment", segment, class, default.
func (p Policy) LimitFor(vehicleClass, roadSegment string) float64 {
	if len(p.SpeedLimitsKmh) > 0 {
		if v, ok := p.SpeedLimitsKmh[vehicleClass+"|"+roadSegment]; ok {
			return v
		}
		if v, ok := p.SpeedLimitsKmh[roadSegment]; ok {
			return v
		}
		if v, ok := p.SpeedLimitsKmh[vehicleClass]; ok {
			return v
		}
	}
	return p.DefaultSpeedLimitKmh
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvFloatMap(key string) map[string]float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	m := make(map[string]float64)
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil
	}
	return m
}
