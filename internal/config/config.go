package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	JWTSecret      string
	ClickerKeyHash string // bcrypt hash of the clicker hub key
	ServerPort     string
	CORSOrigins    string

	StaleThreshold    time.Duration
	SweepInterval     time.Duration
	QuestionStatsTTL  time.Duration
	SummaryTTL        time.Duration
	StatusCacheTTL    time.Duration
	StreamMaxRuntime  time.Duration
	StreamTick        time.Duration
	KeepaliveInterval time.Duration
	DefaultTimeLimit  int
	GradeSyncWebhook  string
	GradeSyncTimeout  time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("config: loaded .env")
	}

	return &Config{
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "classengage"),
		SQLitePath: getEnv("SQLITE_PATH", "classengage.db"),

		JWTSecret:      getEnv("JWT_SECRET", "super-secret-key-change-me"),
		ClickerKeyHash: getEnv("CLICKER_HUB_KEY_HASH", ""),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		CORSOrigins:    getEnv("CORS_ORIGINS", "*"),

		StaleThreshold:    getDuration("STALE_THRESHOLD", 30*time.Second),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 15*time.Second),
		QuestionStatsTTL:  getDuration("QUESTION_STATS_TTL", 2*time.Second),
		SummaryTTL:        getDuration("SUMMARY_TTL", 5*time.Second),
		StatusCacheTTL:    getDuration("STATUS_CACHE_TTL", time.Second),
		StreamMaxRuntime:  getDuration("STREAM_MAX_RUNTIME", 5*time.Minute),
		StreamTick:        getDuration("STREAM_TICK", time.Second),
		KeepaliveInterval: getDuration("KEEPALIVE_INTERVAL", 15*time.Second),
		DefaultTimeLimit:  getInt("DEFAULT_TIME_LIMIT", 30),
		GradeSyncWebhook:  getEnv("GRADE_SYNC_WEBHOOK", ""),
		GradeSyncTimeout:  getDuration("GRADE_SYNC_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// getDuration accepts Go duration strings ("30s") or plain seconds ("30").
func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Printf("config: invalid %s=%q, using %s", key, val, fallback)
	return fallback
}
