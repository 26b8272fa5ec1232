package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Environment  string
	ServiceName  string
	// Storage backends. StorageBackend is "postgres" (Postgres + ClickHouse + Redis)
	// or "memory" for local development.
	StorageBackend string
	StorageTimeout time.Duration
	PostgresDSN    string
	ClickHouseDSN  string
	RedisAddr      string
	// Catalog cache
	CacheEnabled bool
	CacheTTL     time.Duration
	// Selection and rendering
	SelectionSeed   int64
	DebugTrace      bool
	RenderStrict    bool
	DefaultClickURL string
	GeoIPDB         string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load reads the process environment. Unset or malformed variables take
// their defaults.
func Load() Config {
	var cfg Config

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.Environment = getenv("ENV", "production")
	cfg.ServiceName = getenv("SERVICE_NAME", "dcoserve")

	cfg.StorageBackend = getenv("STORAGE_BACKEND", "postgres")
	cfg.StorageTimeout = envDuration("STORAGE_TIMEOUT", 2*time.Second)
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")

	cfg.CacheEnabled = envBool("CACHE_ENABLED", true)
	cfg.CacheTTL = envDuration("CACHE_TTL", 30*time.Second)

	// 0 draws from the process-wide source
	cfg.SelectionSeed = envInt64("SELECTION_SEED", 0)
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.RenderStrict = envBool("RENDER_STRICT", false)
	cfg.DefaultClickURL = getenv("DEFAULT_CLICK_URL", "https://quantecarlo.com")
	cfg.GeoIPDB = getenv("GEOIP_DB", "internal/geoip/testdata/GeoLite2-Country.mmdb")

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Event inserts are small and frequent, so ClickHouse gets a larger pool than Postgres
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 50)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 10)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envParse returns parse(value of key), or def when the variable is unset or
// fails to parse.
func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

// parseDuration accepts Go duration strings ("5s") or whole seconds ("5").
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

func envDuration(key string, def time.Duration) time.Duration {
	return envParse(key, def, parseDuration)
}

func envBool(key string, def bool) bool {
	return envParse(key, def, strconv.ParseBool)
}

func envInt(key string, def int) int {
	return envParse(key, def, strconv.Atoi)
}

func envInt64(key string, def int64) int64 {
	return envParse(key, def, func(v string) (int64, error) { return strconv.ParseInt(v, 10, 64) })
}

func envFloat(key string, def float64) float64 {
	return envParse(key, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}
