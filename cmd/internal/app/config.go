package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"murmur/cmd/internal/realtime"
)

// Backend and transport names accepted by MURMUR_STORE_BACKEND, MURMUR_REGISTRY_BACKEND and MURMUR_TRANSPORT.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendPebble   = "pebble"

	TransportWebsocket  = "websocket"
	TransportAPIGateway = "apigateway"

	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	StoreBackend    string
	RegistryBackend string

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DBAutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PebbleDir string

	Transport           string
	APIGWEndpoint       string
	APIGWRegion         string
	APIGWAccessKeyID    string
	APIGWSecretKey      string
	APIGWMaxAttempts    int
	EventTimeout        time.Duration
	PushTimeout         time.Duration
	FanoutConcurrency   int
	DefaultRoom         string
	RecentLimit         int
	ReadinessCheckLimit time.Duration

	// WS configures the websocket gateway (MURMUR_WS_*).
	WS realtime.WSGatewayConfig
}

// LoadConfig loads Config from environment variables with defaults.
// A .env file in the working directory is applied first; real environment variables win.
func LoadConfig() Config {
	_ = godotenv.Load()

	ws := realtime.DefaultWSGatewayConfig()

	return Config{
		HTTPAddr:  EnvString("MURMUR_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MURMUR_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("MURMUR_LOG_FORMAT", LogFormatJSON)),

		ReadHeaderTimeout: EnvDuration("MURMUR_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MURMUR_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MURMUR_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MURMUR_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("MURMUR_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("MURMUR_HTTP_MAX_HEADER_BYTES", 1<<20),

		StoreBackend:    strings.ToLower(EnvString("MURMUR_STORE_BACKEND", BackendMemory)),
		RegistryBackend: strings.ToLower(EnvString("MURMUR_REGISTRY_BACKEND", BackendMemory)),

		DatabaseURL:   EnvString("MURMUR_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("MURMUR_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("MURMUR_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("MURMUR_DB_SCHEMA", "murmur"),
		DBAutoMigrate: EnvBool("MURMUR_DB_AUTO_MIGRATE", true),

		RedisAddr:     EnvString("MURMUR_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: EnvString("MURMUR_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("MURMUR_REDIS_DB", 0),
		RedisPrefix:   EnvString("MURMUR_REDIS_PREFIX", "murmur"),

		PebbleDir: EnvString("MURMUR_PEBBLE_DIR", "./data/murmur"),

		Transport:        strings.ToLower(EnvString("MURMUR_TRANSPORT", TransportWebsocket)),
		APIGWEndpoint:    EnvString("MURMUR_APIGW_ENDPOINT", ""),
		APIGWRegion:      EnvString("MURMUR_APIGW_REGION", "us-east-1"),
		APIGWAccessKeyID: EnvString("MURMUR_APIGW_ACCESS_KEY_ID", ""),
		APIGWSecretKey:   EnvString("MURMUR_APIGW_SECRET_ACCESS_KEY", ""),
		APIGWMaxAttempts: EnvInt("MURMUR_APIGW_MAX_ATTEMPTS", 3),

		EventTimeout:        EnvDuration("MURMUR_EVENT_TIMEOUT", 10*time.Second),
		PushTimeout:         EnvDuration("MURMUR_PUSH_TIMEOUT", 2*time.Second),
		FanoutConcurrency:   EnvInt("MURMUR_FANOUT_CONCURRENCY", 32),
		DefaultRoom:         EnvString("MURMUR_DEFAULT_ROOM", "general"),
		RecentLimit:         EnvInt("MURMUR_RECENT_LIMIT", 10),
		ReadinessCheckLimit: EnvDuration("MURMUR_READINESS_TIMEOUT", 2*time.Second),

		WS: realtime.WSGatewayConfig{
			OriginRequired:      EnvBool("MURMUR_WS_ORIGIN_REQUIRED", ws.OriginRequired),
			AllowedOrigins:      EnvCSV("MURMUR_WS_ALLOWED_ORIGINS", ws.AllowedOrigins),
			SubprotocolRequired: EnvBool("MURMUR_WS_SUBPROTOCOL_REQUIRED", ws.SubprotocolRequired),
			DevInsecure:         EnvBool("MURMUR_WS_DEV_INSECURE", ws.DevInsecure),
			WriteTimeout:        EnvDuration("MURMUR_WS_WRITE_TIMEOUT", ws.WriteTimeout),
			ReadIdleTimeout:     EnvDuration("MURMUR_WS_READ_IDLE_TIMEOUT", ws.ReadIdleTimeout),
			SendQueueSize:       EnvInt("MURMUR_WS_SEND_QUEUE", ws.SendQueueSize),
			HeartbeatInterval:   EnvDuration("MURMUR_WS_HEARTBEAT_INTERVAL", ws.HeartbeatInterval),
			HeartbeatTimeout:    EnvDuration("MURMUR_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout),
			RateEvents:          EnvInt("MURMUR_WS_RATE_EVENTS", ws.RateEvents),
			RateWindow:          EnvDuration("MURMUR_WS_RATE_WINDOW", ws.RateWindow),
		},
	}
}

// Validate rejects inconsistent backend combinations before anything is opened.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: MURMUR_STORE_BACKEND=postgres requires MURMUR_DATABASE_URL"))
		}
	case BackendPebble:
		if c.PebbleDir == "" {
			errs = append(errs, errors.New("config: MURMUR_STORE_BACKEND=pebble requires MURMUR_PEBBLE_DIR"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown store backend %q", c.StoreBackend))
	}

	switch c.RegistryBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: MURMUR_REGISTRY_BACKEND=postgres requires MURMUR_DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown registry backend %q", c.RegistryBackend))
	}

	switch c.Transport {
	case TransportWebsocket:
		// Sockets live in this process, so a shared registry would list ids no local session holds.
		if c.RegistryBackend != BackendMemory {
			errs = append(errs, fmt.Errorf("config: MURMUR_TRANSPORT=websocket requires MURMUR_REGISTRY_BACKEND=memory, got %q", c.RegistryBackend))
		}
	case TransportAPIGateway:
		if c.APIGWEndpoint == "" {
			errs = append(errs, errors.New("config: MURMUR_TRANSPORT=apigateway requires MURMUR_APIGW_ENDPOINT"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown transport %q", c.Transport))
	}

	switch c.LogFormat {
	case LogFormatJSON, LogFormatPretty:
	default:
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func (c Config) usesBackend(name string) bool {
	return c.StoreBackend == name || c.RegistryBackend == name
}
