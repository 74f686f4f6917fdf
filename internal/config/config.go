package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roomchat/internal/logger"
)

const (
	ReactionStoreMemory = "memory"
	ReactionStoreRedis  = "redis"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
// Уже заданные переменные окружения файл не перезаписывает.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	_ = godotenv.Load(".env")
}

// Config содержит настройки чат-сервера.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// CORSAllowedOrigins: доверенные origin через запятую ("*" разрешает любой).
	CORSAllowedOrigins string

	MaxWSConnections int
	WSSendBufferSize int
	WSWriteTimeout   time.Duration
	WSPongTimeout    time.Duration
	WSMaxMessageSize int64
	// WSEventsPerSecond и WSEventBurst ограничивают кадры от одного соединения.
	WSEventsPerSecond float64
	WSEventBurst      int

	HTTPRequestsPerSecond float64
	HTTPBurst             int

	ReactionStore string
	ReactionTTL   time.Duration
	RedisURL      string

	// StrictMembership: relay и реакции сверяют комнату из кадра с каталогом комнат.
	StrictMembership bool

	LogLevel string
}

// yamlConfig: промежуточная структура для парсинга YAML; длительности в секундах или минутах.
type yamlConfig struct {
	ServerAddr            string  `yaml:"server_addr"`
	ReadTimeout           int     `yaml:"read_timeout"`
	WriteTimeout          int     `yaml:"write_timeout"`
	IdleTimeout           int     `yaml:"idle_timeout"`
	CORSAllowedOrigins    string  `yaml:"cors_allowed_origins"`
	MaxWSConnections      int     `yaml:"max_ws_connections"`
	WSSendBufferSize      int     `yaml:"ws_send_buffer_size"`
	WSWriteTimeout        int     `yaml:"ws_write_timeout"`
	WSPongTimeout         int     `yaml:"ws_pong_timeout"`
	WSMaxMessageSize      int     `yaml:"ws_max_message_size"`
	WSEventsPerSecond     float64 `yaml:"ws_events_per_second"`
	WSEventBurst          int     `yaml:"ws_event_burst"`
	HTTPRequestsPerSecond float64 `yaml:"http_requests_per_second"`
	HTTPBurst             int     `yaml:"http_burst"`
	ReactionStore         string  `yaml:"reaction_store"`
	ReactionTTLMinutes    int     `yaml:"reaction_ttl_minutes"`
	RedisURL              string  `yaml:"redis_url"`
	StrictMembership      bool    `yaml:"strict_membership"`
	LogLevel              string  `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		ServerAddr:            ":3001",
		ReadTimeout:           15,
		WriteTimeout:          15,
		IdleTimeout:           60,
		CORSAllowedOrigins:    "http://localhost:5173",
		MaxWSConnections:      10000,
		WSSendBufferSize:      256,
		WSWriteTimeout:        10,
		WSPongTimeout:         60,
		WSMaxMessageSize:      8192,
		WSEventsPerSecond:     20,
		WSEventBurst:          40,
		HTTPRequestsPerSecond: 10,
		HTTPBurst:             30,
		ReactionStore:         ReactionStoreMemory,
		ReactionTTLMinutes:    24 * 60,
		RedisURL:              "redis://localhost:6379",
		LogLevel:              "info",
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем CONFIG_PATH или config/chat.yaml и env.
func Load() *Config {
	loadEnv()
	yc := defaults()

	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/chat.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}
	return fromYAML(yc)
}

func fromYAML(yc yamlConfig) *Config {
	cfg := &Config{
		ServerAddr:            envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:           time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:          time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:           time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		CORSAllowedOrigins:    envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		MaxWSConnections:      envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:      envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:        time.Duration(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)) * time.Second,
		WSPongTimeout:         time.Duration(envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout)) * time.Second,
		WSMaxMessageSize:      int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
		WSEventsPerSecond:     envFloat("WS_EVENTS_PER_SECOND", yc.WSEventsPerSecond),
		WSEventBurst:          envInt("WS_EVENT_BURST", yc.WSEventBurst),
		HTTPRequestsPerSecond: envFloat("HTTP_REQUESTS_PER_SECOND", yc.HTTPRequestsPerSecond),
		HTTPBurst:             envInt("HTTP_BURST", yc.HTTPBurst),
		ReactionStore:         strings.ToLower(envStr("REACTION_STORE", yc.ReactionStore)),
		ReactionTTL:           time.Duration(envInt("REACTION_TTL_MINUTES", yc.ReactionTTLMinutes)) * time.Minute,
		RedisURL:              envStr("REDIS_URL", yc.RedisURL),
		StrictMembership:      envBool("STRICT_MEMBERSHIP", yc.StrictMembership),
		LogLevel:              envStr("LOG_LEVEL", yc.LogLevel),
	}

	if cfg.ReactionStore != ReactionStoreMemory && cfg.ReactionStore != ReactionStoreRedis {
		logger.Errorf("config: unknown reaction_store %q, using %s", cfg.ReactionStore, ReactionStoreMemory)
		cfg.ReactionStore = ReactionStoreMemory
	}
	if cfg.WSSendBufferSize <= 0 {
		cfg.WSSendBufferSize = 256
	}
	if cfg.WSMaxMessageSize <= 0 {
		cfg.WSMaxMessageSize = 8192
	}
	return cfg
}

// ErrOpenOrigins: в production не задан явный список доверенных origin.
var ErrOpenOrigins = errors.New("config: CORS_ALLOWED_ORIGINS must list explicit origins in production")

// Validate проверяет то, с чем процесс не должен стартовать.
func (c *Config) Validate() error {
	if os.Getenv("APP_ENV") != "production" {
		return nil
	}
	origins := c.AllowedOrigins()
	if len(origins) == 0 {
		return ErrOpenOrigins
	}
	for _, o := range origins {
		if o == "*" {
			return ErrOpenOrigins
		}
	}
	return nil
}

// AllowedOrigins разбивает CORSAllowedOrigins в список без пробелов.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
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

func envFloat(key string, fallback float64) float64 {
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

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
