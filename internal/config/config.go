// Package config loads the layered process configuration (env vars,
// optional YAML file, defaults) using viper, matching the teacher's
// config.Load() convention used across every service in the pack.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct for the sync core.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Cache    CacheConfig
	Limits   LimitsConfig
}

type ServerConfig struct {
	Port         int
	MetricsPort  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AuthConfig struct {
	JWTSecret string
	// VaultMasterKeyBase64 is the standard-base64-encoded 32-byte key
	// internal/vaultcrypto derives every chat's sealing key from.
	VaultMasterKeyBase64 string
}

// CacheConfig holds spec §4.2's TTL policy as typed durations, never
// magic numbers scattered through the cache package.
type CacheConfig struct {
	ChatIDsVersionsTTL  time.Duration
	ChatVersionsTTL     time.Duration
	ChatListItemDataTTL time.Duration
	ChatMessagesTTL     time.Duration // AI cache
	UserDraftTTL        time.Duration
	SyncCacheTTL        time.Duration // short, ~1h per spec
	TopNMessagesCount   int           // LRU bound (spec §4.2)
	HotKeyThreshold     int64         // tracked write count (halved periodically when idle) above which the TTL boost applies (§12 hot-key enrichment)
	HotKeyTTLBoost      time.Duration
}

// LimitsConfig bounds the Connection Manager's resource usage.
type LimitsConfig struct {
	MaxConnectionsPerUser int
	SendBufferSize        int
	MessageRatePerSecond  float64
	DisconnectGrace       time.Duration
}

// Load builds a Config from environment variables (prefixed CORE_), an
// optional config file named "core" on the search path, and defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("core")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("core")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetInt("server.port"),
			MetricsPort:  v.GetInt("server.metrics_port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN:             v.GetString("postgres.dsn"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Auth: AuthConfig{
			JWTSecret:            v.GetString("auth.jwt_secret"),
			VaultMasterKeyBase64: v.GetString("auth.vault_master_key"),
		},
		Cache: CacheConfig{
			ChatIDsVersionsTTL:  v.GetDuration("cache.chat_ids_versions_ttl"),
			ChatVersionsTTL:     v.GetDuration("cache.chat_versions_ttl"),
			ChatListItemDataTTL: v.GetDuration("cache.chat_list_item_data_ttl"),
			ChatMessagesTTL:     v.GetDuration("cache.chat_messages_ttl"),
			UserDraftTTL:        v.GetDuration("cache.user_draft_ttl"),
			SyncCacheTTL:        v.GetDuration("cache.sync_cache_ttl"),
			TopNMessagesCount:   v.GetInt("cache.top_n_messages_count"),
			HotKeyThreshold:     v.GetInt64("cache.hot_key_threshold"),
			HotKeyTTLBoost:      v.GetDuration("cache.hot_key_ttl_boost"),
		},
		Limits: LimitsConfig{
			MaxConnectionsPerUser: v.GetInt("limits.max_connections_per_user"),
			SendBufferSize:        v.GetInt("limits.send_buffer_size"),
			MessageRatePerSecond:  v.GetFloat64("limits.message_rate_per_second"),
			DisconnectGrace:       v.GetDuration("limits.disconnect_grace"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("kafka.topic", "core-worker-jobs")

	v.SetDefault("cache.chat_ids_versions_ttl", 24*time.Hour)
	v.SetDefault("cache.chat_versions_ttl", 24*time.Hour)
	v.SetDefault("cache.chat_list_item_data_ttl", 24*time.Hour)
	v.SetDefault("cache.chat_messages_ttl", 24*time.Hour)
	v.SetDefault("cache.user_draft_ttl", 24*time.Hour)
	v.SetDefault("cache.sync_cache_ttl", time.Hour)
	v.SetDefault("cache.top_n_messages_count", 50)
	v.SetDefault("cache.hot_key_threshold", int64(100))
	v.SetDefault("cache.hot_key_ttl_boost", time.Hour)

	v.SetDefault("limits.max_connections_per_user", 8)
	v.SetDefault("limits.send_buffer_size", 256)
	v.SetDefault("limits.message_rate_per_second", 20.0)
	v.SetDefault("limits.disconnect_grace", 15*time.Second)
}
