package main

import (
	"fmt"
	"time"

	"aggronation/pkg/config"
)

const (
	serviceName = "ingestor"
	defaultPort = "18040"

	storeDriverPostgres = "postgres"
	storeDriverMemory   = "memory"
)

type serviceConfig struct {
	Port        string
	StoreDriver string
	DatabaseURL string

	TriggerSecret string
	AdminToken    string

	FetchTimeout   time.Duration
	PersistTimeout time.Duration

	CacheDefaultTTL      time.Duration
	CacheCleanupInterval time.Duration
	ReadCacheTTL         time.Duration

	EventBufferSize int
	StreamHeartbeat time.Duration

	SkipOverlap           bool
	TriggerMaxConcurrency int
	TriggerMinInterval    time.Duration

	RedisAddrs         []string
	RedisMasterName    string
	RedisPassword      string
	RedisDB            int
	RedisEventsChannel string

	KafkaBrokers     []string
	KafkaEventsTopic string

	FeedUserAgent string
}

func loadServiceConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Port:                  config.GetEnv("PORT", defaultPort),
		StoreDriver:           config.GetEnv("STORE_DRIVER", storeDriverPostgres),
		DatabaseURL:           config.GetEnv("DATABASE_URL", ""),
		TriggerSecret:         config.GetEnv("INGEST_TRIGGER_SECRET", ""),
		AdminToken:            config.GetEnv("ADMIN_TOKEN", ""),
		FetchTimeout:          config.GetEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		PersistTimeout:        config.GetEnvDuration("PERSIST_TIMEOUT", 10*time.Second),
		CacheDefaultTTL:       config.GetEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
		CacheCleanupInterval:  config.GetEnvDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
		ReadCacheTTL:          config.GetEnvDuration("READ_CACHE_TTL", 30*time.Second),
		EventBufferSize:       config.GetEnvInt("EVENT_BUFFER_SIZE", 100),
		StreamHeartbeat:       config.GetEnvDuration("STREAM_HEARTBEAT", 30*time.Second),
		SkipOverlap:           config.GetEnvBool("SCHEDULER_SKIP_OVERLAP", false),
		TriggerMaxConcurrency: config.GetEnvInt("TRIGGER_MAX_CONCURRENCY", 5),
		TriggerMinInterval:    config.GetEnvDuration("TRIGGER_MIN_INTERVAL", 10*time.Second),
		RedisAddrs:            config.GetEnvList("REDIS_ADDRS"),
		RedisMasterName:       config.GetEnv("REDIS_MASTER_NAME", ""),
		RedisPassword:         config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:               config.GetEnvInt("REDIS_DB", 0),
		RedisEventsChannel:    config.GetEnv("REDIS_EVENTS_CHANNEL", "ingestor:events"),
		KafkaBrokers:          config.GetEnvList("KAFKA_BROKERS"),
		KafkaEventsTopic:      config.GetEnv("KAFKA_EVENTS_TOPIC", "ingestor.events"),
		FeedUserAgent:         config.GetEnv("FEED_USER_AGENT", "aggronation-ingestor/1.0"),
	}

	switch cfg.StoreDriver {
	case storeDriverPostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", storeDriverPostgres)
		}
	case storeDriverMemory:
	default:
		return cfg, fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", cfg.StoreDriver, storeDriverPostgres, storeDriverMemory)
	}
	return cfg, nil
}
