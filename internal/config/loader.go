package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix for all settings.
const envPrefix = "DEFECTWISE"

// newViper builds a pre-configured Viper instance: YAML file type,
// DEFECTWISE_ env prefix, automatic env binding, and a key replacer mapping
// "." to "_" so nested keys like "database.host" resolve to
// "DEFECTWISE_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	return v
}

// setDefaults registers every known key with viper. AutomaticEnv only
// overlays environment variables onto keys viper already knows about, so
// without this step env-only deployments would see nothing but zero values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.mode", DefaultServerMode)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_size", 10<<20)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.enable_cors", false)

	v.SetDefault("engine.taxonomy_path", "")
	v.SetDefault("engine.matching", DefaultEngineMatching)
	v.SetDefault("engine.classifier_weight", DefaultClassifierWeight)
	v.SetDefault("engine.max_sentences", DefaultEngineMaxSentences)

	v.SetDefault("classifier.provider", DefaultClassifierProvider)
	v.SetDefault("classifier.serving_addr", "")
	v.SetDefault("classifier.openai_key", "")
	v.SetDefault("classifier.openai_model", "gpt-4o-mini")
	v.SetDefault("classifier.base_url", "")
	v.SetDefault("classifier.timeout", "10s")
	v.SetDefault("classifier.cache_ttl", "1h")

	v.SetDefault("database.host", DefaultDBHost)
	v.SetDefault("database.port", DefaultDBPort)
	v.SetDefault("database.user", "defectwise")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", DefaultDBName)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", DefaultDBMaxConns)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")

	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.default_ttl", "15m")
	v.SetDefault("redis.key_prefix", DefaultRedisKeyPrefix)

	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.producer_retries", 3)
	v.SetDefault("kafka.batch_timeout", "100ms")
	v.SetDefault("kafka.commit_interval", "1s")

	v.SetDefault("opensearch.addresses", []string{DefaultOpenSearchAddr})
	v.SetDefault("opensearch.user", "")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.insecure_skip_verify", false)
	v.SetDefault("opensearch.index_prefix", DefaultOpenSearchPrefix)
	v.SetDefault("opensearch.bulk_batch_size", 500)

	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", DefaultMinIOBucket)
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.presign_expiry", "15m")

	v.SetDefault("worker.concurrency", DefaultWorkerConcurrency)
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_backoff", "2s")
	v.SetDefault("worker.health_port", DefaultWorkerHealthPort)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output", "stdout")

	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.enable_go_metrics", false)
	v.SetDefault("metrics.enable_process_metrics", false)
}

// Load reads the YAML file at configPath, merges DEFECTWISE_* environment
// variable overrides, applies defaults for unset fields, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from DEFECTWISE_* environment
// variables with no config file required. This is the preferred loading
// strategy for containerised deployments.
//
// Naming convention:
//
//	DEFECTWISE_<SECTION>_<FIELD>   e.g. DEFECTWISE_DATABASE_HOST
func LoadFromEnv() (*Config, error) {
	v := newViper()
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk. Intended for
// hot-reloading non-critical settings such as log level; callers apply only
// the subset of changes that is safe at runtime.
//
// Watch is non-blocking; viper manages the background goroutine. When a
// changed file fails to parse or validate, onChange is not called.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read; callers should have called Load first, so errors here
	// only mean the watcher starts against an empty state.
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}

// MustLoad wraps Load and panics on any error. For use in main() where a
// config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
