package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Rules     RulesConfig     `yaml:"rules" mapstructure:"rules"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Embed     EmbedConfig     `yaml:"embed" mapstructure:"embed"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Cluster   ClusterConfig   `yaml:"cluster" mapstructure:"cluster"`
	Alert     AlertConfig     `yaml:"alert" mapstructure:"alert"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IngestConfig configures the source adapters.
type IngestConfig struct {
	BlueskyURL          string   `yaml:"bluesky_url" mapstructure:"bluesky_url"`
	MastodonURL         string   `yaml:"mastodon_url" mapstructure:"mastodon_url"`
	MastodonAccessToken string   `yaml:"mastodon_access_token" mapstructure:"mastodon_access_token"`
	RSSFeeds            []string `yaml:"rss_feeds" mapstructure:"rss_feeds"`
	RSSIntervalMins     int      `yaml:"rss_interval_mins" mapstructure:"rss_interval_mins"`
	RSSRequestsPerSec   float64  `yaml:"rss_requests_per_sec" mapstructure:"rss_requests_per_sec"`
	ReconnectBackoffMs  int      `yaml:"reconnect_backoff_ms" mapstructure:"reconnect_backoff_ms"`
	ReconnectMaxMs      int      `yaml:"reconnect_max_ms" mapstructure:"reconnect_max_ms"`
}

// RulesConfig points at the noise filter rule file.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings for the reasoning service.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbedConfig holds the embedding service settings.
type EmbedConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	Dims    int    `yaml:"dims" mapstructure:"dims"`
}

// FetchConfig configures the linked-page fetch collaborator.
type FetchConfig struct {
	ReaderBaseURL string `yaml:"reader_base_url" mapstructure:"reader_base_url"`
	Key           string `yaml:"key" mapstructure:"key"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes  int    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// PipelineConfig configures the fan-in queue and extraction batching.
type PipelineConfig struct {
	QueueCapacity    int `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	FlushIntervalSec int `yaml:"flush_interval_secs" mapstructure:"flush_interval_secs"`
	MaxItemBytes     int `yaml:"max_item_bytes" mapstructure:"max_item_bytes"`
	ContextEvents    int `yaml:"context_events" mapstructure:"context_events"`
}

// ClusterConfig configures online matching and offline re-clustering.
type ClusterConfig struct {
	MatchThreshold       float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	RecencyWindowHours   int     `yaml:"recency_window_hours" mapstructure:"recency_window_hours"`
	ReclusterIntervalMin int     `yaml:"recluster_interval_mins" mapstructure:"recluster_interval_mins"`
	ReclusterWindowHours int     `yaml:"recluster_window_hours" mapstructure:"recluster_window_hours"`
	MinClusterSize       int     `yaml:"min_cluster_size" mapstructure:"min_cluster_size"`
	SpectralDims         int     `yaml:"spectral_dims" mapstructure:"spectral_dims"`
	GraphNeighbors       int     `yaml:"graph_neighbors" mapstructure:"graph_neighbors"`
	OfflineEps           float64 `yaml:"offline_eps" mapstructure:"offline_eps"`
	ReclusterSignal      int     `yaml:"recluster_signal" mapstructure:"recluster_signal"`
}

// AlertConfig configures the alert trigger.
type AlertConfig struct {
	SignalThreshold int     `yaml:"signal_threshold" mapstructure:"signal_threshold"`
	IntervalSecs    int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	WebhookURL      string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	Mention         string  `yaml:"mention" mapstructure:"mention"`
	SendsPerSec     float64 `yaml:"sends_per_sec" mapstructure:"sends_per_sec"`
}

// ServerConfig configures the read-only ops API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RecencyWindow returns the online matching window as a duration.
func (c ClusterConfig) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyWindowHours) * time.Hour
}

// ReclusterWindow returns the offline re-clustering window as a duration.
func (c ClusterConfig) ReclusterWindow() time.Duration {
	return time.Duration(c.ReclusterWindowHours) * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sentinel.db")
	v.SetDefault("ingest.bluesky_url", "wss://jetstream2.us-east.bsky.network/subscribe?wantedCollections=app.bsky.feed.post")
	v.SetDefault("ingest.mastodon_url", "https://mastodon.social")
	v.SetDefault("ingest.rss_feeds", []string{
		"https://feeds.reuters.com/reuters/worldNews",
		"https://feeds.bbci.co.uk/news/world/rss.xml",
		"https://www.aljazeera.com/xml/rss/all.xml",
	})
	v.SetDefault("ingest.rss_interval_mins", 5)
	v.SetDefault("ingest.rss_requests_per_sec", 2.0)
	v.SetDefault("ingest.reconnect_backoff_ms", 1000)
	v.SetDefault("ingest.reconnect_max_ms", 60000)
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("embed.base_url", "https://api.jina.ai/v1/embeddings")
	v.SetDefault("embed.model", "jina-embeddings-v3")
	v.SetDefault("embed.dims", 768)
	v.SetDefault("fetch.reader_base_url", "https://r.jina.ai")
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_body_bytes", 262144)
	v.SetDefault("pipeline.queue_capacity", 256)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.flush_interval_secs", 30)
	v.SetDefault("pipeline.max_item_bytes", 32768)
	v.SetDefault("pipeline.context_events", 10)
	v.SetDefault("cluster.match_threshold", 0.15)
	v.SetDefault("cluster.recency_window_hours", 24)
	v.SetDefault("cluster.recluster_interval_mins", 120)
	v.SetDefault("cluster.recluster_window_hours", 72)
	v.SetDefault("cluster.min_cluster_size", 5)
	v.SetDefault("cluster.spectral_dims", 10)
	v.SetDefault("cluster.graph_neighbors", 15)
	v.SetDefault("cluster.offline_eps", 0.5)
	v.SetDefault("cluster.recluster_signal", 10)
	v.SetDefault("alert.signal_threshold", 5)
	v.SetDefault("alert.interval_secs", 30)
	v.SetDefault("alert.sends_per_sec", 1.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
