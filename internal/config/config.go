// Package config loads and validates the typed configuration for every
// component of the agent core: the capability cache, negotiation fallback
// policy, variant lifecycle storage, and governance consensus rule. Values
// come from built-in defaults, an optional YAML file, and environment
// variables (via viper's AutomaticEnv binding), in that order of increasing
// precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	capcache "github.com/agentcore/agentcore/internal/capability/cache"
	"github.com/agentcore/agentcore/internal/governance"
	"github.com/agentcore/agentcore/internal/lifecycle"
	"github.com/agentcore/agentcore/internal/negotiation"
	"github.com/agentcore/agentcore/internal/version"
	"github.com/agentcore/agentcore/pkg/logger"
)

var validate = validator.New()

// Config is the composition root's typed view of every component's
// configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	Consensus   ConsensusConfig   `mapstructure:"consensus"`
}

// AppConfig holds process-wide identity settings.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
}

// LogConfig mirrors pkg/logger.Config for viper binding.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerConfig converts to pkg/logger's own Config type.
func (l LogConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		Filename:   l.Filename,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}
}

// CacheConfig binds CapabilityCache's tuning knobs.
type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries" validate:"min=1"`
	TTL        time.Duration `mapstructure:"ttl" validate:"min=1"`
	TrackStats bool          `mapstructure:"track_stats"`
}

// ToCacheConfig converts to the capability/cache package's own Config type.
func (c CacheConfig) ToCacheConfig() capcache.Config {
	return capcache.Config{MaxEntries: c.MaxEntries, TTL: c.TTL, TrackStats: c.TrackStats}
}

// NegotiationConfig binds an agent's fallback preferences and downgrade
// policy. MinProtocolVersion and the per-axis lists use the plain string
// tags negotiated on the wire (see internal/negotiation).
type NegotiationConfig struct {
	MinProtocolVersion string   `mapstructure:"min_protocol_version" validate:"required"`
	DataFormats        []string `mapstructure:"data_formats" validate:"required,min=1"`
	Compressions       []string `mapstructure:"compressions" validate:"required,min=1"`
	ErrorCorrections   []string `mapstructure:"error_corrections" validate:"required,min=1"`

	AllowFormatDowngrade          bool `mapstructure:"allow_format_downgrade"`
	AllowCompressionDowngrade     bool `mapstructure:"allow_compression_downgrade"`
	AllowErrorCorrectionDowngrade bool `mapstructure:"allow_error_correction_downgrade"`
	MaxFallbackAttempts           int  `mapstructure:"max_fallback_attempts" validate:"min=1"`

	// RenegotiationRateLimit (events per second) and RenegotiationBurst pace
	// the demo CLI's negotiation loop: it waits on the limiter before each
	// fallback attempt. MaxFallbackAttempts separately caps how many
	// attempts that loop makes.
	RenegotiationRateLimit float64 `mapstructure:"renegotiation_rate_limit" validate:"gt=0"`
	RenegotiationBurst     int     `mapstructure:"renegotiation_burst" validate:"min=1"`
}

// ToPreferencesAndFallback converts to the negotiation package's own types.
func (n NegotiationConfig) ToPreferencesAndFallback() (negotiation.NegotiationPreferences, negotiation.FallbackConfig, error) {
	minVersion, err := version.Parse(n.MinProtocolVersion)
	if err != nil {
		return negotiation.NegotiationPreferences{}, negotiation.FallbackConfig{}, err
	}
	prefs := negotiation.NegotiationPreferences{
		MinProtocolVersion: minVersion,
		DataFormats:        n.DataFormats,
		Compressions:       n.Compressions,
		ErrorCorrections:   n.ErrorCorrections,
	}
	fallback := negotiation.FallbackConfig{
		AllowFormatDowngrade:          n.AllowFormatDowngrade,
		AllowCompressionDowngrade:     n.AllowCompressionDowngrade,
		AllowErrorCorrectionDowngrade: n.AllowErrorCorrectionDowngrade,
		MaxFallbackAttempts:           n.MaxFallbackAttempts,
	}
	return prefs, fallback, nil
}

// LifecycleConfig binds VariantLifecycle's rollback store tuning.
type LifecycleConfig struct {
	StoragePath          string        `mapstructure:"storage_path" validate:"required"`
	MaxSnapshotSizeBytes int           `mapstructure:"max_snapshot_size_bytes" validate:"min=1"`
	ChunkSizeBytes       int           `mapstructure:"chunk_size_bytes" validate:"min=1"`
	CompressChunks       bool          `mapstructure:"compress_chunks"`
	IncrementalSnapshots bool          `mapstructure:"incremental_snapshots"`
	MaxRollbackPoints    int           `mapstructure:"max_rollback_points" validate:"min=1"`
	RetentionPeriod      time.Duration `mapstructure:"retention_period" validate:"min=0"`
	BTreeOrder           int           `mapstructure:"btree_order" validate:"min=2"`
	BTreeNodeCacheSize   int           `mapstructure:"btree_node_cache_size" validate:"min=1"`
}

// ToLifecycleConfig converts to the lifecycle package's own Config type.
func (l LifecycleConfig) ToLifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		StoragePath:          l.StoragePath,
		MaxSnapshotSizeBytes: l.MaxSnapshotSizeBytes,
		ChunkSizeBytes:       l.ChunkSizeBytes,
		CompressChunks:       l.CompressChunks,
		IncrementalSnapshots: l.IncrementalSnapshots,
		MaxRollbackPoints:    l.MaxRollbackPoints,
		RetentionPeriod:      l.RetentionPeriod,
		BTreeOrder:           l.BTreeOrder,
		BTreeNodeCacheSize:   l.BTreeNodeCacheSize,
	}
}

// ConsensusConfig binds AgentGovernance's adoption rule.
type ConsensusConfig struct {
	RequiredMajority           float64       `mapstructure:"required_majority" validate:"gt=0,lte=1"`
	MinimumVotes               int           `mapstructure:"minimum_votes" validate:"min=1"`
	VotingPeriod               time.Duration `mapstructure:"voting_period" validate:"min=0"`
	RequirePerformanceEvidence bool          `mapstructure:"require_performance_evidence"`
}

// ToConsensusConfig converts to the governance package's own ConsensusConfig.
func (c ConsensusConfig) ToConsensusConfig() governance.ConsensusConfig {
	return governance.ConsensusConfig{
		RequiredMajority:           c.RequiredMajority,
		MinimumVotes:               c.MinimumVotes,
		VotingPeriod:               c.VotingPeriod,
		RequirePerformanceEvidence: c.RequirePerformanceEvidence,
	}
}

// Load reads configuration from configPath (if non-empty and present),
// environment variables (AGENTCORE_-prefixed, underscore-separated), and
// the defaults below, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate runs struct-tag validation on every section plus the one
// cross-field check (MinProtocolVersion must parse) the tags can't express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, _, err := c.Negotiation.ToPreferencesAndFallback(); err != nil {
		return fmt.Errorf("negotiation.min_protocol_version: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "agentcore")
	v.SetDefault("app.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.track_stats", true)

	v.SetDefault("negotiation.min_protocol_version", "1.0.0")
	v.SetDefault("negotiation.data_formats", []string{"VECTOR_FLOAT32", "VECTOR_INT8", "COMPRESSED_STATE"})
	v.SetDefault("negotiation.compressions", []string{"LZ4", "NONE"})
	v.SetDefault("negotiation.error_corrections", []string{"REED_SOLOMON", "CHECKSUM_ONLY", "NONE"})
	v.SetDefault("negotiation.allow_format_downgrade", true)
	v.SetDefault("negotiation.allow_compression_downgrade", true)
	v.SetDefault("negotiation.allow_error_correction_downgrade", true)
	v.SetDefault("negotiation.max_fallback_attempts", 3)
	v.SetDefault("negotiation.renegotiation_rate_limit", 1.0)
	v.SetDefault("negotiation.renegotiation_burst", 5)

	v.SetDefault("lifecycle.storage_path", "./data/lifecycle")
	v.SetDefault("lifecycle.max_snapshot_size_bytes", 1<<20)
	v.SetDefault("lifecycle.chunk_size_bytes", 64*1024)
	v.SetDefault("lifecycle.compress_chunks", true)
	v.SetDefault("lifecycle.incremental_snapshots", true)
	v.SetDefault("lifecycle.max_rollback_points", 1000)
	v.SetDefault("lifecycle.retention_period", "720h")
	v.SetDefault("lifecycle.btree_order", 64)
	v.SetDefault("lifecycle.btree_node_cache_size", 1000)

	v.SetDefault("consensus.required_majority", 0.6)
	v.SetDefault("consensus.minimum_votes", 3)
	v.SetDefault("consensus.voting_period", "0s")
	v.SetDefault("consensus.require_performance_evidence", false)
}
