package lifecycle

import "time"

// Status is a ProtocolVariant's position in its adoption state machine:
// Proposed -> {InTesting -> {Adopted, Rejected}, Adopted, Rejected}.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusInTesting Status = "in_testing"
	StatusAdopted   Status = "adopted"
	StatusRejected  Status = "rejected"
)

// ProtocolVariant is a proposed change to the wire protocol under
// evaluation.
type ProtocolVariant struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Changes     map[string]interface{} `json:"changes"`
	Metadata    map[string]interface{} `json:"metadata"`
	Status      Status                 `json:"status"`
}

// PerformanceRecord is one observation logged against a variant.
type PerformanceRecord struct {
	Metrics   map[string]float64 `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}

// ScoringCriteria selects which metrics matter and how they're combined when
// ranking or comparing variants by performance.
type ScoringCriteria struct {
	MinSampleSize        int                `json:"min_sample_size"`
	MetricWeights        map[string]float64 `json:"metric_weights"`
	ImprovementThreshold float64            `json:"improvement_threshold"`
}

// lowerIsBetter lists the metrics whose smaller values are improvements;
// all other metrics are treated as higher-is-better.
var lowerIsBetter = map[string]bool{
	"latencyMs":     true,
	"resourceUsage": true,
}

// RollbackPoint is a recoverable snapshot of a variant's state.
type RollbackPoint struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	VariantID string                 `json:"variant_id"`
	State     map[string]interface{} `json:"state,omitempty"`
	ChunkRefs []string               `json:"chunk_refs,omitempty"`
	Checksum  string                 `json:"checksum"`
	Metadata  map[string]string      `json:"metadata"`
	IsChunked bool                   `json:"is_chunked"`
}

// Config bounds lifecycle behavior: snapshot sizing, chunking, retention,
// and the on-disk index.
type Config struct {
	StoragePath          string
	MaxSnapshotSizeBytes int
	ChunkSizeBytes       int
	CompressChunks       bool
	IncrementalSnapshots bool
	MaxRollbackPoints    int
	RetentionPeriod      time.Duration
	BTreeOrder           int
	BTreeNodeCacheSize   int
}

// DefaultConfig returns conservative defaults suitable for a single-process
// deployment.
func DefaultConfig(storagePath string) Config {
	return Config{
		StoragePath:          storagePath,
		MaxSnapshotSizeBytes: 1 << 20,
		ChunkSizeBytes:       64 * 1024,
		CompressChunks:       true,
		IncrementalSnapshots: true,
		MaxRollbackPoints:    1000,
		RetentionPeriod:      30 * 24 * time.Hour,
		BTreeOrder:           64,
		BTreeNodeCacheSize:   1000,
	}
}
