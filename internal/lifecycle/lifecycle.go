// Package lifecycle tracks protocol variants through proposal, voting, and
// adoption, and owns the content-addressed rollback snapshot store that lets
// a variant's state be restored after a bad rollout.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/agentcore/internal/canon"
	"github.com/agentcore/agentcore/internal/lifecycle/btree"
	"github.com/agentcore/agentcore/internal/lifecycle/chunkstore"
	"github.com/agentcore/agentcore/internal/resilience"
)

// VariantLifecycle owns ProtocolVariants, their performance history, and the
// rollback point store. A single mutex covers all in-memory state; disk I/O
// for chunk and B-tree persistence happens while the mutex is held, per the
// no-cross-component-lock rule elsewhere in the system.
type VariantLifecycle struct {
	mu sync.Mutex

	cfg    Config
	logger *slog.Logger

	variants    map[string]*ProtocolVariant
	performance map[string][]PerformanceRecord
	points      map[string]*RollbackPoint

	chunks *chunkstore.Store
	index  *btree.Tree

	insertsSinceOptimize int
}

// New opens (or initializes) a lifecycle store at cfg.StoragePath, loading
// any rollback points persisted by a prior process. logger may be nil.
func New(cfg Config, logger *slog.Logger) (*VariantLifecycle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BTreeOrder == 0 {
		cfg = DefaultConfig(cfg.StoragePath)
	}

	rollbackDir := filepath.Join(cfg.StoragePath, "rollback")
	if err := os.MkdirAll(rollbackDir, 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: %w: %v", resilience.ErrIOFailure, err)
	}

	chunks, err := chunkstore.New(filepath.Join(cfg.StoragePath, "chunks"), cfg.CompressChunks)
	if err != nil {
		return nil, err
	}
	index, err := btree.Open(filepath.Join(cfg.StoragePath, "btree"), cfg.BTreeOrder, cfg.BTreeNodeCacheSize)
	if err != nil {
		return nil, err
	}

	l := &VariantLifecycle{
		cfg:         cfg,
		logger:      logger,
		variants:    make(map[string]*ProtocolVariant),
		performance: make(map[string][]PerformanceRecord),
		points:      make(map[string]*RollbackPoint),
		chunks:      chunks,
		index:       index,
	}
	l.loadRollbackPoints(rollbackDir)
	return l, nil
}

func (l *VariantLifecycle) loadRollbackPoints(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Warn("lifecycle: could not list rollback points", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			l.logger.Warn("lifecycle: could not read rollback point", "file", entry.Name(), "error", err)
			continue
		}
		var point RollbackPoint
		if err := json.Unmarshal(data, &point); err != nil {
			l.logger.Warn("lifecycle: could not parse rollback point", "file", entry.Name(), "error", err)
			continue
		}
		l.points[point.ID] = &point
	}
}

// Propose registers a new variant in Proposed status. Returns false if id is
// already in use.
func (l *VariantLifecycle) Propose(id string, changes, metadata map[string]interface{}, description string) bool {
	if id == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.variants[id]; exists {
		return false
	}
	l.variants[id] = &ProtocolVariant{
		ID:          id,
		Description: description,
		Changes:     changes,
		Metadata:    metadata,
		Status:      StatusProposed,
	}
	l.logger.Info("variant proposed", "variant_id", id)
	return true
}

// ListByStatus returns every variant currently in status s, keyed by id.
func (l *VariantLifecycle) ListByStatus(s Status) map[string]ProtocolVariant {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]ProtocolVariant)
	for id, v := range l.variants {
		if v.Status == s {
			out[id] = *v
		}
	}
	return out
}

// Get returns the variant with the given id.
func (l *VariantLifecycle) Get(id string) (ProtocolVariant, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.variants[id]
	if !ok {
		return ProtocolVariant{}, false
	}
	return *v, true
}

// SetStatus transitions the variant to s. Returns false if id is unknown.
func (l *VariantLifecycle) SetStatus(id string, s Status) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.variants[id]
	if !ok {
		return false
	}
	v.Status = s
	l.logger.Info("variant status changed", "variant_id", id, "status", s)
	return true
}

// LogPerformance appends record to variantID's append-only performance
// history.
func (l *VariantLifecycle) LogPerformance(variantID string, record PerformanceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.performance[variantID] = append(l.performance[variantID], record)
}

// AllVariants returns a snapshot of every known variant, keyed by id.
func (l *VariantLifecycle) AllVariants() map[string]ProtocolVariant {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ProtocolVariant, len(l.variants))
	for id, v := range l.variants {
		out[id] = *v
	}
	return out
}

// AllPerformanceHistory returns a snapshot of every variant's performance
// records, keyed by variant id.
func (l *VariantLifecycle) AllPerformanceHistory() map[string][]PerformanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]PerformanceRecord, len(l.performance))
	for id, records := range l.performance {
		out[id] = append([]PerformanceRecord(nil), records...)
	}
	return out
}

// RestoreVariants merges variants and performance histories into the
// in-memory maps: an entry with the same id is overwritten, and entries not
// given are kept. Used only when rehydrating from persisted governance state
// on startup; it bypasses the duplicate-id check in Propose.
func (l *VariantLifecycle) RestoreVariants(variants map[string]ProtocolVariant, performance map[string][]PerformanceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, v := range variants {
		variant := v
		l.variants[id] = &variant
	}
	for id, records := range performance {
		l.performance[id] = append([]PerformanceRecord(nil), records...)
	}
}

// HasPerformanceHistory reports whether any performance record has been
// logged for variantID.
func (l *VariantLifecycle) HasPerformanceHistory(variantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.performance[variantID]) > 0
}

func averageMetrics(records []PerformanceRecord) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range records {
		for metric, value := range r.Metrics {
			sums[metric] += value
			counts[metric]++
		}
	}
	avgs := make(map[string]float64, len(sums))
	for metric, sum := range sums {
		avgs[metric] = sum / float64(counts[metric])
	}
	return avgs
}

// goodnessScore combines per-metric averages into one comparable scalar,
// inverting lower-is-better metrics so that higher is always better.
func goodnessScore(avgs map[string]float64, weights map[string]float64) float64 {
	var weighted, totalWeight float64
	for metric, weight := range weights {
		avg, ok := avgs[metric]
		if !ok {
			continue
		}
		value := avg
		if lowerIsBetter[metric] {
			value = -avg
		}
		weighted += weight * value
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// BestPerforming returns the id of the variant with the highest weighted
// performance score among those with at least criteria.MinSampleSize
// records.
func (l *VariantLifecycle) BestPerforming(criteria ScoringCriteria) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bestID string
	bestScore := 0.0
	found := false
	for id, records := range l.performance {
		if len(records) < criteria.MinSampleSize {
			continue
		}
		score := goodnessScore(averageMetrics(records), criteria.MetricWeights)
		if !found || score > bestScore {
			bestID, bestScore, found = id, score, true
		}
	}
	return bestID, found
}

// SignificantlyBetter reports whether candidate outperforms baseline by at
// least criteria.ImprovementThreshold on a weighted-average basis.
func (l *VariantLifecycle) SignificantlyBetter(candidate, baseline string, criteria ScoringCriteria) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	candidateAvgs := averageMetrics(l.performance[candidate])
	baselineAvgs := averageMetrics(l.performance[baseline])

	var weighted, totalWeight float64
	for metric, weight := range criteria.MetricWeights {
		candidateAvg, okC := candidateAvgs[metric]
		baselineAvg, okB := baselineAvgs[metric]
		if !okC || !okB || baselineAvg == 0 {
			continue
		}
		var improvement float64
		if lowerIsBetter[metric] {
			improvement = (baselineAvg - candidateAvg) / baselineAvg
		} else {
			improvement = (candidateAvg - baselineAvg) / baselineAvg
		}
		weighted += weight * improvement
		totalWeight += weight
	}
	if totalWeight == 0 {
		return false
	}
	return weighted/totalWeight >= criteria.ImprovementThreshold
}

// CreateRollbackPoint snapshots state for variantID, chunking it if its
// canonical serialization exceeds half of MaxSnapshotSizeBytes, or storing a
// structural diff against the variant's most recent non-chunked point when
// incremental snapshots are enabled. Returns the new point's id.
func (l *VariantLifecycle) CreateRollbackPoint(variantID string, state, metadata map[string]interface{}) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := newRollbackID()
	checksum, err := canon.Checksum(state)
	if err != nil {
		return "", fmt.Errorf("lifecycle: checksum state: %w", err)
	}

	point := &RollbackPoint{
		ID:        id,
		Timestamp: time.Now(),
		VariantID: variantID,
		Checksum:  checksum,
		Metadata:  stringMetadata(metadata),
	}

	canonical, err := canon.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("lifecycle: marshal state: %w", err)
	}

	if len(canonical) > l.cfg.MaxSnapshotSizeBytes/2 {
		refs, err := l.chunkState(canonical)
		if err != nil {
			return "", err
		}
		point.IsChunked = true
		point.ChunkRefs = refs
	} else if l.cfg.IncrementalSnapshots {
		if base, ok := l.latestNonChunked(variantID); ok {
			baseState, err := l.resolveState(base)
			if err != nil {
				return "", fmt.Errorf("lifecycle: resolve base state: %w", err)
			}
			diff := Diff(baseState, state)
			point.State = diff
			point.Metadata["base_rollback_id"] = base.ID
		} else {
			point.State = state
		}
	} else {
		point.State = state
	}

	if err := l.persistPoint(point); err != nil {
		return "", err
	}
	l.points[id] = point

	if len(l.points) > l.cfg.MaxRollbackPoints {
		l.cleanupLocked()
	}

	l.insertsSinceOptimize++
	if l.cfg.MaxRollbackPoints > 0 && l.insertsSinceOptimize >= l.cfg.MaxRollbackPoints/2 {
		l.optimizeIndexLocked()
		l.insertsSinceOptimize = 0
	}

	l.logger.Info("rollback point created", "rollback_id", id, "variant_id", variantID, "chunked", point.IsChunked)
	return id, nil
}

func (l *VariantLifecycle) chunkState(canonical []byte) ([]string, error) {
	chunkSize := l.cfg.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	var refs []string
	for offset := 0; offset < len(canonical); offset += chunkSize {
		end := offset + chunkSize
		if end > len(canonical) {
			end = len(canonical)
		}
		chunk, err := l.chunks.Put(uint64(offset), canonical[offset:end])
		if err != nil {
			return nil, fmt.Errorf("lifecycle: write chunk: %w", err)
		}
		path := filepath.Join(l.cfg.StoragePath, "chunks", chunk.ID+".bin")
		if err := l.index.Insert(chunk.ID, path); err != nil {
			return nil, fmt.Errorf("lifecycle: index chunk: %w", err)
		}
		refs = append(refs, chunk.ID)
	}
	return refs, nil
}

func (l *VariantLifecycle) latestNonChunked(variantID string) (*RollbackPoint, bool) {
	var latest *RollbackPoint
	for _, p := range l.points {
		if p.VariantID != variantID || p.IsChunked {
			continue
		}
		if latest == nil || p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}
	return latest, latest != nil
}

// Restore reconstructs and returns the full state for a rollback point,
// verifying every integrity constraint along the way.
func (l *VariantLifecycle) Restore(id string) (map[string]interface{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	point, ok := l.points[id]
	if !ok {
		return nil, false
	}
	state, err := l.resolveState(point)
	if err != nil {
		l.logger.Warn("rollback restore failed", "rollback_id", id, "error", err)
		return nil, false
	}
	checksum, err := canon.Checksum(state)
	if err != nil || checksum != point.Checksum {
		l.logger.Warn("rollback checksum mismatch", "rollback_id", id)
		return nil, false
	}
	return state, true
}

// Verify reports whether a rollback point's stored state still reconstructs
// without an integrity failure, without returning the state.
func (l *VariantLifecycle) Verify(id string) bool {
	_, ok := l.Restore(id)
	return ok
}

func (l *VariantLifecycle) resolveState(point *RollbackPoint) (map[string]interface{}, error) {
	if point.IsChunked {
		var canonical []byte
		for _, chunkID := range point.ChunkRefs {
			chunk, err := l.chunks.Get(chunkID)
			if err != nil {
				return nil, fmt.Errorf("lifecycle: %w: chunk %s: %v", resilience.ErrIntegrityFailure, chunkID, err)
			}
			canonical = append(canonical, chunk.Data...)
		}
		var state map[string]interface{}
		if err := json.Unmarshal(canonical, &state); err != nil {
			return nil, fmt.Errorf("lifecycle: %w: %v", resilience.ErrIntegrityFailure, err)
		}
		return state, nil
	}

	baseID, hasBase := point.Metadata["base_rollback_id"]
	if !hasBase {
		return point.State, nil
	}
	base, ok := l.points[baseID]
	if !ok {
		return nil, fmt.Errorf("lifecycle: %w: missing base point %s", resilience.ErrNotFound, baseID)
	}
	baseState, err := l.resolveState(base)
	if err != nil {
		return nil, err
	}
	return ApplyDiff(baseState, point.State), nil
}

// ListRollbackPoints returns points for variantID (or every point if
// variantID is empty), newest first.
func (l *VariantLifecycle) ListRollbackPoints(variantID string) []RollbackPoint {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []RollbackPoint
	for _, p := range l.points {
		if variantID != "" && p.VariantID != variantID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// CleanupOldPoints removes points whose retention predicate is false and
// returns the number removed.
func (l *VariantLifecycle) CleanupOldPoints() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleanupLocked()
}

func (l *VariantLifecycle) cleanupLocked() int {
	retained := make(map[string]bool, len(l.points))
	for id, p := range l.points {
		if time.Since(p.Timestamp) < l.cfg.RetentionPeriod || p.Metadata["permanent"] == "true" {
			retained[id] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for _, p := range l.points {
			if !retained[p.ID] {
				continue
			}
			if baseID, ok := p.Metadata["base_rollback_id"]; ok && !retained[baseID] {
				retained[baseID] = true
				changed = true
			}
		}
	}

	removed := 0
	for id := range l.points {
		if retained[id] {
			continue
		}
		path := filepath.Join(l.cfg.StoragePath, "rollback", id+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("lifecycle: could not remove rollback point file", "rollback_id", id, "error", err)
		}
		delete(l.points, id)
		removed++
	}
	if removed > 0 {
		l.logger.Info("rollback points cleaned up", "removed", removed)
	}
	return removed
}

func (l *VariantLifecycle) optimizeIndexLocked() {
	var entries []btree.Entry
	for id := range l.pointsByChunkID() {
		path := filepath.Join(l.cfg.StoragePath, "chunks", id+".bin")
		entries = append(entries, btree.Entry{Key: id, Value: path})
	}
	if len(entries) == 0 {
		return
	}
	if err := l.index.BulkLoad(entries); err != nil {
		l.logger.Warn("lifecycle: btree optimize failed", "error", err)
	}
}

func (l *VariantLifecycle) pointsByChunkID() map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range l.points {
		for _, chunkID := range p.ChunkRefs {
			out[chunkID] = struct{}{}
		}
	}
	return out
}

func (l *VariantLifecycle) persistPoint(point *RollbackPoint) error {
	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return fmt.Errorf("lifecycle: marshal rollback point: %w", err)
	}
	path := filepath.Join(l.cfg.StoragePath, "rollback", point.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lifecycle: %w: %v", resilience.ErrIOFailure, err)
	}
	return os.Rename(tmp, path)
}

func newRollbackID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

func stringMetadata(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
