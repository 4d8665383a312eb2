// Package governance drives the long-term evolution of protocol variants:
// agent registration, preference-weighted recommendations, ballot tallying,
// and consensus-triggered adoption.
package governance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentcore/agentcore/internal/lifecycle"
	"github.com/agentcore/agentcore/internal/resilience"
)

// AgentGovernance owns AgentContexts, ballots, and adoption timestamps. It
// delegates variant storage and state transitions to a VariantLifecycle.
type AgentGovernance struct {
	mu sync.Mutex

	lifecycle *lifecycle.VariantLifecycle
	logger    *slog.Logger

	persistPath string

	agents             map[string]*AgentContext
	votes              map[string][]VotingRecord
	adoptionTimestamps map[string]time.Time
	consensus          ConsensusConfig
}

// New constructs an AgentGovernance backed by lc, persisting its state under
// persistPath/emergence_state.json. logger may be nil.
func New(lc *lifecycle.VariantLifecycle, persistPath string, consensus ConsensusConfig, logger *slog.Logger) *AgentGovernance {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentGovernance{
		lifecycle:          lc,
		logger:             logger,
		persistPath:        persistPath,
		agents:             make(map[string]*AgentContext),
		votes:              make(map[string][]VotingRecord),
		adoptionTimestamps: make(map[string]time.Time),
		consensus:          consensus,
	}
}

// RegisterAgent adds a new agent context. id must match context.AgentID;
// duplicate ids fail.
func (g *AgentGovernance) RegisterAgent(id string, context AgentContext) bool {
	if id == "" || id != context.AgentID {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.agents[id]; exists {
		return false
	}
	ctx := context
	g.agents[id] = &ctx
	g.logger.Info("agent registered", "agent_id", id)
	return true
}

// UpdateAgentContext replaces the context of an already-registered agent.
func (g *AgentGovernance) UpdateAgentContext(id string, context AgentContext) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.agents[id]; !exists {
		return false
	}
	ctx := context
	g.agents[id] = &ctx
	return true
}

// GetAgentContext returns the current context for id.
func (g *AgentGovernance) GetAgentContext(id string) (AgentContext, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ctx, ok := g.agents[id]
	if !ok {
		return AgentContext{}, false
	}
	return *ctx, true
}

// ProposeVariantAsAgent enriches metadata with provenance fields, delegates
// to the lifecycle's Propose, and records the proposing agent's automatic
// supporting ballot.
func (g *AgentGovernance) ProposeVariantAsAgent(agentID, variantID string, changes, metadata map[string]interface{}, description, rationale string) bool {
	enriched := make(map[string]interface{}, len(metadata)+3)
	for k, v := range metadata {
		enriched[k] = v
	}
	enriched["proposing_agent"] = agentID
	enriched["proposal_rationale"] = rationale
	enriched["proposal_timestamp"] = time.Now().Format(time.RFC3339Nano)

	if !g.lifecycle.Propose(variantID, changes, enriched, description) {
		return false
	}
	g.Vote(agentID, variantID, true, "automatic support for own proposal")
	return true
}

// Vote appends a ballot for variantID and evaluates consensus. Returns false
// if the variant is not in a votable state (Proposed or InTesting).
func (g *AgentGovernance) Vote(agentID, variantID string, support bool, reason string) bool {
	variant, ok := g.lifecycle.Get(variantID)
	if !ok {
		return false
	}
	if variant.Status != lifecycle.StatusProposed && variant.Status != lifecycle.StatusInTesting {
		g.logger.Warn("vote rejected: variant not votable", "variant_id", variantID, "status", variant.Status)
		return false
	}

	g.mu.Lock()
	ballot := VotingRecord{VariantID: variantID, AgentID: agentID, Support: support, Reason: reason, Timestamp: time.Now()}
	g.votes[variantID] = append(g.votes[variantID], ballot)
	ballots := append([]VotingRecord(nil), g.votes[variantID]...)
	g.mu.Unlock()

	g.evaluateConsensus(variantID, ballots)
	return true
}

// evaluateConsensus applies the four-part rule: enough ballots, the voting
// period has elapsed since the latest ballot, the support ratio clears the
// required majority, and (if configured) performance evidence exists.
func (g *AgentGovernance) evaluateConsensus(variantID string, ballots []VotingRecord) {
	if len(ballots) < g.consensus.MinimumVotes {
		return
	}

	latest := ballots[0].Timestamp
	supportCount := 0
	for _, b := range ballots {
		if b.Timestamp.After(latest) {
			latest = b.Timestamp
		}
		if b.Support {
			supportCount++
		}
	}
	if time.Since(latest) < g.consensus.VotingPeriod {
		return
	}

	majority := float64(supportCount) / float64(len(ballots))
	if majority < g.consensus.RequiredMajority {
		return
	}

	if g.consensus.RequirePerformanceEvidence && !g.lifecycle.HasPerformanceHistory(variantID) {
		return
	}

	if !g.lifecycle.SetStatus(variantID, lifecycle.StatusAdopted) {
		return
	}

	g.mu.Lock()
	g.adoptionTimestamps[variantID] = time.Now()
	g.mu.Unlock()
	g.logger.Info("consensus reached, variant adopted", "variant_id", variantID, "votes", len(ballots), "majority", majority)
}

// scoredVariant pairs a variant id with its recommendation score for
// stable, tie-broken sorting.
type scoredVariant struct {
	id    string
	score float64
}

// Recommend scores every Adopted variant for agentID and returns up to
// maxResults ids, highest score first, ties broken lexicographically.
func (g *AgentGovernance) Recommend(agentID string, maxResults int) []string {
	g.mu.Lock()
	agent, ok := g.agents[agentID]
	var agentCopy AgentContext
	if ok {
		agentCopy = *agent
	}
	g.mu.Unlock()
	if !ok {
		return nil
	}

	adopted := g.lifecycle.ListByStatus(lifecycle.StatusAdopted)
	scored := make([]scoredVariant, 0, len(adopted))
	for id, variant := range adopted {
		scored = append(scored, scoredVariant{id: id, score: g.scoreVariant(agentCopy, variant)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].id < scored[j].id
	})

	if maxResults > 0 && len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.id
	}
	return out
}

func (g *AgentGovernance) scoreVariant(agent AgentContext, variant lifecycle.ProtocolVariant) float64 {
	var score float64

	for _, v := range agent.SuccessfulVariants {
		if v == variant.ID {
			score += 1
			break
		}
	}

	requiredCaps, _ := variant.Metadata["required_capabilities"].([]interface{})
	for _, rc := range requiredCaps {
		name, ok := rc.(string)
		if !ok {
			continue
		}
		if _, owned := agent.Capabilities[name]; owned {
			score += 0.5
		}
	}

	characteristics, _ := variant.Metadata["characteristics"].(map[string]interface{})
	for name, weight := range agent.Preferences {
		raw, present := characteristics[name]
		if !present {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			continue
		}
		score += weight * value
	}

	return score
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// ReportExperience records the outcome of an agent's use of a variant. On
// success, variantID is added to the agent's successful_variants if absent.
func (g *AgentGovernance) ReportExperience(agentID, variantID string, successful bool, details string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("experience reported", "agent_id", agentID, "variant_id", variantID, "successful", successful, "details", details)

	if !successful {
		return
	}
	agent, ok := g.agents[agentID]
	if !ok {
		return
	}
	for _, v := range agent.SuccessfulVariants {
		if v == variantID {
			return
		}
	}
	agent.SuccessfulVariants = append(agent.SuccessfulVariants, variantID)
}

// NewlyAdoptedSince returns ids of variants adopted after t. agentID is
// accepted to match the operation's signature; adoption is a global
// property of a variant, not agent-specific, so it does not otherwise
// affect the result.
func (g *AgentGovernance) NewlyAdoptedSince(agentID string, t time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for variantID, adoptedAt := range g.adoptionTimestamps {
		if adoptedAt.After(t) {
			out = append(out, variantID)
		}
	}
	return out
}

// SetConsensusConfig validates and replaces the consensus configuration.
func (g *AgentGovernance) SetConsensusConfig(cfg ConsensusConfig) bool {
	if !cfg.Valid() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consensus = cfg
	return true
}

// GetConsensusConfig returns the active consensus configuration.
func (g *AgentGovernance) GetConsensusConfig() ConsensusConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consensus
}

// SaveState persists agents, ballots, adoption timestamps, and the active
// consensus config to emergence_state.json, together with a full copy of
// every lifecycle variant and its performance history, so LoadState can
// rebuild both.
func (g *AgentGovernance) SaveState() error {
	g.mu.Lock()
	agents := make(map[string]AgentContext, len(g.agents))
	for id, ctx := range g.agents {
		agents[id] = *ctx
	}
	votes := make(map[string][]VotingRecord, len(g.votes))
	for id, v := range g.votes {
		votes[id] = append([]VotingRecord(nil), v...)
	}
	adoptionTimestamps := make(map[string]time.Time, len(g.adoptionTimestamps))
	for id, ts := range g.adoptionTimestamps {
		adoptionTimestamps[id] = ts
	}
	consensus := g.consensus
	g.mu.Unlock()

	variants := make(map[string]variantSnapshot)
	for id, v := range g.lifecycle.AllVariants() {
		variants[id] = variantSnapshot{ID: v.ID, Description: v.Description, Changes: v.Changes, Metadata: v.Metadata, Status: string(v.Status)}
	}
	performance := make(map[string][]performanceSnapshot)
	for id, records := range g.lifecycle.AllPerformanceHistory() {
		snaps := make([]performanceSnapshot, len(records))
		for i, r := range records {
			snaps[i] = performanceSnapshot{Metrics: r.Metrics, Timestamp: r.Timestamp}
		}
		performance[id] = snaps
	}

	state := persistedState{
		Variants:           variants,
		PerformanceHistory: performance,
		Agents:             agents,
		Votes:              votes,
		AdoptionTimestamps: adoptionTimestamps,
		ConsensusConfig:    consensus,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("governance: marshal state: %w", err)
	}

	if err := os.MkdirAll(g.persistPath, 0o755); err != nil {
		return fmt.Errorf("governance: %w: %v", resilience.ErrIOFailure, err)
	}
	path := filepath.Join(g.persistPath, "emergence_state.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("governance: %w: %v", resilience.ErrIOFailure, err)
	}
	return os.Rename(tmp, path)
}

// LoadState best-effort-loads emergence_state.json, logging and preserving
// whatever in-memory state already exists on any failure.
func (g *AgentGovernance) LoadState() {
	path := filepath.Join(g.persistPath, "emergence_state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.Warn("governance: could not read persisted state", "error", err)
		}
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		g.logger.Warn("governance: could not parse persisted state", "error", err)
		return
	}

	g.mu.Lock()
	for id, ctx := range state.Agents {
		c := ctx
		g.agents[id] = &c
	}
	for id, v := range state.Votes {
		g.votes[id] = v
	}
	if state.AdoptionTimestamps != nil {
		g.adoptionTimestamps = state.AdoptionTimestamps
	}
	if state.ConsensusConfig.Valid() {
		g.consensus = state.ConsensusConfig
	}
	g.mu.Unlock()

	variants := make(map[string]lifecycle.ProtocolVariant, len(state.Variants))
	for id, v := range state.Variants {
		variants[id] = lifecycle.ProtocolVariant{ID: v.ID, Description: v.Description, Changes: v.Changes, Metadata: v.Metadata, Status: lifecycle.Status(v.Status)}
	}
	performance := make(map[string][]lifecycle.PerformanceRecord, len(state.PerformanceHistory))
	for id, snaps := range state.PerformanceHistory {
		records := make([]lifecycle.PerformanceRecord, len(snaps))
		for i, s := range snaps {
			records[i] = lifecycle.PerformanceRecord{Metrics: s.Metrics, Timestamp: s.Timestamp}
		}
		performance[id] = records
	}
	g.lifecycle.RestoreVariants(variants, performance)
}
