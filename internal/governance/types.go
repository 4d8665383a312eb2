package governance

import "time"

// AgentContext is the governance-facing profile of one registered agent.
// Persisted; mutated only through UpdateAgentContext.
type AgentContext struct {
	AgentID            string             `json:"agent_id"`
	Capabilities       map[string]string  `json:"capabilities"`
	Preferences        map[string]float64 `json:"preferences"`
	SuccessfulVariants []string           `json:"successful_variants"`
}

// VotingRecord is one ballot cast by an agent on a variant. Duplicates (the
// same agent voting twice on the same variant) are not deduplicated; every
// ballot counts toward the consensus tally.
type VotingRecord struct {
	VariantID string    `json:"variant_id"`
	AgentID   string    `json:"agent_id"`
	Support   bool      `json:"support"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsensusConfig governs when accumulated ballots adopt a variant.
type ConsensusConfig struct {
	RequiredMajority           float64       `json:"required_majority"`
	MinimumVotes               int           `json:"minimum_votes"`
	VotingPeriod               time.Duration `json:"voting_period"`
	RequirePerformanceEvidence bool          `json:"require_performance_evidence"`
}

// Valid reports whether c's fields fall within their documented ranges.
func (c ConsensusConfig) Valid() bool {
	return c.RequiredMajority > 0 && c.RequiredMajority <= 1 &&
		c.MinimumVotes >= 1 &&
		c.VotingPeriod >= 0
}

// persistedState is the on-disk shape of emergence_state.json.
type persistedState struct {
	Variants           map[string]variantSnapshot `json:"variants"`
	PerformanceHistory map[string][]performanceSnapshot `json:"performance_history"`
	Agents             map[string]AgentContext    `json:"agents"`
	Votes              map[string][]VotingRecord  `json:"votes"`
	AdoptionTimestamps map[string]time.Time       `json:"adoption_timestamps"`
	ConsensusConfig    ConsensusConfig            `json:"consensus_config"`
}

type variantSnapshot struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Changes     map[string]interface{} `json:"changes"`
	Metadata    map[string]interface{} `json:"metadata"`
	Status      string                 `json:"status"`
}

type performanceSnapshot struct {
	Metrics   map[string]float64 `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}
