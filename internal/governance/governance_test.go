package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/internal/lifecycle"
)

func newTestGovernance(t *testing.T, cfg ConsensusConfig) (*AgentGovernance, *lifecycle.VariantLifecycle) {
	t.Helper()
	lc, err := lifecycle.New(lifecycle.DefaultConfig(t.TempDir()), nil)
	require.NoError(t, err)
	g := New(lc, t.TempDir(), cfg, nil)
	return g, lc
}

func TestRegisterAgent_RejectsMismatchedIDAndDuplicates(t *testing.T) {
	g, _ := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.6, MinimumVotes: 1, VotingPeriod: 0})

	assert.False(t, g.RegisterAgent("a1", AgentContext{AgentID: "other"}))
	assert.True(t, g.RegisterAgent("a1", AgentContext{AgentID: "a1"}))
	assert.False(t, g.RegisterAgent("a1", AgentContext{AgentID: "a1"}))
}

func TestConsensusAdoption(t *testing.T) {
	g, lc := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.6, MinimumVotes: 3, VotingPeriod: 0})

	require.True(t, lc.Propose("v1", nil, nil, "a candidate variant"))
	require.True(t, g.RegisterAgent("agent1", AgentContext{AgentID: "agent1"}))
	require.True(t, g.RegisterAgent("agent2", AgentContext{AgentID: "agent2"}))
	require.True(t, g.RegisterAgent("agent3", AgentContext{AgentID: "agent3"}))

	assert.True(t, g.Vote("agent1", "v1", true, "looks good"))
	assert.True(t, g.Vote("agent2", "v1", true, "agreed"))
	assert.True(t, g.Vote("agent3", "v1", false, "concerned about latency"))

	variant, ok := lc.Get("v1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.StatusAdopted, variant.Status)

	adopted := lc.ListByStatus(lifecycle.StatusAdopted)
	assert.Contains(t, adopted, "v1")

	newlyAdopted := g.NewlyAdoptedSince("agent1", time.Now().Add(-time.Minute))
	assert.Contains(t, newlyAdopted, "v1")
}

func TestVote_RejectsNonVotableVariant(t *testing.T) {
	g, lc := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.5, MinimumVotes: 1, VotingPeriod: 0})
	require.True(t, lc.Propose("v1", nil, nil, ""))
	require.True(t, lc.SetStatus("v1", lifecycle.StatusRejected))

	assert.False(t, g.Vote("agent1", "v1", true, ""))
}

func TestVote_DuplicateBallotsAllCount(t *testing.T) {
	g, lc := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.9, MinimumVotes: 3, VotingPeriod: 0})
	require.True(t, lc.Propose("v1", nil, nil, ""))

	assert.True(t, g.Vote("agent1", "v1", true, "first"))
	assert.True(t, g.Vote("agent1", "v1", true, "voted again"))
	assert.True(t, g.Vote("agent1", "v1", true, "and again"))

	variant, ok := lc.Get("v1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.StatusAdopted, variant.Status, "three identical ballots still satisfy minimum_votes=3 at 100% support")
}

func TestProposeVariantAsAgent_RecordsAutomaticSupport(t *testing.T) {
	g, lc := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.99, MinimumVotes: 100, VotingPeriod: 0})
	require.True(t, g.RegisterAgent("agent1", AgentContext{AgentID: "agent1"}))

	ok := g.ProposeVariantAsAgent("agent1", "v1", nil, nil, "proposed by agent1", "because performance looked promising")
	require.True(t, ok)

	variant, found := lc.Get("v1")
	require.True(t, found)
	assert.Equal(t, "agent1", variant.Metadata["proposing_agent"])
	assert.NotEmpty(t, variant.Metadata["proposal_timestamp"])
}

func TestRecommend_ScoresAndBreaksTiesByID(t *testing.T) {
	g, lc := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.5, MinimumVotes: 1, VotingPeriod: 0})

	require.True(t, lc.Propose("zzz", nil, map[string]interface{}{}, ""))
	require.True(t, lc.Propose("aaa", nil, map[string]interface{}{}, ""))
	require.True(t, lc.SetStatus("zzz", lifecycle.StatusAdopted))
	require.True(t, lc.SetStatus("aaa", lifecycle.StatusAdopted))

	require.True(t, g.RegisterAgent("agent1", AgentContext{AgentID: "agent1"}))

	results := g.Recommend("agent1", 5)
	assert.Equal(t, []string{"aaa", "zzz"}, results, "zero score for both, ties break lexicographically")
}

func TestRecommend_WeightsSuccessCapabilitiesAndPreferences(t *testing.T) {
	g, lc := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.5, MinimumVotes: 1, VotingPeriod: 0})

	metadata := map[string]interface{}{
		"required_capabilities": []interface{}{"img.proc"},
		"characteristics":       map[string]interface{}{"speed": 2.0},
	}
	require.True(t, lc.Propose("fast-variant", nil, metadata, ""))
	require.True(t, lc.Propose("plain-variant", nil, map[string]interface{}{}, ""))
	require.True(t, lc.SetStatus("fast-variant", lifecycle.StatusAdopted))
	require.True(t, lc.SetStatus("plain-variant", lifecycle.StatusAdopted))

	require.True(t, g.RegisterAgent("agent1", AgentContext{
		AgentID:      "agent1",
		Capabilities: map[string]string{"img.proc": "1.0.0"},
		Preferences:  map[string]float64{"speed": 1.0},
	}))
	g.ReportExperience("agent1", "fast-variant", true, "worked great")

	results := g.Recommend("agent1", 1)
	require.Len(t, results, 1)
	assert.Equal(t, "fast-variant", results[0])
}

func TestReportExperience_AddsOnceOnSuccess(t *testing.T) {
	g, _ := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.5, MinimumVotes: 1, VotingPeriod: 0})
	require.True(t, g.RegisterAgent("agent1", AgentContext{AgentID: "agent1"}))

	g.ReportExperience("agent1", "v1", true, "")
	g.ReportExperience("agent1", "v1", true, "")
	g.ReportExperience("agent1", "v2", false, "failed")

	ctx, ok := g.GetAgentContext("agent1")
	require.True(t, ok)
	assert.Equal(t, []string{"v1"}, ctx.SuccessfulVariants)
}

func TestSetConsensusConfig_RejectsInvalidRanges(t *testing.T) {
	g, _ := newTestGovernance(t, ConsensusConfig{RequiredMajority: 0.5, MinimumVotes: 1, VotingPeriod: 0})

	assert.False(t, g.SetConsensusConfig(ConsensusConfig{RequiredMajority: 0, MinimumVotes: 1}))
	assert.False(t, g.SetConsensusConfig(ConsensusConfig{RequiredMajority: 1.5, MinimumVotes: 1}))
	assert.False(t, g.SetConsensusConfig(ConsensusConfig{RequiredMajority: 0.5, MinimumVotes: 0}))
	assert.True(t, g.SetConsensusConfig(ConsensusConfig{RequiredMajority: 0.75, MinimumVotes: 2}))

	got := g.GetConsensusConfig()
	assert.Equal(t, 0.75, got.RequiredMajority)
}

func TestSaveLoadState_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	lc, err := lifecycle.New(lifecycle.DefaultConfig(t.TempDir()), nil)
	require.NoError(t, err)
	g := New(lc, dir, ConsensusConfig{RequiredMajority: 0.6, MinimumVotes: 5, VotingPeriod: 0}, nil)

	require.True(t, lc.Propose("v1", map[string]interface{}{"x": 1.0}, nil, "round trip me"))
	require.True(t, g.RegisterAgent("agent1", AgentContext{AgentID: "agent1", Preferences: map[string]float64{"speed": 1}}))
	g.Vote("agent1", "v1", true, "looks fine")
	lc.LogPerformance("v1", lifecycle.PerformanceRecord{Metrics: map[string]float64{"successRate": 0.9}, Timestamp: time.Now()})

	require.NoError(t, g.SaveState())

	lc2, err := lifecycle.New(lifecycle.DefaultConfig(t.TempDir()), nil)
	require.NoError(t, err)
	g2 := New(lc2, dir, ConsensusConfig{}, nil)
	g2.LoadState()

	ctx, ok := g2.GetAgentContext("agent1")
	require.True(t, ok)
	assert.Equal(t, float64(1), ctx.Preferences["speed"])

	variant, ok := lc2.Get("v1")
	require.True(t, ok)
	assert.Equal(t, "round trip me", variant.Description)

	cfg := g2.GetConsensusConfig()
	assert.Equal(t, 0.6, cfg.RequiredMajority)
}
