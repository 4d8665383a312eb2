package capability

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/agentcore/agentcore/internal/capability/cache"
	"github.com/agentcore/agentcore/internal/version"
)

var validate = validator.New()

// capabilityPayload mirrors the fields of Capability that benefit from
// struct-tag validation at the registry boundary.
type capabilityPayload struct {
	Name string `validate:"required"`
}

// versionKey is version.Version flattened into a comparable map key.
type versionKey struct {
	Major, Minor, Patch uint16
}

func keyOfVersion(v version.Version) versionKey {
	return versionKey{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
}

func (vk versionKey) toVersion() version.Version {
	return version.New(vk.Major, vk.Minor, vk.Patch)
}

// Registry is the authoritative store of (agent -> capability-set) plus the
// name -> version -> agent-id inverted index used by discovery. A single
// exclusive mutex covers both structures. Mutations clear the query cache
// (taking the cache's own lock) while this mutex is held; the cache never
// calls back into the registry.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*AgentRecord
	index  map[string]map[versionKey]map[string]struct{}
	cache  *cache.CapabilityCache
	logger *slog.Logger
}

// NewRegistry constructs an empty registry. c may be nil, in which case
// exact-match discovery results are not cached. logger may be nil, in which
// case slog.Default() is used.
func NewRegistry(c *cache.CapabilityCache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents: make(map[string]*AgentRecord),
		index:  make(map[string]map[versionKey]map[string]struct{}),
		cache:  c,
		logger: logger,
	}
}

// Register adds cap to agentID's capability set. Returns false (no error)
// for empty agentID/cap.Name, or if an identical (name, version) capability
// is already registered. On a true return the query cache is invalidated
// before the registry mutex is released.
func (r *Registry) Register(agentID string, cap Capability) bool {
	if agentID == "" || cap.Name == "" {
		return false
	}
	if err := validate.Struct(capabilityPayload{Name: cap.Name}); err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		agent = NewAgentRecord(agentID)
		r.agents[agentID] = agent
	}

	key := cap.Key()
	if _, exists := agent.Capabilities[key]; exists {
		return false
	}
	agent.Capabilities[key] = cap

	vkey := keyOfVersion(cap.Version)
	byVersion, ok := r.index[cap.Name]
	if !ok {
		byVersion = make(map[versionKey]map[string]struct{})
		r.index[cap.Name] = byVersion
	}
	agents, ok := byVersion[vkey]
	if !ok {
		agents = make(map[string]struct{})
		byVersion[vkey] = agents
	}
	agents[agentID] = struct{}{}

	r.invalidateCache()
	r.logger.Info("capability registered", "agent_id", agentID, "capability", cap.Name, "version", cap.Version.String())
	return true
}

// Unregister removes cap from agentID's capability set, pruning empty
// inner index entries and empty agent records. Invalidates the cache on a
// true return.
func (r *Registry) Unregister(agentID string, cap Capability) bool {
	if agentID == "" || cap.Name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return false
	}
	key := cap.Key()
	if _, exists := agent.Capabilities[key]; !exists {
		return false
	}
	delete(agent.Capabilities, key)
	if len(agent.Capabilities) == 0 {
		delete(r.agents, agentID)
	}

	vkey := keyOfVersion(cap.Version)
	if byVersion, ok := r.index[cap.Name]; ok {
		if agents, ok := byVersion[vkey]; ok {
			delete(agents, agentID)
			if len(agents) == 0 {
				delete(byVersion, vkey)
			}
		}
		if len(byVersion) == 0 {
			delete(r.index, cap.Name)
		}
	}

	r.invalidateCache()
	r.logger.Info("capability unregistered", "agent_id", agentID, "capability", cap.Name, "version", cap.Version.String())
	return true
}

// RemoveAgent removes every capability owned by agentID and returns the
// number removed, invalidating the cache if any were.
func (r *Registry) RemoveAgent(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return 0
	}
	count := len(agent.Capabilities)
	for key, cap := range agent.Capabilities {
		vkey := keyOfVersion(cap.Version)
		if byVersion, ok := r.index[key.Name]; ok {
			if agents, ok := byVersion[vkey]; ok {
				delete(agents, agentID)
				if len(agents) == 0 {
					delete(byVersion, vkey)
				}
			}
			if len(byVersion) == 0 {
				delete(r.index, key.Name)
			}
		}
	}
	delete(r.agents, agentID)

	if count > 0 {
		r.invalidateCache()
		r.logger.Info("agent removed", "agent_id", agentID, "capabilities_removed", count)
	}
	return count
}

// GetAgentCapabilities returns a snapshot of agentID's current capability
// set; an unknown agent yields an empty (non-nil) slice.
func (r *Registry) GetAgentCapabilities(agentID string) []Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return []Capability{}
	}
	return agent.Snapshot()
}

// Discover runs the incremental-intersection discovery algorithm. With an
// empty required slice it returns an empty slice without touching the
// cache. With partial=false, successful results are cached under a
// fingerprint of required; partial queries always bypass the cache.
func (r *Registry) Discover(required []Capability, partial bool) []string {
	if len(required) == 0 {
		return []string{}
	}

	fingerprint := fingerprintOf(required)
	if !partial && r.cache != nil {
		if cached, ok := r.cache.Get(fingerprint); ok {
			return cached
		}
	}

	r.mu.Lock()
	result := r.discoverLocked(required, partial)
	r.mu.Unlock()

	if !partial && r.cache != nil {
		r.cache.Put(fingerprint, result)
	}
	return result
}

func (r *Registry) discoverLocked(required []Capability, partial bool) []string {
	var intersection map[string]struct{}

	for _, req := range required {
		candidates := r.candidatesFor(req, partial)
		if len(candidates) == 0 {
			return []string{}
		}

		if partial {
			candidates = r.filterPartialMatches(candidates, req)
			if len(candidates) == 0 {
				return []string{}
			}
		}

		if intersection == nil {
			intersection = candidates
			continue
		}
		intersection = intersectSets(intersection, candidates)
		if len(intersection) == 0 {
			return []string{}
		}
	}

	out := make([]string, 0, len(intersection))
	for agentID := range intersection {
		out = append(out, agentID)
	}
	return out
}

// candidatesFor computes C_r: the union, over every indexed version that
// satisfies/is-compatible-with req.Version (matching the partial flag), of
// the agents registered under (req.Name, that version).
func (r *Registry) candidatesFor(req Capability, partial bool) map[string]struct{} {
	out := make(map[string]struct{})
	byVersion, ok := r.index[req.Name]
	if !ok {
		return out
	}
	for vkey, agents := range byVersion {
		v := vkey.toVersion()
		ok := v.CompatibleWith(req.Version)
		if partial {
			ok = v.Satisfies(req.Version)
		}
		if !ok {
			continue
		}
		for agentID := range agents {
			out[agentID] = struct{}{}
		}
	}
	return out
}

// filterPartialMatches keeps only agents owning at least one capability
// that Matches req under partial=true, including the parameter-subset
// check.
func (r *Registry) filterPartialMatches(candidates map[string]struct{}, req Capability) map[string]struct{} {
	out := make(map[string]struct{})
	for agentID := range candidates {
		agent, ok := r.agents[agentID]
		if !ok {
			continue
		}
		for _, owned := range agent.Capabilities {
			if owned.Matches(req, true) {
				out[agentID] = struct{}{}
				break
			}
		}
	}
	return out
}

func (r *Registry) invalidateCache() {
	if r.cache != nil {
		r.cache.Clear()
	}
}

func intersectSets(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k := range small {
		if _, ok := large[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// fingerprintOf builds the order-sensitive cache key:
// "name:version_string;k=v,k=v,...|" per capability, concatenated in input
// order. Parameter order within one capability is preserved as given, not
// re-sorted.
func fingerprintOf(required []Capability) string {
	var b strings.Builder
	for _, c := range required {
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(c.Version.String())
		b.WriteByte(';')
		params := make([]string, len(c.Parameters))
		for i, kv := range c.Parameters {
			params[i] = fmt.Sprintf("%s=%s", kv.Key, kv.Value)
		}
		b.WriteString(strings.Join(params, ","))
		b.WriteByte('|')
	}
	return b.String()
}
