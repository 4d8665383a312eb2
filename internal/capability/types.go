// Package capability implements the capability data model and the
// authoritative CapabilityRegistry: the (agent -> capability-set) store,
// its inverted index, and discovery queries.
package capability

import "github.com/agentcore/agentcore/internal/version"

// Parameters is an ordered string->string mapping. Insertion order is
// preserved because the discovery cache fingerprint is order-sensitive by
// contract.
type Parameters []KV

// KV is one parameter entry.
type KV struct {
	Key   string
	Value string
}

// NewParameters returns an empty Parameters value.
func NewParameters() Parameters {
	return Parameters{}
}

// Set returns a copy of p with key set to value, preserving the position of
// an existing key or appending a new one at the end.
func (p Parameters) Set(key, value string) Parameters {
	out := make(Parameters, len(p))
	copy(out, p)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, KV{Key: key, Value: value})
}

// Get returns the value for key and whether it was present.
func (p Parameters) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// ContainsAll reports whether every key/value pair in required is present
// with an identical value in p. p may carry additional parameters.
func (p Parameters) ContainsAll(required Parameters) bool {
	for _, req := range required {
		val, ok := p.Get(req.Key)
		if !ok || val != req.Value {
			return false
		}
	}
	return true
}

// Capability is a named, versioned, parameterized declaration of what an
// agent can do. Equality and hashing (see Key) consider only Name and
// Version; Parameters participate only in Matches.
type Capability struct {
	Name             string
	Version          version.Version
	Parameters       Parameters
	Deprecated       bool
	DeprecatedSince  *version.Version
	RemovalVersion   *version.Version
	ReplacementName  string
}

// Key identifies a capability for equality/hashing purposes: name+version
// only.
type Key struct {
	Name    string
	Version version.Version
}

// Key returns c's identity key.
func (c Capability) Key() Key {
	return Key{Name: c.Name, Version: c.Version}
}

// Matches implements the capability match predicate from the data model:
// names must be exactly equal; if partial, c.Version must Satisfy
// required.Version, else it must be CompatibleWith it; every key in
// required.Parameters must exist in c.Parameters with an identical value.
// Deprecation is advisory and never blocks a match.
func (c Capability) Matches(required Capability, partial bool) bool {
	if c.Name != required.Name {
		return false
	}
	versionOK := c.Version.CompatibleWith(required.Version)
	if partial {
		versionOK = c.Version.Satisfies(required.Version)
	}
	if !versionOK {
		return false
	}
	return c.Parameters.ContainsAll(required.Parameters)
}

// AgentRecord is an agent's identity plus its advertised capability set,
// keyed by Key so duplicate (name, version) entries collapse naturally.
type AgentRecord struct {
	AgentID      string
	Capabilities map[Key]Capability
}

// NewAgentRecord creates an empty record for agentID.
func NewAgentRecord(agentID string) *AgentRecord {
	return &AgentRecord{AgentID: agentID, Capabilities: make(map[Key]Capability)}
}

// Snapshot returns a copy of the agent's current capability set.
func (r *AgentRecord) Snapshot() []Capability {
	out := make([]Capability, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		out = append(out, c)
	}
	return out
}
