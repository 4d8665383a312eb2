package capability

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/agentcore/agentcore/internal/version"
)

// EncodeCapability serializes a capability per the wire framing:
//
//	name:    u32 BE length, UTF-8 bytes
//	version: u16, u16, u16 BE (major, minor, patch)
//	params:  u32 BE count, then per entry: u32 BE keylen, key, u32 BE vallen, value
//
// Deprecation metadata does not travel on the wire; it is carried out of
// band in the structured lifecycle/governance documents.
func EncodeCapability(c Capability) ([]byte, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("capability: encode: empty name")
	}

	var buf bytes.Buffer
	if err := writeString(&buf, c.Name); err != nil {
		return nil, err
	}
	for _, part := range []uint16{c.Version.Major, c.Version.Minor, c.Version.Patch} {
		if err := binary.Write(&buf, binary.BigEndian, part); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(c.Parameters))); err != nil {
		return nil, err
	}
	for _, kv := range c.Parameters {
		if err := writeString(&buf, kv.Key); err != nil {
			return nil, err
		}
		if err := writeString(&buf, kv.Value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeCapability parses a single capability, returning the number of
// bytes consumed from data.
func DecodeCapability(data []byte) (Capability, int, error) {
	r := bytes.NewReader(data)
	start := r.Len()

	name, err := readString(r)
	if err != nil {
		return Capability{}, 0, err
	}

	var major, minor, patch uint16
	for _, dst := range []*uint16{&major, &minor, &patch} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return Capability{}, 0, fmt.Errorf("capability: decode version: %w", err)
		}
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return Capability{}, 0, fmt.Errorf("capability: decode param count: %w", err)
	}

	params := NewParameters()
	for i := uint32(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return Capability{}, 0, err
		}
		val, err := readString(r)
		if err != nil {
			return Capability{}, 0, err
		}
		params = params.Set(key, val)
	}

	consumed := start - r.Len()
	return Capability{
		Name:       name,
		Version:    version.New(major, minor, patch),
		Parameters: params,
	}, consumed, nil
}

// EncodeAgentCapabilities serializes the agent-capability blob: u32 BE
// count, then per capability a u32 BE size followed by its encoding.
func EncodeAgentCapabilities(caps []Capability) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(caps))); err != nil {
		return nil, err
	}
	for _, c := range caps {
		encoded, err := EncodeCapability(c)
		if err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(encoded))); err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	return buf.Bytes(), nil
}

// DecodeAgentCapabilities parses the agent-capability blob.
func DecodeAgentCapabilities(data []byte) ([]Capability, error) {
	r := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("capability: decode blob count: %w", err)
	}

	caps := make([]Capability, 0, count)
	for i := uint32(0); i < count; i++ {
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("capability: decode entry size: %w", err)
		}
		entry := make([]byte, size)
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, fmt.Errorf("capability: decode entry: %w", err)
		}
		c, _, err := DecodeCapability(entry)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", fmt.Errorf("capability: decode length: %w", err)
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("capability: decode string: %w", err)
	}
	return string(b), nil
}

// RegisterBinary decodes a single wire-encoded capability and registers it
// for agentID. Malformed framing returns false.
func (r *Registry) RegisterBinary(agentID string, data []byte) bool {
	c, _, err := DecodeCapability(data)
	if err != nil {
		return false
	}
	return r.Register(agentID, c)
}

// GetAgentCapabilitiesBinary returns agentID's capability set framed as the
// agent-capability blob.
func (r *Registry) GetAgentCapabilitiesBinary(agentID string) ([]byte, error) {
	return EncodeAgentCapabilities(r.GetAgentCapabilities(agentID))
}
