// Package negotiation resolves rejected wire-parameter bundles into the next
// acceptable bundle given an agent's ordered per-axis fallback preferences.
package negotiation

import (
	"log/slog"

	"github.com/agentcore/agentcore/internal/version"
)

// Axis tags. The core treats them as opaque strings; only a handful of
// combinations carry cross-axis compatibility constraints.
const (
	DataFormatVectorFloat32 = "VECTOR_FLOAT32"
	DataFormatVectorInt8    = "VECTOR_INT8"
	DataFormatCompressed    = "COMPRESSED_STATE"
	DataFormatGGWaveFSK     = "GGWAVE_FSK"

	CompressionNone = "NONE"
	CompressionLZ4  = "LZ4"

	ErrorCorrectionNone         = "NONE"
	ErrorCorrectionChecksumOnly = "CHECKSUM_ONLY"
	ErrorCorrectionReedSolomon  = "REED_SOLOMON"
)

// NegotiableParams is one candidate parameter bundle offered on the wire.
type NegotiableParams struct {
	ProtocolVersion version.Version
	DataFormat      string
	Compression     string
	ErrorCorrection string
	Encryption      string
	SecurityVersion version.Version
}

// NegotiationPreferences holds an agent's ordered fallback lists per axis,
// most-preferred first, plus the minimum protocol version it will accept.
type NegotiationPreferences struct {
	MinProtocolVersion version.Version
	DataFormats        []string
	Compressions       []string
	ErrorCorrections   []string
}

// FallbackConfig bounds how far negotiation may degrade each axis.
type FallbackConfig struct {
	AllowFormatDowngrade          bool
	AllowCompressionDowngrade     bool
	AllowErrorCorrectionDowngrade bool
	MaxFallbackAttempts           int
}

// Negotiator evaluates acceptability and computes fallback candidates. It
// carries no mutable state; every method is a pure function of its inputs.
type Negotiator struct {
	preferences NegotiationPreferences
	fallback    FallbackConfig
	logger      *slog.Logger
}

// New constructs a Negotiator bound to one agent's preferences and fallback
// policy. logger may be nil, in which case slog.Default() is used.
func New(prefs NegotiationPreferences, fallback FallbackConfig, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{preferences: prefs, fallback: fallback, logger: logger}
}

// IsAcceptable reports whether params meets the minimum protocol version and
// every axis value appears in its preference list.
func (n *Negotiator) IsAcceptable(params NegotiableParams) bool {
	if params.ProtocolVersion.Compare(n.preferences.MinProtocolVersion) < 0 {
		return false
	}
	return contains(n.preferences.DataFormats, params.DataFormat) &&
		contains(n.preferences.Compressions, params.Compression) &&
		contains(n.preferences.ErrorCorrections, params.ErrorCorrection)
}

// HandleRejection computes the next candidate bundle after rejected was
// refused by the peer at the given attempt count (0-based). It tries axes in
// fixed order of least impact — error-correction, then compression, then
// data-format — substituting the next-preferred value on the first axis
// where one exists and the resulting candidate is cross-axis compatible.
// Returns nil, false once attempts are exhausted or no axis yields a
// compatible candidate.
func (n *Negotiator) HandleRejection(rejected NegotiableParams, attempt int) (*NegotiableParams, bool) {
	if attempt >= n.fallback.MaxFallbackAttempts {
		return nil, false
	}

	if n.fallback.AllowErrorCorrectionDowngrade {
		if next, ok := nextPreferred(n.preferences.ErrorCorrections, rejected.ErrorCorrection); ok {
			candidate := rejected
			candidate.ErrorCorrection = next
			if compatible(candidate) {
				n.logger.Debug("negotiation fallback", "axis", "error_correction", "value", next)
				return &candidate, true
			}
		}
	}

	if n.fallback.AllowCompressionDowngrade {
		if next, ok := nextPreferred(n.preferences.Compressions, rejected.Compression); ok {
			candidate := rejected
			candidate.Compression = next
			if compatible(candidate) {
				n.logger.Debug("negotiation fallback", "axis", "compression", "value", next)
				return &candidate, true
			}
		}
	}

	if n.fallback.AllowFormatDowngrade {
		if next, ok := nextPreferred(n.preferences.DataFormats, rejected.DataFormat); ok {
			candidate := rejected
			candidate.DataFormat = next
			if compatible(candidate) {
				n.logger.Debug("negotiation fallback", "axis", "data_format", "value", next)
				return &candidate, true
			}
		}
	}

	return nil, false
}

// compatible enforces the enumerated cross-axis compatibility rules.
func compatible(p NegotiableParams) bool {
	if p.DataFormat == DataFormatCompressed && p.Compression != CompressionNone {
		return false
	}
	if p.DataFormat == DataFormatGGWaveFSK &&
		p.ErrorCorrection != ErrorCorrectionNone &&
		p.ErrorCorrection != ErrorCorrectionChecksumOnly {
		return false
	}
	return true
}

// nextPreferred returns the preference-list entry immediately after current,
// or ok=false if current is absent or already last.
func nextPreferred(list []string, current string) (string, bool) {
	for i, v := range list {
		if v == current {
			if i+1 < len(list) {
				return list[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
