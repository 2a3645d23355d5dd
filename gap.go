package varietyd

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Severity classifies how urgently a gap needs closing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a recognized severity value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityNormal, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Gap is a detected or injected shortfall between required and currently
// available capabilities.
//
// Gap is a value type — it is created once (by the monitor's own detection or
// by an external trigger), consumed by one acquisition cycle, and never
// mutated, only superseded by a newer Gap.
type Gap struct {
	// Capabilities are the required capability names, deduplicated.
	Capabilities []string `json:"capabilities"`

	// Severity classifies the urgency of the gap.
	Severity Severity `json:"severity"`

	// Source identifies who reported the gap (e.g., "injected", "monitor").
	Source string `json:"source"`

	// ObservedAt is when the gap was detected or injected.
	ObservedAt time.Time `json:"observed_at"`
}

// NewGap builds a Gap with deduplicated, validated capability names.
// Duplicate names are collapsed; the original order of first occurrence is
// preserved. Returns an error if any name fails capability validation or if
// the severity is unrecognized.
func NewGap(capabilities []string, severity Severity, source string) (Gap, error) {
	if !severity.Valid() {
		return Gap{}, fmt.Errorf("varietyd: invalid severity %q", severity)
	}
	if len(capabilities) == 0 {
		return Gap{}, fmt.Errorf("varietyd: gap requires at least one capability")
	}
	deduped := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		c = strings.TrimSpace(c)
		if err := ValidateCapability(c); err != nil {
			return Gap{}, err
		}
		if !slices.Contains(deduped, c) {
			deduped = append(deduped, c)
		}
	}
	return Gap{
		Capabilities: deduped,
		Severity:     severity,
		Source:       source,
		ObservedAt:   time.Now(),
	}, nil
}
