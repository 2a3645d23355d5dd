package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/varietylab/varietyd"
)

// Suggester proposes packages for a capability using some out-of-band
// mechanism, typically a model call. Implementations live outside this
// package; varietyd only defines the seam.
type Suggester interface {
	Suggest(ctx context.Context, capability string) ([]varietyd.Candidate, error)
}

// ResearchSource adapts a Suggester into a Source. Suggestions are
// untrusted in the same way registry results are: names that fail the
// allow-list are dropped before they can reach an install.
type ResearchSource struct {
	suggester Suggester
	log       *slog.Logger
}

// NewResearchSource wraps a Suggester.
func NewResearchSource(s Suggester, log *slog.Logger) *ResearchSource {
	if log == nil {
		log = slog.Default()
	}
	return &ResearchSource{suggester: s, log: log}
}

// Name implements Source.
func (s *ResearchSource) Name() string { return "research" }

// Discover implements Source.
func (s *ResearchSource) Discover(ctx context.Context, capability string) ([]varietyd.Candidate, error) {
	suggestions, err := s.suggester.Suggest(ctx, capability)
	if err != nil {
		return nil, fmt.Errorf("discovery: research: %w", err)
	}
	out := make([]varietyd.Candidate, 0, len(suggestions))
	for _, c := range suggestions {
		if err := varietyd.ValidatePackageName(c.PackageName); err != nil {
			s.log.Warn("research suggestion dropped", "package", c.PackageName, "error", err)
			continue
		}
		if err := varietyd.ValidateVersion(c.Version); err != nil {
			s.log.Warn("research suggestion dropped", "package", c.PackageName, "error", err)
			continue
		}
		c.Origin = varietyd.OriginResearch
		out = append(out, c)
	}
	return out, nil
}
