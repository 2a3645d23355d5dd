// Package discovery turns a capability name into ranked candidate packages.
//
// All sources — the curated catalog, the live registry search, and the
// free-form research step — produce the same [varietyd.Candidate] shape, so
// matching is source-agnostic. [Select] picks the winner deterministically.
package discovery

import (
	"context"
	"log/slog"

	"github.com/varietylab/varietyd"
)

// Source proposes candidate packages for a capability. An empty result is a
// valid answer, not an error.
type Source interface {
	// Name identifies the source in logs and diagnostics.
	Name() string

	// Discover returns candidates for the capability, best guesses first.
	Discover(ctx context.Context, capability string) ([]varietyd.Candidate, error)
}

// Engine queries a set of sources and merges their candidates. A failing
// source is logged and skipped — one unreachable registry must not abort an
// acquisition that a curated entry could satisfy.
type Engine struct {
	sources []Source
	log     *slog.Logger
}

// NewEngine creates a discovery engine over the given sources, queried in
// order.
func NewEngine(log *slog.Logger, sources ...Source) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{sources: sources, log: log}
}

// Discover merges candidates from every source. Returns an empty slice when
// no source has anything — the caller decides that means ErrNoCandidate.
func (e *Engine) Discover(ctx context.Context, capability string) []varietyd.Candidate {
	var merged []varietyd.Candidate
	for _, src := range e.sources {
		cands, err := src.Discover(ctx, capability)
		if err != nil {
			e.log.Warn("discovery source failed",
				"source", src.Name(), "capability", capability, "err", err)
			continue
		}
		merged = append(merged, cands...)
	}
	return merged
}
