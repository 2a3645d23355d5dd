package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/varietylab/varietyd"
)

// CuratedSource serves candidates from a static, operator-edited catalog
// mapping capability names to known-good packages.
type CuratedSource struct {
	entries map[string][]CatalogEntry
}

// CatalogEntry is one known-good package in the curated catalog.
type CatalogEntry struct {
	Package      string   `json:"package"`
	Version      string   `json:"version,omitempty"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Score        float64  `json:"score,omitempty"`
}

// LoadCatalog reads a catalog file. The file is JSONC — comments and
// trailing commas are allowed, since operators edit it by hand:
//
//	{
//	  // memory storage servers
//	  "memory": [
//	    {"package": "pkg-memory-server", "score": 90},
//	  ],
//	}
//
// Every entry is validated against the package-name allow-list at load time;
// a bad name fails the whole load rather than slipping through to install.
func LoadCatalog(path string) (*CuratedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("discovery: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog bytes. See LoadCatalog for the format.
func ParseCatalog(data []byte) (*CuratedSource, error) {
	var entries map[string][]CatalogEntry
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("discovery: parse catalog: %w", err)
	}
	for capability, list := range entries {
		if err := varietyd.ValidateCapability(capability); err != nil {
			return nil, fmt.Errorf("discovery: catalog: %w", err)
		}
		for _, e := range list {
			if err := varietyd.ValidatePackageName(e.Package); err != nil {
				return nil, fmt.Errorf("discovery: catalog %q: %w", capability, err)
			}
			if err := varietyd.ValidateVersion(e.Version); err != nil {
				return nil, fmt.Errorf("discovery: catalog %q: %w", capability, err)
			}
		}
	}
	return &CuratedSource{entries: entries}, nil
}

// Name implements Source.
func (s *CuratedSource) Name() string { return "curated" }

// Discover returns the catalog entries for the capability, in catalog order.
func (s *CuratedSource) Discover(_ context.Context, capability string) ([]varietyd.Candidate, error) {
	list := s.entries[capability]
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]varietyd.Candidate, 0, len(list))
	for _, e := range list {
		caps := e.Capabilities
		if len(caps) == 0 {
			caps = []string{capability}
		}
		out = append(out, varietyd.Candidate{
			PackageName:  e.Package,
			Version:      e.Version,
			Description:  e.Description,
			Capabilities: caps,
			Score:        e.Score,
			Origin:       varietyd.OriginCurated,
		})
	}
	return out, nil
}
