package varietyd

// SourceOrigin identifies which discovery source produced a candidate.
type SourceOrigin string

const (
	// OriginCurated marks candidates from the static curated catalog.
	OriginCurated SourceOrigin = "curated"

	// OriginRegistry marks candidates from a live registry search.
	OriginRegistry SourceOrigin = "registry"

	// OriginResearch marks candidates from a free-form research step
	// (e.g., a language model suggesting package names).
	OriginResearch SourceOrigin = "research"
)

// Candidate is an externally discovered package believed to implement a
// capability. Candidates are ephemeral — they live for one acquisition
// attempt and are never persisted.
//
// All discovery sources produce this same shape so matching is
// source-agnostic.
type Candidate struct {
	// PackageName is the registry package name (e.g., "mcp-server-memory").
	PackageName string `json:"package_name"`

	// Version is the version to install. Empty means latest.
	Version string `json:"version,omitempty"`

	// Description is the package's own description, if the source had one.
	Description string `json:"description,omitempty"`

	// Capabilities are the capability keywords the source attributes to
	// this package.
	Capabilities []string `json:"capabilities,omitempty"`

	// Score is a source-provided popularity/quality score in [0, 100].
	Score float64 `json:"score"`

	// Origin identifies the discovery source kind.
	Origin SourceOrigin `json:"origin"`
}
