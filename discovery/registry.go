package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/varietylab/varietyd"
)

const (
	defaultRegistryTimeout = 10 * time.Second
	registrySearchLimit    = 10
	maxRegistryBody        = 1 << 20
)

// RegistrySource queries an npm-style registry search endpoint
// (GET <base>/-/v1/search?text=...). Calls go through a circuit breaker so
// a flapping registry degrades to fast local failures instead of stalling
// every acquisition attempt on its timeout.
type RegistrySource struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// RegistryOption configures a RegistrySource.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	client *http.Client
	log    *slog.Logger
}

// WithHTTPClient overrides the HTTP client used for registry requests.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(o *registryOptions) { o.client = c }
}

// WithRegistryLogger sets the logger. Defaults to slog.Default.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(o *registryOptions) { o.log = log }
}

// NewRegistrySource creates a source against the given registry base URL.
func NewRegistrySource(baseURL string, opts ...RegistryOption) *RegistrySource {
	o := registryOptions{
		client: &http.Client{Timeout: defaultRegistryTimeout},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &RegistrySource{
		baseURL: baseURL,
		client:  o.client,
		log:     o.log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "registry-search",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Name implements Source.
func (s *RegistrySource) Name() string { return "registry" }

// searchResult mirrors the registry search response shape.
type searchResult struct {
	Objects []struct {
		Package struct {
			Name        string   `json:"name"`
			Version     string   `json:"version"`
			Description string   `json:"description"`
			Keywords    []string `json:"keywords"`
		} `json:"package"`
		Score struct {
			Final float64 `json:"final"`
		} `json:"score"`
	} `json:"objects"`
}

// Discover searches the registry for packages matching the capability.
// Results whose names fail the package allow-list are dropped: registry
// data is untrusted and nothing from it may reach an install argv
// unvalidated.
func (s *RegistrySource) Discover(ctx context.Context, capability string) ([]varietyd.Candidate, error) {
	raw, err := s.breaker.Execute(func() (any, error) {
		return s.search(ctx, capability)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("discovery: registry circuit open: %w", err)
		}
		return nil, err
	}
	result := raw.(*searchResult)

	out := make([]varietyd.Candidate, 0, len(result.Objects))
	for _, obj := range result.Objects {
		pkg := obj.Package
		if err := varietyd.ValidatePackageName(pkg.Name); err != nil {
			s.log.Warn("registry result dropped", "package", pkg.Name, "error", err)
			continue
		}
		if err := varietyd.ValidateVersion(pkg.Version); err != nil {
			s.log.Warn("registry result dropped", "package", pkg.Name, "error", err)
			continue
		}
		caps := make([]string, 0, len(pkg.Keywords))
		for _, kw := range pkg.Keywords {
			if varietyd.ValidateCapability(kw) == nil {
				caps = append(caps, kw)
			}
		}
		out = append(out, varietyd.Candidate{
			PackageName:  pkg.Name,
			Version:      pkg.Version,
			Description:  pkg.Description,
			Capabilities: caps,
			Score:        obj.Score.Final * 100,
			Origin:       varietyd.OriginRegistry,
		})
	}
	return out, nil
}

func (s *RegistrySource) search(ctx context.Context, text string) (*searchResult, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("size", fmt.Sprint(registrySearchLimit))
	u := s.baseURL + "/-/v1/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: registry request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: registry search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: registry search: unexpected status %d", resp.StatusCode)
	}
	var result searchResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRegistryBody)).Decode(&result); err != nil {
		return nil, fmt.Errorf("discovery: registry response: %w", err)
	}
	return &result, nil
}
