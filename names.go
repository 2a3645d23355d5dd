package varietyd

import (
	"fmt"
	"regexp"
)

// Allow-list patterns for names that cross the install and discovery
// boundaries. Anything destined for an external command argv or a registry
// query must match here first; there is no escaping path for names that
// don't.
var (
	// capabilityPattern matches capability names: lowercase tokens
	// separated by single hyphens (e.g., "memory", "vector-search").
	capabilityPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	// packagePattern matches npm-style package names, with optional scope.
	packagePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]{0,213}/)?[a-z0-9][a-z0-9._-]{0,213}$`)

	// versionPattern matches version specifiers: "latest" or a plain
	// semver-ish triple with optional prerelease tag. Ranges are not
	// accepted — an install pins exactly what discovery selected.
	versionPattern = regexp.MustCompile(`^(latest|[0-9]+\.[0-9]+\.[0-9]+([0-9A-Za-z.-]*)?)$`)
)

// ValidateCapability checks a capability name against the allow-list.
func ValidateCapability(name string) error {
	if name == "" || !capabilityPattern.MatchString(name) {
		return fmt.Errorf("varietyd: capability name %q does not match allowed pattern", name)
	}
	return nil
}

// ValidatePackageName checks a package name against the allow-list.
func ValidatePackageName(name string) error {
	if name == "" || !packagePattern.MatchString(name) {
		return fmt.Errorf("varietyd: package name %q does not match allowed pattern", name)
	}
	return nil
}

// ValidateVersion checks a version specifier. The empty string is allowed
// and means latest.
func ValidateVersion(version string) error {
	if version == "" {
		return nil
	}
	if !versionPattern.MatchString(version) {
		return fmt.Errorf("varietyd: version %q does not match allowed pattern", version)
	}
	return nil
}
