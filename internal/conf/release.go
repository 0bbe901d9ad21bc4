package conf

import (
	"fmt"
	"strings"
)

// Release identifies one generation of the edge worker. The lifecycle
// controller and the cache store derive every partition name from the same
// Release value, so the two never disagree about which caches are current.
type Release struct {
	// Prefix is the application's cache namespace, e.g. "newsroom".
	Prefix string `mapstructure:"prefix" json:"prefix"`
	// Version is the generation tag, e.g. "v2".
	Version string `mapstructure:"version" json:"version"`
	// LegacyPrefixes name caches left behind by earlier naming schemes.
	// Any partition starting with one of them is garbage.
	LegacyPrefixes []string `mapstructure:"legacy_prefixes" json:"legacyPrefixes,omitempty"`
	// SkipWaiting activates a freshly installed release without waiting for
	// an explicit SKIP_WAITING message.
	SkipWaiting bool `mapstructure:"skip_waiting" json:"skipWaiting,omitempty"`
}

// Partition roles.
const (
	RoleShell   = "shell"
	RoleRuntime = "runtime"
	RoleData    = "data"
)

// Roles lists every partition role in a stable order.
var Roles = []string{RoleShell, RoleRuntime, RoleData}

// CacheName returns the versioned partition name for a role.
func (r Release) CacheName(role string) string {
	return fmt.Sprintf("%s-%s-%s", r.Prefix, role, r.Version)
}

// CacheNames returns the partition names owned by this release.
func (r Release) CacheNames() []string {
	names := make([]string, 0, len(Roles))
	for _, role := range Roles {
		names = append(names, r.CacheName(role))
	}
	return names
}

// Owns reports whether name lives in this application's namespace,
// regardless of version.
func (r Release) Owns(name string) bool {
	return strings.HasPrefix(name, r.Prefix+"-")
}

// IsLegacy reports whether name was created under a retired naming scheme.
func (r Release) IsLegacy(name string) bool {
	for _, p := range r.LegacyPrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Tag is the printable identity of the release.
func (r Release) Tag() string {
	return r.Prefix + "@" + r.Version
}

// Validate checks the release is usable for naming partitions.
func (r Release) Validate() error {
	if r.Prefix == "" {
		return fmt.Errorf("release prefix is required")
	}
	if strings.Contains(r.Prefix, " ") {
		return fmt.Errorf("release prefix %q must not contain spaces", r.Prefix)
	}
	if r.Version == "" {
		return fmt.Errorf("release version is required")
	}
	for _, p := range r.LegacyPrefixes {
		if p != "" && strings.HasPrefix(r.Prefix+"-", p) {
			return fmt.Errorf("legacy prefix %q would match current caches", p)
		}
	}
	return nil
}
