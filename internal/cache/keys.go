package cache

import "fmt"

// Key prefixes for Pankha's cached resources.
const (
	PrefixSystems = "systems"
	PrefixLicense = "license"
	PrefixHistory = "history"
)

// SystemsListKey caches the enriched /api/systems listing.
func SystemsListKey() string {
	return fmt.Sprintf("%s:list", PrefixSystems)
}

// SystemKey caches one system's detail payload.
func SystemKey(systemID string) string {
	return fmt.Sprintf("%s:%s", PrefixSystems, systemID)
}

// SystemsPattern invalidates every cached system listing/detail.
func SystemsPattern() string {
	return fmt.Sprintf("%s:*", PrefixSystems)
}

// LicenseDecisionKey caches the current admission decision.
func LicenseDecisionKey() string {
	return fmt.Sprintf("%s:current", PrefixLicense)
}

// HistoryKey caches one system's chart query for a given hour bucket,
// so repeated dashboard polls within the same hour skip the database.
func HistoryKey(systemID string, hoursBack int) string {
	return fmt.Sprintf("%s:%s:%dh", PrefixHistory, systemID, hoursBack)
}
