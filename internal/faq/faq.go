// Package faq answers queries directly from a curated per-tenant FAQ set.
//
// Each tenant's entries live in <dir>/<tenant>/faq.json. Anchor embeddings
// are computed once and persisted next to the source; the persisted set is
// reused while it is newer than the source and matches it entry for entry.
//
// Per tenant the matcher moves Unloaded -> Loaded(valid) on first lookup,
// Loaded(valid) -> Loaded(stale) when the source changes, and back to
// Loaded(valid) by recomputing every anchor embedding. When the source is
// re-checked is a StalenessPolicy.
package faq

import "errors"

var (
	// ErrNoSource is returned by Files when a tenant has no faq.json.
	// Matcher treats it as a soft miss.
	ErrNoSource = errors.New("faq source not found")

	// ErrInvalidSource indicates faq.json could not be parsed.
	ErrInvalidSource = errors.New("invalid faq source")

	// ErrNoContent is returned by Generator when the tenant has no ingested text.
	ErrNoContent = errors.New("no ingested content to build faq from")

	// ErrInvalidResponse is returned by Generator when the model output is not
	// a usable FAQ document.
	ErrInvalidResponse = errors.New("model returned an invalid faq document")
)

// StalenessPolicy decides when a loaded snapshot is re-checked against its
// source.
type StalenessPolicy string

const (
	// LoadOnce keeps a snapshot until Invalidate is called.
	LoadOnce StalenessPolicy = "load_once"

	// CheckEachLookup stats the source on every lookup.
	CheckEachLookup StalenessPolicy = "check_each_lookup"

	// Watch marks snapshots stale from filesystem notifications.
	Watch StalenessPolicy = "watch"
)

// ParsePolicy converts a config value to a StalenessPolicy.
func ParsePolicy(s string) (StalenessPolicy, error) {
	switch p := StalenessPolicy(s); p {
	case LoadOnce, CheckEachLookup, Watch:
		return p, nil
	case "":
		return CheckEachLookup, nil
	default:
		return "", errors.New("unknown faq staleness policy: " + s)
	}
}
