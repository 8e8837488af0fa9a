// ABOUTME: Package records reads processed scholarship applications from disk.
// ABOUTME: Applications live under <root>/<year>/<scholarship>/<application_id>/.

// Package records is the read-only repository behind the data capabilities.
// Each application directory holds the five profile documents produced by
// the extraction pipeline plus optional form data and attachment metadata.
// Loaded applications are cached for a bounded time, and an optional
// filesystem watcher evicts entries whose files change.
package records
