// Package metadata holds the domain model of a source tree change:
// classified components, manifest type buckets, grouped field data,
// the change set, and the immutable classification rules.
package metadata
