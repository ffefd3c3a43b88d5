// Package manifest renders package and destructive-changes manifests and
// merges per-field descriptor fragments into per-object documents.
//
// Rendering is deterministic: type blocks and members are sorted with
// case-sensitive lexicographic order, so the same bucket contents always
// produce byte-identical output.
package manifest
