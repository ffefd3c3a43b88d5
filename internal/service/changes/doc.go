// Package changes lists the source paths changed between two revisions.
//
// GitSource runs git diff in name-status mode and splits the result into the
// added or modified and the deleted paths, relative to the configured source root.
package changes
