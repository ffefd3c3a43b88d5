// Package packager runs the incremental deployment workflow.
//
// It lists the changed source paths, classifies them, stages the changed files,
// writes the primary and destructive manifests and archives, and then drives the
// deployment tracks and records the outcome. A PID marker keeps two local runs
// from sharing one output directory.
package packager
