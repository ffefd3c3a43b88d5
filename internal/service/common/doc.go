// Package common holds helpers shared by several services.
//
// It provides a lightweight HTTP client for the remote metadata API with
// per-call timeouts and bearer authentication, and detects the current system
// actor (hostname/username) recorded with every run.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
