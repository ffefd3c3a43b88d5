// Package config loads, validates and saves the metadeploy settings.
//
// Settings come from a YAML file, while credentials are overlaid from a dotenv
// file and the process environment so they never need to be committed.
package config
