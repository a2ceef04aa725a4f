// Package config defines settings used by the LightScope update binaries and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the distribution base URL, local artifact and key
// paths, polling and timeout durations, and the restart command contract
// with the service manager. Validate enforces the encrypted-transport
// requirement on the distribution URL and fills defaults for everything else.
package config
