// Package app loads configuration and wires the daemon's dependency graph.
package app
