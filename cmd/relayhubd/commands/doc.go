// Package commands defines the relayhubd command line.
package commands
