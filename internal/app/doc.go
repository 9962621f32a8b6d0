// Package app wires application dependencies for the CLI.
//
// It builds the logger, the store and its persistence backend, the relay
// client and the high-level services from a config.Config, exposing them via
// the Wire struct for commands to use. App adds the config loader so policy
// changes in the config file reach live conversations.
package app
