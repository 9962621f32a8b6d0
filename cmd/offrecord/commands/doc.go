// Package commands defines the offrecord CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init         Create the identity and instance tag for an account
//   - fingerprint  Print our fingerprint and the fingerprints of known contacts
//   - trust        Mark a contact's fingerprint as verified (or not)
//   - instag       Print the account's instance tag
//   - config       Print the effective configuration or write it to disk
//   - chat         Talk to a peer over the relay, privately when possible
//
// # Implementation
//
// The root command loads the configuration file (config.toml under --home by
// default), applies OFFRECORD_* environment overrides and builds the
// dependency graph before any subcommand runs. The passphrase comes from -p
// or OFFRECORD_PASSPHRASE.
package commands
