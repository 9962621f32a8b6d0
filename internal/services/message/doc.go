// Package message bridges the conversation manager to a store-and-forward
// relay.
//
// Service implements domain.Handler for one local account. Protocol
// messages the manager injects are queued and posted to the relay by Flush;
// Pump fetches the account's queue, feeds every envelope to the manager and
// acknowledges what it handled. Everything the user should see (messages,
// session changes, SMP prompts) is reported through Config.Notify.
package message
