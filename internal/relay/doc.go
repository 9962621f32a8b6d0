// Package relay moves raw OTR strings between accounts through a small
// store-and-forward HTTP service.
//
// The relay never sees anything but protocol strings: query messages,
// armored AKE and data messages, fragments, and whatever plaintext the
// sender chose to transmit. This package offers both halves:
//
//   - Client implements domain.RelayClient over HTTP.
//   - Server is the in-memory service run by cmd/relay.
//
// HTTP API
//
//	POST /msg/{user}
//	    Enqueue an Envelope destined to {user}. A zero Sent time is filled in.
//
//	GET /msg/{user}?limit=N
//	    Return up to N queued Envelopes for {user}, oldest first. Without a
//	    limit every queued envelope is returned.
//
//	POST /msg/{user}/ack { "count": N }
//	    Drop the first N queued envelopes for {user}.
//
// All requests are JSON and accept a context for cancellation and deadlines.
// Non-2xx statuses are returned as errors carrying the method, path and
// status text.
package relay
