// Package main runs the in-memory HTTP relay that carries offrecord traffic
// between accounts. It queues envelopes for recipients until they fetch and
// acknowledge them.
//
// HTTP API
//
//	POST /msg/{user}
//	    Enqueue an Envelope destined to {user}. A zero Sent time is filled
//	    with the current time.
//
//	GET /msg/{user}?limit=N
//	    Return up to N queued Envelopes for {user}. If limit is absent or
//	    greater than the queue length, all queued envelopes are returned.
//
//	POST /msg/{user}/ack { "count": N }
//	    Drop the first N queued envelopes for {user}. If N exceeds the queue
//	    length, the queue is cleared.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Responses are JSON. Non-2xx statuses carry a short error message.
//   - An access log records method, path, remote, status, bytes and
//     duration for each request.
//   - The default listen address is :8080.
//
// The relay only ever sees OTR-armored text. Whitespace tags, queries and
// error messages are plaintext by nature; everything else is ciphertext.
package main
