// Package wire encodes and classifies protocol messages.
//
// Binary messages are a big-endian header (version, type, sender and
// receiver instance tags) followed by a type-specific payload, armored as
// "?OTR:<base64>." for transport over text channels. The package also knows
// the textual forms that are never armored: query messages, OTR error
// messages, whitespace tags on plaintext, and fragments.
//
// Data messages decrypt to a body of UTF-8 text optionally followed by a NUL
// byte and TLV records (EncodePlaintext, DecodePlaintext).
package wire
