package app

import (
	"net/http"

	"offrecord/internal/services/message"
)

// Options holds runtime wiring inputs that do not belong in the config file.
type Options struct {
	// Home and Account override the config file when set.
	Home    string
	Account string
	// Passphrase unseals the private key file.
	Passphrase string
	// HTTP is used for relay calls; defaults to http.DefaultClient.
	HTTP *http.Client
	// Notify receives chat events; nil logs them.
	Notify func(message.Event)
	// KeyGen, when set, lets a conversation create a missing identity.
	KeyGen bool
}
